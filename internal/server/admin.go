package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/hlog"

	"github.com/ssd-technologies/screendawg/internal/crypto"
	"github.com/ssd-technologies/screendawg/internal/storage"
)

const (
	loginPath     = "/admin/login"
	recentUploads = 5
)

// adminFrom resolves the admin session cookie to a username.
func (s *Server) adminFrom(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return "", false
	}
	id, ok := verifySession(s.cfg.SessionSecret, c.Value)
	if !ok {
		return "", false
	}
	username, err := s.sessions.Lookup(r.Context(), id)
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			hlog.FromRequest(r).Error().Err(err).Msg("session lookup")
		}
		return "", false
	}
	return username, true
}

// requireAdmin redirects to the login page unless the request carries a
// live admin session.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, ok := s.adminFrom(r)
		if !ok {
			http.Redirect(w, r, loginPath, http.StatusSeeOther)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), adminKey, username)))
	}
}

func adminUser(ctx context.Context) string {
	u, _ := ctx.Value(adminKey).(string)
	return u
}

func (s *Server) setSessionCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    value,
		Path:     "/admin",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   strings.HasPrefix(s.cfg.BaseURL, "https://"),
		SameSite: http.SameSiteLaxMode,
	})
}

// --- Login / logout ---

type loginPage struct {
	SiteTitle string
	Username  string
	Error     string
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.adminFrom(r); ok {
		http.Redirect(w, r, "/admin", http.StatusSeeOther)
		return
	}
	s.render(w, r, http.StatusOK, "login.html", loginPage{SiteTitle: s.cfg.SiteTitle})
}

// handleLogin handles POST /admin/login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.loginLimiter.Allow(s.proxies.ClientIP(r)) {
		s.render(w, r, http.StatusTooManyRequests, "login.html", loginPage{
			SiteTitle: s.cfg.SiteTitle,
			Error:     "too many login attempts, try again in a minute",
		})
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")

	cred, err := s.creds.Get(username)
	if err != nil || !crypto.VerifyEncoded(password, cred.PasswordHash) {
		hlog.FromRequest(r).Warn().Str("username", username).Msg("failed admin login")
		s.render(w, r, http.StatusUnauthorized, "login.html", loginPage{
			SiteTitle: s.cfg.SiteTitle,
			Username:  username,
			Error:     "invalid username or password",
		})
		return
	}

	ttl := s.cfg.Sessions.TTL.Duration
	id, err := s.sessions.Create(r.Context(), cred.Username, ttl)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("create session")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	s.setSessionCookie(w, signSession(s.cfg.SessionSecret, id), int(ttl.Seconds()))
	hlog.FromRequest(r).Info().Str("username", cred.Username).Msg("admin logged in")
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

// handleLogout handles GET /admin/logout.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if id, ok := verifySession(s.cfg.SessionSecret, c.Value); ok {
			if err := s.sessions.Destroy(r.Context(), id); err != nil {
				hlog.FromRequest(r).Error().Err(err).Msg("destroy session")
			}
		}
	}
	s.setSessionCookie(w, "", -1)
	http.Redirect(w, r, loginPath, http.StatusSeeOther)
}

// --- Dashboard ---

// allVisible collects every upload whose blob still exists, newest first,
// and the number of distinct owners among them.
func (s *Server) allVisible(ctx context.Context) ([]storage.Upload, int, error) {
	var all []storage.Upload
	err := s.registry.ForEachOwner(func(_ string, uploads []storage.Upload) error {
		all = append(all, uploads...)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	all = s.visible(ctx, all)
	storage.SortNewestFirst(all)

	owners := make(map[string]struct{})
	for _, u := range all {
		owners[u.OwnerID] = struct{}{}
	}
	return all, len(owners), nil
}

// Stats is the dashboard summary.
type Stats struct {
	Uploads    int
	Views      int64
	Deletions  int64
	Owners     int
	TotalBytes int64
}

type dashboardPage struct {
	SiteTitle string
	Admin     string
	Stats     Stats
	Recent    []uploadView
}

// handleDashboard handles GET /admin.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	all, owners, err := s.allVisible(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("collect uploads")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	deleted, err := s.registry.Deleted()
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("read deleted counter")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	stats := Stats{Uploads: len(all), Deletions: deleted, Owners: owners}
	for _, u := range all {
		stats.Views += u.Views
		stats.TotalBytes += u.Size
	}

	recent := make([]uploadView, 0, recentUploads)
	for i := 0; i < len(all) && i < recentUploads; i++ {
		recent = append(recent, s.view(all[i]))
	}

	s.render(w, r, http.StatusOK, "dashboard.html", dashboardPage{
		SiteTitle: s.cfg.SiteTitle,
		Admin:     adminUser(r.Context()),
		Stats:     stats,
		Recent:    recent,
	})
}

type uploadsPage struct {
	SiteTitle string
	Uploads   []uploadView
	Total     int
	Page      int
	Pages     int
	PrevPage  int
	NextPage  int
}

// handleAdminUploads handles GET /admin/uploads?page=N.
func (s *Server) handleAdminUploads(w http.ResponseWriter, r *http.Request) {
	all, _, err := s.allVisible(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("collect uploads")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	size := s.cfg.Admin.PageSize
	pages := (len(all) + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}

	start := (page - 1) * size
	end := min(start+size, len(all))
	views := make([]uploadView, 0, end-start)
	for _, u := range all[start:end] {
		views = append(views, s.view(u))
	}

	data := uploadsPage{
		SiteTitle: s.cfg.SiteTitle,
		Uploads:   views,
		Total:     len(all),
		Page:      page,
		Pages:     pages,
	}
	if page > 1 {
		data.PrevPage = page - 1
	}
	if page < pages {
		data.NextPage = page + 1
	}
	s.render(w, r, http.StatusOK, "uploads.html", data)
}

// handleAdminDelete handles POST /admin/delete/{shortID}: forced delete of
// any upload.
func (s *Server) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	id := shortIDFrom(r)
	rec, err := s.registry.Find(id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "image not found", http.StatusNotFound)
		return
	}
	if err == nil {
		err = s.deleteUpload(r.Context(), rec)
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("short_id", id).Msg("admin delete")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	hlog.FromRequest(r).Info().Str("short_id", id).Str("admin", adminUser(r.Context())).Msg("deleted by admin")
	http.Redirect(w, r, "/admin/uploads", http.StatusSeeOther)
}

// --- Password change ---

type passwordPage struct {
	SiteTitle string
	Error     string
	Success   string
}

func (s *Server) handlePasswordPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "password.html", passwordPage{SiteTitle: s.cfg.SiteTitle})
}

// handlePasswordChange handles POST /admin/password.
func (s *Server) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	username := adminUser(r.Context())
	current := r.FormValue("current_password")
	next := r.FormValue("new_password")
	confirm := r.FormValue("confirm_password")

	reject := func(msg string) {
		s.render(w, r, http.StatusBadRequest, "password.html", passwordPage{SiteTitle: s.cfg.SiteTitle, Error: msg})
	}

	cred, err := s.creds.Get(username)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("username", username).Msg("load credential")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if !crypto.VerifyEncoded(current, cred.PasswordHash) {
		reject("current password is incorrect")
		return
	}
	if next != confirm {
		reject("new passwords do not match")
		return
	}
	if err := crypto.CheckPasswordStrength(next); err != nil {
		reject(err.Error())
		return
	}

	cred.PasswordHash = crypto.EncodePassword(next)
	if err := s.creds.Put(*cred); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("username", username).Msg("store credential")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	hlog.FromRequest(r).Info().Str("username", username).Msg("admin password changed")
	s.render(w, r, http.StatusOK, "password.html", passwordPage{SiteTitle: s.cfg.SiteTitle, Success: "password updated"})
}
