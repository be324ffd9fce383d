package server

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/ssd-technologies/screendawg/internal/blob"
	"github.com/ssd-technologies/screendawg/internal/config"
	"github.com/ssd-technologies/screendawg/internal/crypto"
	"github.com/ssd-technologies/screendawg/internal/ratelimit"
	"github.com/ssd-technologies/screendawg/internal/storage"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.New("").Funcs(template.FuncMap{
	"humanBytes": humanBytes,
	"datetime": func(t time.Time) string {
		return t.UTC().Format("2006-01-02 15:04")
	},
}).ParseFS(templateFS, "templates/*.html"))

// Options wires a Server to its backends. Logger defaults to a no-op logger
// and Sessions to an in-memory store.
type Options struct {
	Config      *config.Config
	Registry    storage.Registry
	Blobs       blob.Store
	Credentials *storage.Credentials
	Sessions    SessionStore
	Logger      *zerolog.Logger
}

// Server is the ScreenDawg HTTP server.
type Server struct {
	cfg      *config.Config
	registry storage.Registry
	blobs    blob.Store
	creds    *storage.Credentials
	sessions SessionStore
	hub      *Hub
	log      zerolog.Logger

	router  *mux.Router
	handler http.Handler

	uploadLimiter *ratelimit.Keyed
	loginLimiter  *ratelimit.Keyed
	proxies       ratelimit.Proxies

	newShortID func() string
}

// New creates a new Server with all routes registered.
func New(opts Options) *Server {
	s := &Server{
		cfg:           opts.Config,
		registry:      opts.Registry,
		blobs:         opts.Blobs,
		creds:         opts.Credentials,
		sessions:      opts.Sessions,
		hub:           NewHub(),
		log:           zerolog.Nop(),
		router:        mux.NewRouter(),
		uploadLimiter: ratelimit.NewKeyed(opts.Config.RateLimit.UploadsPerMinute, time.Minute),
		loginLimiter:  ratelimit.NewKeyed(opts.Config.RateLimit.LoginsPerMinute, time.Minute),
		newShortID:    crypto.ShortID,
	}
	if opts.Logger != nil {
		s.log = *opts.Logger
	}
	proxies, err := ratelimit.ParseProxies(opts.Config.RateLimit.TrustedProxies)
	if err != nil {
		s.log.Warn().Err(err).Msg("ignoring rate_limit.trusted_proxies")
	}
	s.proxies = proxies
	if s.sessions == nil {
		s.sessions = NewMemorySessions()
	}
	s.routes()

	var h http.Handler = s.withIdentity(s.router)
	h = hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	})(h)
	h = withRequestID(h)
	h = hlog.RemoteAddrHandler("ip")(h)
	h = hlog.NewHandler(s.log)(h)
	s.handler = h
	return s
}

// Hub returns the admin event hub.
func (s *Server) Hub() *Hub { return s.hub }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// routes registers all HTTP routes. The short-id catch-all goes last so
// the fixed paths win.
func (s *Server) routes() {
	r := s.router

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/sharex-config.sxcu", s.handleShareXConfig).Methods(http.MethodGet)
	r.HandleFunc("/qr/{shortID}", s.handleQR).Methods(http.MethodGet)

	// Deletes
	r.HandleFunc("/delete/{shortID}", s.handleOwnerDelete).Methods(http.MethodPost)
	r.HandleFunc("/delete-api/{shortID}", s.handleTokenDelete).Methods(http.MethodGet, http.MethodDelete)

	// Admin
	r.HandleFunc("/admin/login", s.handleLoginPage).Methods(http.MethodGet)
	r.HandleFunc("/admin/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/admin/logout", s.handleLogout).Methods(http.MethodGet)
	r.HandleFunc("/admin/events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/admin", s.requireAdmin(s.handleDashboard)).Methods(http.MethodGet)
	r.HandleFunc("/admin/uploads", s.requireAdmin(s.handleAdminUploads)).Methods(http.MethodGet)
	r.HandleFunc("/admin/delete/{shortID}", s.requireAdmin(s.handleAdminDelete)).Methods(http.MethodPost)
	r.HandleFunc("/admin/password", s.requireAdmin(s.handlePasswordPage)).Methods(http.MethodGet)
	r.HandleFunc("/admin/password", s.requireAdmin(s.handlePasswordChange)).Methods(http.MethodPost)

	// Public
	r.HandleFunc("/{shortID}", s.handleResolve).Methods(http.MethodGet)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "screendawg",
	})
}

// withRequestID tags each request with a UUID, echoed in X-Request-Id and
// attached to the request logger.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("req_id", id)
		})
		next.ServeHTTP(w, r)
	})
}

// jsonCaller reports whether the client wants JSON instead of a page:
// API clients that ask for it and ShareX, which never sends Accept.
func jsonCaller(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.Contains(r.UserAgent(), "ShareX")
}

// fail writes an error as JSON or plain text depending on the caller.
func fail(w http.ResponseWriter, asJSON bool, status int, msg string) {
	if asJSON {
		writeError(w, status, msg)
		return
	}
	http.Error(w, msg, status)
}

// render executes a page template into a buffer so a template error can
// still produce a clean 500.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("template", name).Msg("render page")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// shareURL is the public link for a short id.
func (s *Server) shareURL(shortID string) string {
	return s.cfg.BaseURL + "/" + shortID
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
