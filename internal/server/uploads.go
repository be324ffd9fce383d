package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/ssd-technologies/screendawg/internal/blob"
	"github.com/ssd-technologies/screendawg/internal/crypto"
	"github.com/ssd-technologies/screendawg/internal/storage"
)

const (
	formOverhead       = 1 << 20 // room for multipart headers and boundaries
	maxFormMemory      = 8 << 20
	maxShortIDAttempts = 8
)

var errShortIDsExhausted = errors.New("no free short id")

// extByMIME names files that arrive without an extension.
var extByMIME = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/bmp":     ".bmp",
	"image/svg+xml": ".svg",
	"image/x-icon":  ".ico",
	"image/avif":    ".avif",
	"image/tiff":    ".tiff",
}

// uploadView is an Upload as the pages show it.
type uploadView struct {
	storage.Upload
	URL       string
	DirectURL string
	QRURL     string
}

func (s *Server) view(u storage.Upload) uploadView {
	return uploadView{
		Upload:    u,
		URL:       s.shareURL(u.ShortID),
		DirectURL: s.shareURL(u.ShortID) + filepath.Ext(u.StoragePath),
		QRURL:     s.cfg.BaseURL + "/qr/" + u.ShortID,
	}
}

type indexPage struct {
	SiteTitle   string
	MaxUploadMB int
	BaseURL     string
	Uploads     []uploadView
}

// handleIndex handles GET /: the caller's uploads and the upload form.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	owner := identityFrom(r.Context())
	uploads, err := s.registry.ListOwner(owner)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list owner uploads")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	visible := s.visible(r.Context(), uploads)
	views := make([]uploadView, len(visible))
	for i, u := range visible {
		views[i] = s.view(u)
	}
	s.render(w, r, http.StatusOK, "index.html", indexPage{
		SiteTitle:   s.cfg.SiteTitle,
		MaxUploadMB: s.cfg.MaxUploadMB,
		BaseURL:     s.cfg.BaseURL,
		Uploads:     views,
	})
}

// visible drops uploads whose blob is gone and purges their records.
func (s *Server) visible(ctx context.Context, uploads []storage.Upload) []storage.Upload {
	out := make([]storage.Upload, 0, len(uploads))
	for _, u := range uploads {
		ok, err := s.blobs.Exists(ctx, u.StoragePath)
		if err != nil {
			// Unknown is not missing.
			s.log.Warn().Err(err).Str("short_id", u.ShortID).Msg("check blob")
			out = append(out, u)
			continue
		}
		if !ok {
			s.purge(u)
			continue
		}
		out = append(out, u)
	}
	return out
}

func (s *Server) purge(u storage.Upload) {
	if err := s.registry.Purge(u.ShortID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log.Error().Err(err).Str("short_id", u.ShortID).Msg("purge dangling upload")
		return
	}
	s.log.Info().Str("short_id", u.ShortID).Str("path", u.StoragePath).Msg("purged dangling upload")
}

// uploadResponse is returned to JSON callers and ShareX.
type uploadResponse struct {
	ShortID      string `json:"short_id"`
	URL          string `json:"url"`
	DeleteURL    string `json:"delete_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	QRURL        string `json:"qr_url"`
}

// handleUpload handles POST /upload.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	asJSON := jsonCaller(r)
	if !s.uploadLimiter.Allow(s.proxies.ClientIP(r)) {
		fail(w, asJSON, http.StatusTooManyRequests, "too many uploads, try again in a minute")
		return
	}

	limit := s.cfg.MaxUploadBytes()
	tooLarge := fmt.Sprintf("file exceeds the %d MB limit", s.cfg.MaxUploadMB)

	r.Body = http.MaxBytesReader(w, r.Body, limit+formOverhead)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			fail(w, asJSON, http.StatusRequestEntityTooLarge, tooLarge)
			return
		}
		fail(w, asJSON, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		file, header, err = r.FormFile("file")
	}
	if err != nil {
		fail(w, asJSON, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	if header.Size > limit {
		fail(w, asJSON, http.StatusRequestEntityTooLarge, tooLarge)
		return
	}

	mimeType, err := detectMIME(file, header)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("sniff upload")
		fail(w, asJSON, http.StatusInternalServerError, "failed to read upload")
		return
	}
	if !strings.HasPrefix(mimeType, "image/") {
		fail(w, asJSON, http.StatusUnsupportedMediaType, "only image uploads are allowed")
		return
	}

	name := sanitizeFilename(header.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = extByMIME[mimeType]
	}
	if !s.cfg.ExtensionAllowed(ext) {
		shown := ext
		if shown == "" {
			shown = "(none)"
		}
		fail(w, asJSON, http.StatusUnsupportedMediaType, fmt.Sprintf("file type %s is not allowed", shown))
		return
	}

	rec, err := s.storeUpload(r.Context(), file, storage.Upload{
		OwnerID:      identityFrom(r.Context()),
		OriginalName: name,
		MimeType:     mimeType,
		Size:         header.Size,
	}, ext)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("original", name).Msg("store upload")
		fail(w, asJSON, http.StatusInternalServerError, "failed to store upload")
		return
	}

	hlog.FromRequest(r).Info().
		Str("short_id", rec.ShortID).
		Str("owner_id", rec.OwnerID).
		Int64("size", rec.Size).
		Msg("upload stored")
	s.hub.Publish(newEvent(EventUpload, rec))

	if !asJSON {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{
		ShortID:      rec.ShortID,
		URL:          s.shareURL(rec.ShortID),
		DeleteURL:    s.cfg.BaseURL + "/delete-api/" + rec.ShortID + "?token=" + rec.DeleteToken,
		ThumbnailURL: s.shareURL(rec.ShortID) + ext,
		QRURL:        s.cfg.BaseURL + "/qr/" + rec.ShortID,
	})
}

// detectMIME trusts the part's declared type unless it is missing or
// generic, in which case the first 512 bytes are sniffed.
func detectMIME(file multipart.File, header *multipart.FileHeader) (string, error) {
	declared := header.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
		return strings.ToLower(mt), nil
	}

	buf := make([]byte, 512)
	n, err := io.ReadFull(file, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read head: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind: %w", err)
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(buf[:n]))
	return mt, nil
}

// storeUpload picks a free short id, writes the blob and registers the
// record. A short id that turns out to be taken by a concurrent upload is
// retried with a fresh one.
func (s *Server) storeUpload(ctx context.Context, src multipart.File, rec storage.Upload, ext string) (*storage.Upload, error) {
	for attempt := 0; attempt < maxShortIDAttempts; attempt++ {
		id := s.newShortID()
		if _, err := s.registry.Find(id); err == nil {
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}

		if _, err := src.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind upload: %w", err)
		}
		rec.ShortID = id
		stored, err := s.persist(ctx, src, rec, ext)
		if errors.Is(err, blob.ErrExist) || errors.Is(err, storage.ErrDuplicate) {
			continue
		}
		return stored, err
	}
	return nil, errShortIDsExhausted
}

func (s *Server) persist(ctx context.Context, src io.Reader, rec storage.Upload, ext string) (*storage.Upload, error) {
	now := time.Now()
	key := blob.MonthKey(now, rec.ShortID+ext)

	sum := crypto.ChecksumWriter()
	if err := s.blobs.Put(ctx, key, io.TeeReader(src, sum), rec.Size, rec.MimeType); err != nil {
		return nil, err
	}

	rec.StoragePath = key
	rec.Checksum = sum.Sum()
	rec.CreatedAt = now.UnixMilli()
	rec.DeleteToken = crypto.DeleteToken()

	if err := s.registry.Insert(&rec); err != nil {
		if derr := s.blobs.Delete(ctx, key); derr != nil {
			s.log.Warn().Err(derr).Str("path", key).Msg("remove orphaned blob")
		}
		return nil, fmt.Errorf("register upload: %w", err)
	}
	return &rec, nil
}
