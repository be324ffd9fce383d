package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"
	"github.com/skip2/go-qrcode"

	"github.com/ssd-technologies/screendawg/internal/blob"
	"github.com/ssd-technologies/screendawg/internal/storage"
)

const qrSize = 256

// sanitizeFilename strips directory traversal, quotes, and CR/LF from a filename
// to prevent Content-Disposition header injection attacks.
func sanitizeFilename(name string) string {
	// Normalize backslash separators (Windows-style paths) before calling filepath.Base.
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(name)
	name = strings.NewReplacer(`"`, "", "\r", "", "\n", "").Replace(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "image"
	}
	return name
}

// shortIDFrom reads the {shortID} route variable, tolerating a trailing
// extension so "/k3j9x0a.png" resolves like "/k3j9x0a".
func shortIDFrom(r *http.Request) string {
	raw := mux.Vars(r)["shortID"]
	return strings.TrimSuffix(raw, path.Ext(raw))
}

// externalReferer reports whether a view came from outside the site. An
// empty Referer (direct link, chat preview) counts as external.
func (s *Server) externalReferer(r *http.Request) bool {
	ref := r.Referer()
	return ref != s.cfg.BaseURL && !strings.HasPrefix(ref, s.cfg.BaseURL+"/")
}

const imageCSP = "default-src 'none'; style-src 'unsafe-inline'; sandbox"

// handleResolve handles GET /{shortID}: stream the image behind a short link.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := shortIDFrom(r)
	rec, err := s.registry.Find(id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "image not found", http.StatusNotFound)
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("short_id", id).Msg("find upload")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	obj, err := s.blobs.Open(r.Context(), rec.StoragePath)
	if errors.Is(err, blob.ErrNotExist) {
		s.purge(*rec)
		http.Error(w, "image not found", http.StatusNotFound)
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("short_id", id).Msg("open blob")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer obj.Close()

	if s.externalReferer(r) {
		if err := s.registry.IncrementViews(rec.ShortID); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Str("short_id", id).Msg("count view")
		} else {
			s.hub.Publish(newEvent(EventView, rec))
		}
	}

	contentType := rec.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	etag := `"` + rec.Checksum + `"`

	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Cache-Control", "public, max-age=31536000, immutable")
	h.Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, sanitizeFilename(rec.OriginalName)))
	// SVG uploads can carry script. Nothing served here may run or be re-sniffed.
	h.Set("Content-Security-Policy", imageCSP)
	h.Set("X-Content-Type-Options", "nosniff")
	if rec.Checksum != "" {
		h.Set("ETag", etag)
	}

	if rs, ok := obj.(io.ReadSeeker); ok {
		http.ServeContent(w, r, "", rec.Created(), rs)
		return
	}

	if rec.Checksum != "" && r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if size := obj.Info().Size; size > 0 {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
	}
	h.Set("Last-Modified", rec.Created().UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj); err != nil {
		hlog.FromRequest(r).Debug().Err(err).Str("short_id", id).Msg("stream blob")
	}
}

// handleQR handles GET /qr/{shortID}: a PNG QR code of the share URL.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	id := shortIDFrom(r)
	if _, err := s.registry.Find(id); err != nil {
		http.Error(w, "image not found", http.StatusNotFound)
		return
	}

	png, err := qrcode.Encode(s.shareURL(id), qrcode.Medium, qrSize)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("short_id", id).Msg("encode qr")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(png)
}
