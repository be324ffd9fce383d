package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/ssd-technologies/screendawg/internal/storage"
)

// deleteUpload removes the blob, then the record, counting the deletion.
// A blob that is already gone is fine.
func (s *Server) deleteUpload(ctx context.Context, rec *storage.Upload) error {
	if err := s.blobs.Delete(ctx, rec.StoragePath); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	removed, err := s.registry.Remove(rec.ShortID)
	if err != nil {
		return fmt.Errorf("remove record: %w", err)
	}
	s.hub.Publish(newEvent(EventDelete, removed))
	return nil
}

// handleOwnerDelete handles POST /delete/{shortID}. Only the identity that
// uploaded the image may delete it this way; anything else is a silent no-op.
func (s *Server) handleOwnerDelete(w http.ResponseWriter, r *http.Request) {
	id := shortIDFrom(r)
	owner := identityFrom(r.Context())

	rec, err := s.registry.Find(id)
	if err == nil && rec.OwnerID == owner {
		if err := s.deleteUpload(r.Context(), rec); err != nil && !errors.Is(err, storage.ErrNotFound) {
			hlog.FromRequest(r).Error().Err(err).Str("short_id", id).Msg("owner delete")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		hlog.FromRequest(r).Info().Str("short_id", id).Msg("deleted by owner")
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type deletedPage struct {
	SiteTitle string
	ShortID   string
}

// handleTokenDelete handles DELETE and GET /delete-api/{shortID}?token=.
func (s *Server) handleTokenDelete(w http.ResponseWriter, r *http.Request) {
	asJSON := r.Method == http.MethodDelete || jsonCaller(r)
	id := shortIDFrom(r)

	token := r.URL.Query().Get("token")
	if token == "" {
		fail(w, asJSON, http.StatusBadRequest, "delete token is required")
		return
	}

	rec, err := s.registry.Find(id)
	if errors.Is(err, storage.ErrNotFound) {
		fail(w, asJSON, http.StatusNotFound, "image not found")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("short_id", id).Msg("find upload")
		fail(w, asJSON, http.StatusInternalServerError, "internal server error")
		return
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(rec.DeleteToken)) != 1 {
		hlog.FromRequest(r).Warn().Str("short_id", id).Msg("delete token mismatch")
		fail(w, asJSON, http.StatusForbidden, "invalid delete token")
		return
	}

	if err := s.deleteUpload(r.Context(), rec); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			fail(w, asJSON, http.StatusNotFound, "image not found")
			return
		}
		hlog.FromRequest(r).Error().Err(err).Str("short_id", id).Msg("token delete")
		fail(w, asJSON, http.StatusInternalServerError, "internal server error")
		return
	}
	hlog.FromRequest(r).Info().Str("short_id", id).Msg("deleted by token")

	if asJSON {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "deleted",
			"short_id": id,
		})
		return
	}
	s.render(w, r, http.StatusOK, "deleted.html", deletedPage{SiteTitle: s.cfg.SiteTitle, ShortID: id})
}
