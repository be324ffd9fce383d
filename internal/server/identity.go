package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/ssd-technologies/screendawg/internal/storage"
)

const (
	identityCookie = "user_id"
	identityMaxAge = 365 * 24 * 60 * 60
)

type ctxKey int

const (
	identityKey ctxKey = iota
	adminKey
)

// withIdentity makes sure every browser carries a user_id cookie. The id is
// an unauthenticated capability: whoever holds it owns its uploads.
func (s *Server) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(identityCookie); err == nil && c.Value != "" && c.Value != storage.MetaKey {
			id = c.Value
		} else {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     identityCookie,
				Value:    id,
				Path:     "/",
				MaxAge:   identityMaxAge,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

// identityFrom returns the client identity stored by withIdentity.
func identityFrom(ctx context.Context) string {
	id, _ := ctx.Value(identityKey).(string)
	return id
}
