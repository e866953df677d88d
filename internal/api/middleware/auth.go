package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/edvin/screensync/internal/api/response"
)

// Auth returns a middleware that checks the X-API-Key header against the
// service token. Digests are compared so the check does not leak the token
// length.
func Auth(token string) func(http.Handler) http.Handler {
	want := sha256.Sum256([]byte(token))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing API key")
				return
			}
			got := sha256.Sum256([]byte(key))
			if token == "" || subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
				response.WriteError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
