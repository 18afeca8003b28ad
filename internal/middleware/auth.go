package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// publicPaths are reachable without credentials.
var publicPaths = map[string]bool{
	"/health": true,
}

// APIKeyAuth is HTTP middleware that checks the Authorization header
// against a bcrypt hash of the shared API key. An empty hash disables
// authentication entirely.
//
// Clients send "Authorization: Bearer <key>". WebSocket clients, which
// cannot set headers from a browser, may send "?api_key=<key>" instead.
func APIKeyAuth(apiKeyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKeyHash == "" || publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key := bearerToken(r)
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key == "" {
				unauthorized(w, "missing API key")
				return
			}

			if err := bcrypt.CompareHashAndPassword([]byte(apiKeyHash), []byte(key)); err != nil {
				unauthorized(w, "invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
