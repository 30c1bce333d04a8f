package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth rejects requests that do not carry apiKey as a Bearer token or in
// X-API-Key. Safe methods (GET, HEAD, OPTIONS) and the exempt paths pass
// through. An empty apiKey disables the check.
func Auth(apiKey string, exempt ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || isSafeMethod(r.Method) || isExempt(r.URL.Path, exempt) {
				next.ServeHTTP(w, r)
				return
			}
			if !validToken(r, apiKey) {
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireKey guards a single handler with key regardless of method. An empty
// key rejects every request, so admin routes stay closed until configured.
func RequireKey(key string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if key == "" || !validToken(r, key) {
			writeUnauthorized(w)
			return
		}
		next(w, r)
	}
}

func validToken(r *http.Request, key string) bool {
	token := extractToken(r)
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1
}

// extractToken reads "Authorization: Bearer <token>" or X-API-Key.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func isSafeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}

func isExempt(path string, exempt []string) bool {
	for _, p := range exempt {
		if path == p {
			return true
		}
	}
	return false
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}
