package middleware

import (
	"net/http"
	"os"
	"strings"
)

// allowedOrigin is read once per request so tests can flip the env var.
// The wildcard default suits a form builder frontend on another origin;
// credentials are never combined with it.
func allowedOrigin() string {
	if v := strings.TrimSpace(os.Getenv("FORMLANE_ALLOWED_ORIGIN")); v != "" {
		return v
	}
	return "*"
}

// CORS handles cross-origin requests from the form builder and from
// embedded response widgets, including OPTIONS preflight.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowedOrigin())
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
