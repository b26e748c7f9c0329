// Package middleware provides HTTP middleware for the companion API.
package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Ray-Gabe/gabe1-spiritual-app/internal/identity"
)

// preflightMaxAge lets browsers cache a preflight for ten minutes.
const preflightMaxAge = 10 * 60

// corsAllowHeaders are the request headers the chat shell sends: JSON bodies,
// the per-tab session header and Last-Event-ID when an EventSource reconnects.
var corsAllowHeaders = strings.Join([]string{
	"Content-Type",
	"Last-Event-ID",
	identity.SessionHeaderName,
}, ", ")

// CORS answers cross-origin requests from a frontend served elsewhere (a dev
// server, usually). Credentials are allowed only for origins listed
// explicitly: the anonymous identity cookie must never be readable by an
// origin admitted through "*".
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	explicit := make(map[string]bool, len(allowedOrigins))
	wildcard := false
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
			continue
		}
		explicit[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")

			if origin != "" && (explicit[origin] || wildcard) {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Max-Age", strconv.Itoa(preflightMaxAge))
				if explicit[origin] {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
