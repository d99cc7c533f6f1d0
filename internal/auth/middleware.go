// Package auth checks the shared X-API-KEY secret.
package auth

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/af-corp/pplx-bridge/internal/httputil"
)

const (
	HeaderName = "X-API-KEY"
	// QueryParam carries the key on WebSocket upgrades, where browsers cannot
	// set headers.
	QueryParam = "api_key"
)

// DefaultPublicPaths need no key.
var DefaultPublicPaths = []string{"/health", "/models"}

// Middleware rejects requests without the shared secret, except for the
// exact paths in publicPaths.
func Middleware(secret string, publicPaths []string) func(http.Handler) http.Handler {
	public := make(map[string]struct{}, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := public[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			reqID := httputil.RequestIDFrom(r.Context())
			client := httputil.ClientIP(r)

			key, via := r.Header.Get(HeaderName), "header"
			if key == "" && websocket.IsWebSocketUpgrade(r) {
				key, via = r.URL.Query().Get(QueryParam), "query"
			}
			if key == "" {
				slog.Warn("auth failed: missing key", "client", client, "path", r.URL.Path, "request_id", reqID)
				httputil.WriteAuthError(w, reqID, "Missing API key. Use: X-API-KEY: <secret>")
				return
			}
			if !secretMatches(secret, key) {
				slog.Warn("auth failed: invalid key", "client", client, "key_fingerprint", Fingerprint(key), "request_id", reqID)
				httputil.WriteAuthError(w, reqID, "Invalid API key")
				return
			}

			info := &AuthInfo{Client: client, KeyFingerprint: Fingerprint(key), Via: via}
			next.ServeHTTP(w, r.WithContext(ContextWithAuth(r.Context(), info)))
		})
	}
}
