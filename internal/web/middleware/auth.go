package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JonMunkholm/BridgeIntake/internal/config"
	"github.com/JonMunkholm/BridgeIntake/internal/core"
)

// ActorHeader names the acting user when API keys are not required.
const ActorHeader = "X-Actor"

// APIKeyAuth validates the X-API-Key header against configured keys and
// records the caller as the audit actor.
//
// Keys are configured as "name=key" or a bare "key". A named key makes
// name the actor; a bare key uses the X-Actor header, or "api".
// If RequireAPIKey is false every request passes and X-Actor is trusted.
// If RequireAPIKey is true but no keys are configured, all requests are rejected.
func APIKeyAuth(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	keys := parseKeys(cfg.APIKeys)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RequireAPIKey {
				next.ServeHTTP(w, r.WithContext(core.ContextWithActor(r.Context(), r.Header.Get(ActorHeader))))
				return
			}

			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				slog.Warn("auth: missing API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				http.Error(w, `{"error":"missing API key","code":"AUTH_MISSING_KEY"}`, http.StatusUnauthorized)
				return
			}

			name, ok := matchKey(apiKey, keys)
			if !ok {
				slog.Warn("auth: invalid API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				http.Error(w, `{"error":"invalid API key","code":"AUTH_INVALID_KEY"}`, http.StatusForbidden)
				return
			}
			if name == "" {
				name = r.Header.Get(ActorHeader)
			}
			if name == "" {
				name = "api"
			}

			next.ServeHTTP(w, r.WithContext(core.ContextWithActor(r.Context(), name)))
		})
	}
}

type apiKey struct {
	name string
	key  []byte
}

func parseKeys(raw []string) []apiKey {
	out := make([]apiKey, 0, len(raw))
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, key, found := strings.Cut(entry, "=")
		if !found {
			name, key = "", entry
		}
		out = append(out, apiKey{name: strings.TrimSpace(name), key: []byte(strings.TrimSpace(key))})
	}
	return out
}

// matchKey compares against every key in constant time so the comparison
// time does not depend on which key matches.
func matchKey(key string, keys []apiKey) (string, bool) {
	var name string
	valid := 0
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(key), k.key) == 1 {
			valid = 1
			name = k.name
		}
	}
	return name, valid == 1
}
