package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"mercator-hq/ganymede/pkg/config"
	"mercator-hq/ganymede/pkg/proxy/types"
)

// ClientDialect guesses which API family the client speaks from its headers.
// Anthropic SDKs send x-api-key and anthropic-version; everything else is
// treated as OpenAI-compatible.
func ClientDialect(r *http.Request) types.Dialect {
	if r.Header.Get("x-api-key") != "" || r.Header.Get("anthropic-version") != "" {
		return types.DialectAnthropic
	}
	return types.DialectOpenAI
}

// authExempt lists the paths servable without a gateway key: probes and
// scrapes have nowhere to carry one.
func authExempt(path string) bool {
	return path == "/healthz" || path == "/metrics"
}

// AuthMiddleware rejects requests that do not present the configured gateway
// key as either "Authorization: Bearer <key>" or "x-api-key: <key>". The
// comparison is constant-time, and the key is re-read per request so it can
// be rotated without a restart. A missing configured key fails closed.
func AuthMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authExempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			key := cfg.LiveGatewayKey()
			presented := presentedKey(r)
			if key == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				writeUnauthorized(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// presentedKey pulls the client's key from whichever header it used.
// x-api-key wins when both are present; Anthropic SDKs set both, with
// Authorization carrying an unrelated value.
func presentedKey(r *http.Request) string {
	if v := r.Header.Get("x-api-key"); v != "" {
		return v
	}
	auth := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if ClientDialect(r) == types.DialectAnthropic {
		_ = json.NewEncoder(w).Encode(types.NewAnthropicError(types.ErrAuthentication, "invalid gateway key"))
		return
	}
	_ = json.NewEncoder(w).Encode(types.NewOpenAIError(types.ErrAuthentication, "invalid gateway key"))
}
