package a2a

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/harunnryd/k8sai/internal/observability"
	"github.com/harunnryd/k8sai/pkg/apikey"
)

// unauthenticatedPaths are reachable without a key: discovery and
// liveness. Everything else requires a bearer key.
var unauthenticatedPaths = map[string]bool{
	"/.well-known/agent.json": true,
	"/agent-card.json":        true,
	"/health":                 true,
}

// AuthMiddleware enforces bearer authentication against the key store.
// Failures are reported as HTTP 401 carrying a JSON-RPC error envelope
// with data.auth_error set, so RPC clients surface them uniformly.
func AuthMiddleware(store *apikey.Store, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if unauthenticatedPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			observability.RecordAuthAttempt("missing")
			writeAuthError(w, CodeMissingAuthHeader, "Missing Authorization header")
			return
		}

		key := strings.TrimPrefix(header, "Bearer ")
		if key == header || !store.Validate(key) {
			observability.RecordAuthAttempt("invalid")
			observability.RecordAuthAudit(r.Context(), "bearer_rejected", "", "denied",
				map[string]interface{}{"path": r.URL.Path})
			log.Warn().Str("path", r.URL.Path).Msg("Rejected request with invalid API key")
			writeAuthError(w, CodeInvalidAPIKey, "Invalid API key")
			return
		}

		observability.RecordAuthAttempt("ok")
		store.Touch(key)
		next.ServeHTTP(w, r)
	})
}

func writeAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(NewAuthErrorResponse(code, message))
}
