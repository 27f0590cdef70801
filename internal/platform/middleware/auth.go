package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"approvalgate/pkg/requestcontext"
)

// ClientIDFromKey derives the tenant identity from an API key. The derivation
// is deterministic so the same credential always scopes to the same resources,
// and truncated so the raw key never appears in stored rows or logs.
func ClientIDFromKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])[:12]
}

// RequireAPIKey validates the bearer credential against the configured key set
// and injects the derived client id into the request context. Every resource
// access downstream is scoped by that id.
func RequireAPIKey(apiKeys []string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if len(apiKeys) == 0 {
				logger.ErrorContext(ctx, "no API keys configured",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeAuthError(w, http.StatusInternalServerError, "no API keys configured")
				return
			}

			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing credential",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeAuthError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
				return
			}

			if !keyConfigured(apiKeys, token) {
				logger.WarnContext(ctx, "unauthorized access - unknown credential",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeAuthError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			ctx = requestcontext.WithClientID(ctx, ClientIDFromKey(token))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func keyConfigured(apiKeys []string, candidate string) bool {
	match := false
	for _, key := range apiKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(candidate)) == 1 {
			match = true
		}
	}
	return match
}

func writeAuthError(w http.ResponseWriter, status int, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
