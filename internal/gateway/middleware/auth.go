// Package middleware holds the gateway's per-request guards: API key
// authentication and per-key rate limiting.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/internal/auth/apikey"
	apperrors "github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/pdf-rag-qa/pkg/logger"
)

type contextKey string

const apiKeyInfoKey contextKey = "api_key_info"

// APIKeyHeader carries the caller's key. "Authorization: Bearer <key>" is
// accepted as well.
const APIKeyHeader = "X-API-Key"

// Auth rejects requests without a valid API key with 401. The browser UI at
// GET / and the health endpoints are public.
func Auth(store apikey.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r) {
				next.ServeHTTP(w, r)
				return
			}

			key := extractAPIKey(r)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "missing api key")
				return
			}
			info, err := store.Validate(r.Context(), key)
			if err != nil {
				if errors.Is(err, apperrors.ErrUnauthorized) {
					writeError(w, http.StatusUnauthorized, "invalid or expired api key")
					return
				}
				logger.FromContext(r.Context()).Error("api key lookup failed", "error", err)
				writeError(w, http.StatusInternalServerError, "authentication error")
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyInfoKey, info)
			ctx = logger.WithKeyName(ctx, info.Name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetKeyInfo returns the KeyInfo stored by Auth, or nil.
func GetKeyInfo(ctx context.Context) *apikey.KeyInfo {
	info, _ := ctx.Value(apiKeyInfoKey).(*apikey.KeyInfo)
	return info
}

func isPublic(r *http.Request) bool {
	if r.URL.Path == "/health" || strings.HasPrefix(r.URL.Path, "/health/") {
		return true
	}
	return r.URL.Path == "/" && (r.Method == http.MethodGet || r.Method == http.MethodHead)
}

func extractAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
