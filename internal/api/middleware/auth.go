package middleware

import (
	"net/http"
	"strings"

	"papertrade/internal/api/handlers"
	"papertrade/pkg/crypto"
)

// APIKeyHeader - заголовок с API ключом
const APIKeyHeader = "X-API-Key"

// APIKeyAuth - middleware для проверки API ключа
//
// Ключ принимается из:
// - заголовка X-API-Key
// - заголовка Authorization: Bearer <key>
// - query параметра api_key (браузерный WebSocket не умеет ставить заголовки)
//
// Сервер хранит только bcrypt hash ключа (API_KEY_HASH). Если hash
// не задан, verifier выключен и middleware пропускает все запросы
// (локальный запуск). Preflight OPTIONS пропускается без проверки.
func APIKeyAuth(verifier *crypto.KeyVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil || !verifier.Enabled() || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := extractAPIKey(r)
			if key == "" {
				handlers.RespondWithError(w, http.StatusUnauthorized, handlers.CodeUnauthorized, "API key required", "")
				return
			}
			if !verifier.Verify(key) {
				handlers.RespondWithError(w, http.StatusUnauthorized, handlers.CodeUnauthorized, "Invalid API key", "")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func extractAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
			return strings.TrimSpace(auth[len(prefix):])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("api_key"))
}
