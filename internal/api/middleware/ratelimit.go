package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"papertrade/internal/api/handlers"
	"papertrade/pkg/ratelimit"
)

// RateLimit - middleware ограничения частоты запросов по IP клиента
//
// Используется на POST /api/v1/orders. При превышении лимита
// отвечает 429 с заголовком Retry-After в секундах. Preflight
// OPTIONS токены не расходует.
func RateLimit(limiter *ratelimit.KeyedLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			rl := limiter.Get(clientIP(r))
			if !rl.Allow() {
				retry := int(math.Ceil(rl.RetryAfter().Seconds()))
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				handlers.RespondWithError(w, http.StatusTooManyRequests, handlers.CodeRateLimited, "Too many requests", "")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP берёт первый адрес из X-Forwarded-For, иначе RemoteAddr без порта
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		if ip := strings.TrimSpace(fwd); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
