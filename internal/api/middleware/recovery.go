package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"papertrade/internal/api/handlers"
)

// Recovery - middleware для восстановления после паники в handlers
//
// Перехватывает panic, логирует сообщение и stack trace и отвечает
// клиенту 500 в стандартном формате ErrorResponse. Детали паники
// наружу не отдаются.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					// http.ErrAbortHandler - штатный способ прервать ответ
					if err == http.ErrAbortHandler {
						panic(err)
					}

					logger.Error("panic in http handler",
						zap.String("panic", fmt.Sprint(err)),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()),
					)

					handlers.RespondWithError(w, http.StatusInternalServerError,
						handlers.CodeInternal, "Internal Server Error", "")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
