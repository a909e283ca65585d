// Package middleware - HTTP middleware управляющего API:
// recovery, логирование запросов, CORS и Basic-аутентификация.
package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"cryptoarb/pkg/utils"
)

// Recovery перехватывает панику в handlers и возвращает 500,
// не роняя процесс. Stack trace уходит в лог.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				utils.Error("panic in http handler",
					zap.Any("panic", err),
					zap.String("path", r.URL.Path),
					zap.String("stack", string(debug.Stack())))

				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
