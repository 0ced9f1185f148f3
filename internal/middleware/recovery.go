package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// PanicMessage はpanic発生時のレスポンス本文。
const PanicMessage = "❌ Erro interno do servidor."

// NewRecoveryMiddleware はpanic発生時にプロセスクラッシュを防ぎ、
// 500レスポンスを返すミドルウェアを生成する。
func NewRecoveryMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					slog.Error("panic recovered",
						slog.Any("panic", rec),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("stack", string(debug.Stack())),
					)
					WriteText(w, http.StatusInternalServerError, PanicMessage)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
