// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
)

// TokenHeader は共有トークンを運ぶリクエストヘッダー。
const TokenHeader = "x-api-token"

// DeniedMessage はトークン不一致時のレスポンス本文。
const DeniedMessage = "❌ Acesso negado. Token inválido."

// AuthRecorder は認証拒否を記録する。metrics.Collector が実装する。
type AuthRecorder interface {
	RecordAuthRejection()
}

// NewTokenAuthMiddleware はx-api-tokenヘッダーを設定済みトークンと照合するミドルウェアを返す。
// 大文字小文字を区別し、前後の空白も取り除かない完全一致のみを許可する。
// 不一致・未指定の場合は403を返して後続のハンドラーを一切呼ばない。
// 拒否時は監査ログを出力するが、提示されたトークンと期待値は記録しない。
func NewTokenAuthMiddleware(expected string, recorder AuthRecorder) func(next http.Handler) http.Handler {
	want := []byte(expected)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(TokenHeader)
			if len(want) == 0 || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				slog.Warn("access denied",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", clientIP(r)),
					slog.Bool("token_present", got != ""),
				)
				if recorder != nil {
					recorder.RecordAuthRejection()
				}
				WriteText(w, http.StatusForbidden, DeniedMessage)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP はRemoteAddrからホスト部を取り出す。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
