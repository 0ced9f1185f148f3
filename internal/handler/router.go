// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/wabridge/internal/metrics"
	"github.com/hitoshi/wabridge/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	APIToken          string
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// メトリクス（nilの場合は記録も /metrics も無効）
	Metrics  metrics.MetricsCollector
	Gatherer prometheus.Gatherer

	// コマンドゲートウェイ
	Gateway GatewayServiceInterface

	// 通知・QR
	Hub        SubscriberHub
	Challenges ChallengeSource
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → TokenAuth → RateLimit
//
// トークン検証はすべてのルートに適用する。CORSのプリフライトのみ検証前に応答する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		authRecorder   middleware.AuthRecorder
		statusRecorder middleware.StatusRecorder
	)
	if deps.Metrics != nil {
		authRecorder = deps.Metrics
		statusRecorder = deps.Metrics
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, statusRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewTokenAuthMiddleware(deps.APIToken, authRecorder))
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.Middleware())
	}

	gatewayHandler := NewGatewayHandler(deps.Gateway)

	// コマンド
	r.Get("/status", gatewayHandler.Status)
	r.Get("/enviar", gatewayHandler.Send)
	r.Get("/chats", gatewayHandler.Chats)
	r.Get("/mensagens", gatewayHandler.Messages)

	// 通知チャネル
	if deps.Hub != nil {
		r.Get("/ws", NewSocketHandler(deps.Hub, logger).Subscribe)
	}
	if deps.Challenges != nil {
		r.Get("/qr", NewQRHandler(deps.Challenges, logger).Image)
	}

	// 運用
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	return r
}
