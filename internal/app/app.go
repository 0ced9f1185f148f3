package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/net/netutil"

	"github.com/hitoshi/wabridge/internal/config"
	"github.com/hitoshi/wabridge/internal/database"
	"github.com/hitoshi/wabridge/internal/gateway"
	"github.com/hitoshi/wabridge/internal/handler"
	"github.com/hitoshi/wabridge/internal/logger"
	"github.com/hitoshi/wabridge/internal/metrics"
	"github.com/hitoshi/wabridge/internal/middleware"
	"github.com/hitoshi/wabridge/internal/notify"
	"github.com/hitoshi/wabridge/internal/qr"
	"github.com/hitoshi/wabridge/internal/session"
	"github.com/hitoshi/wabridge/internal/whatsapp"
)

const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルで再初期化
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}
	logger.SetupDefault(w, level)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	// healthcheck は軽量サブコマンドのため、起動ログも出さない
	if cmd == CommandHealthcheck {
		return runHealthcheck(cfg.ServerPort, cfg.APIToken)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("store_dialect", cfg.StoreDialect),
	)
	if cfg.UsesDefaultToken() {
		slog.Warn("API_TOKEN is not set; using the built-in default token")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runServe(ctx, cfg)
}

// runServe はリレーサーバーとして起動する。
// デバイスストアを開き、全依存関係をワイヤリングし、HTTPサーバーとWhatsAppクライアントを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. デバイスストア
	waLogger := whatsapp.NewLogger(slog.Default())
	devices, err := database.OpenDeviceStore(ctx, cfg.StoreDialect, cfg.StoreDSN, waLogger.Sub("Database"))
	if err != nil {
		return fmt.Errorf("failed to open device store: %w", err)
	}
	defer devices.Close()

	slog.Info("device store ready", slog.Bool("paired", devices.Paired()))

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. セッション状態と通知ハブ
	tracker := session.NewTracker(collector)
	hub := notify.NewHub(tracker, collector, slog.Default())

	// 4. WhatsAppクライアントとコマンドゲートウェイ
	binding := whatsapp.NewBinding(devices.Device, whatsapp.NewJournal(cfg.HistoryPerChat), slog.Default())
	service := gateway.NewService(binding, tracker, gateway.ServiceConfig{
		Timeout:           cfg.CommandTimeout,
		ReadRequiresReady: cfg.ReadRequiresReady,
		Recorder:          collector,
		Logger:            slog.Default(),
	})

	var renderer gateway.ChallengeRenderer
	if cfg.QRTerminal {
		// 標準出力はJSONログ専用のため、QRは標準エラーへ描画する
		renderer = qr.TerminalRenderer(os.Stderr)
	}
	lifecycle := gateway.NewLifecycle(tracker, hub, service, renderer, slog.Default())

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitPerMin))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		APIToken:          cfg.APIToken,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		Metrics:           collector,
		Gatherer:          registry,
		Gateway:           service,
		Hub:               hub,
		Challenges:        tracker,
	})

	// 6. HTTPサーバーの起動
	ln, err := net.Listen("tcp", ":"+cfg.ServerPort)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	ln = netutil.LimitListener(ln, cfg.MaxConnections)

	// WriteTimeoutはWebSocketとCOMMAND_TIMEOUTを超える応答待ちを切ってしまうため設定しない
	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", ln.Addr().String()),
			slog.Int("max_connections", cfg.MaxConnections),
		)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// 7. WhatsAppへ接続
	if err := binding.Initialize(ctx, lifecycle); err != nil {
		shutdown(server, tracker, hub, binding)
		return fmt.Errorf("failed to initialize whatsapp client: %w", err)
	}

	select {
	case <-ctx.Done():
		slog.Info("shutting down API server...")
	case err := <-serveErr:
		shutdown(server, tracker, hub, binding)
		return fmt.Errorf("server listen error: %w", err)
	}

	if err := shutdown(server, tracker, hub, binding); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// shutdown は購読者・HTTPサーバー・WhatsAppクライアントの順に停止する。
// ハイジャック済みのWebSocket接続はServer.Shutdownの対象外のため、先にハブを閉じて終了させる。
func shutdown(server *http.Server, tracker *session.Tracker, hub *notify.Hub, binding *whatsapp.Binding) error {
	logSessionSummary(slog.Default(), tracker, hub)
	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := server.Shutdown(ctx)

	binding.Disconnect()
	return err
}

// logSessionSummary は停止時点のセッション状態と購読者数を記録する。
func logSessionSummary(logger *slog.Logger, tracker *session.Tracker, hub *notify.Hub) {
	snap := tracker.Snapshot()
	logger.Info("session summary",
		slog.String("state", snap.State.String()),
		slog.Bool("challenge_pending", snap.LastChallenge != ""),
		slog.Time("changed_at", snap.ChangedAt),
		slog.Int("subscribers", hub.Count()),
	)
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// 設定済みトークンを付けて /status へHTTPリクエストを送り、200以外をエラーとする。
// 準備状態にかかわらず /status は200を返すため、プロセスの生存のみを確認する。
func runHealthcheck(port, token string) error {
	url := fmt.Sprintf("http://localhost:%s/status", port)
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	req.Header.Set(middleware.TokenHeader, token)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
