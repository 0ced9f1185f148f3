// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/wabridge/internal/session"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ゲートウェイ・通知ハブ・ミドルウェアから利用する。
type MetricsCollector interface {
	RecordCommand(op, outcome string, duration time.Duration)
	RecordAutoReply()
	RecordAuthRejection()
	RecordHTTPStatus(statusCode int)
	ObserveEvent(event, result string)
	SetSubscribers(n int)
	ObserveSessionState(state session.State)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	authRejections  prometheus.Counter
	httpStatus      *prometheus.CounterVec
	events          *prometheus.CounterVec
	subscribers     prometheus.Gauge
	sessionState    prometheus.Gauge
	autoReplies     prometheus.Counter
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wabridge_commands_total",
			Help: "操作・結果別のコマンド実行数",
		}, []string{"op", "outcome"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wabridge_command_duration_seconds",
			Help:    "コマンド実行時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		authRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wabridge_auth_rejections_total",
			Help: "トークン不一致で拒否したリクエスト数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wabridge_http_requests_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wabridge_events_total",
			Help: "購読者へのイベント配信数（delivered/dropped）",
		}, []string{"event", "result"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wabridge_subscribers",
			Help: "接続中の購読者数",
		}),
		sessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wabridge_session_state",
			Help: "セッション状態（0=unauthenticated, 1=awaiting_scan, 2=ready）",
		}),
		autoReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wabridge_auto_replies_total",
			Help: "!ping への自動応答数",
		}),
	}

	reg.MustRegister(
		c.commands,
		c.commandDuration,
		c.authRejections,
		c.httpStatus,
		c.events,
		c.subscribers,
		c.sessionState,
		c.autoReplies,
	)

	return c
}

// RecordCommand はコマンドの結果と所要時間を記録する。
func (c *Collector) RecordCommand(op, outcome string, duration time.Duration) {
	c.commands.WithLabelValues(op, outcome).Inc()
	c.commandDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordAutoReply は自動応答を記録する。
func (c *Collector) RecordAutoReply() {
	c.autoReplies.Inc()
}

// RecordAuthRejection は認証拒否を記録する。
func (c *Collector) RecordAuthRejection() {
	c.authRejections.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// ObserveEvent はイベント配信の結果を記録する。
func (c *Collector) ObserveEvent(event, result string) {
	c.events.WithLabelValues(event, result).Inc()
}

// SetSubscribers は購読者数を設定する。
func (c *Collector) SetSubscribers(n int) {
	c.subscribers.Set(float64(n))
}

// ObserveSessionState はセッション状態を設定する。
func (c *Collector) ObserveSessionState(state session.State) {
	c.sessionState.Set(float64(state))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
