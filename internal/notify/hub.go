// Package notify はセッションのライフサイクルイベントを購読者へ配信する。
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// 購読者ごとのバッファ。qr は数十秒ごとに再発行されるため、この程度で詰まることはない。
const subscriberBufferSize = 16

// イベント名
const (
	EventQR    = "qr"
	EventReady = "ready"
)

// 配信結果（メトリクスラベル）
const (
	ResultDelivered = "delivered"
	ResultDropped   = "dropped"
)

// Event は購読者へ送るイベント。
type Event struct {
	Name    string `json:"event"`
	Payload string `json:"payload,omitempty"`
}

// QR はQRチャレンジイベントを生成する。
func QR(payload string) Event {
	return Event{Name: EventQR, Payload: payload}
}

// ReadyEvent はセッション準備完了イベントを生成する。
func ReadyEvent() Event {
	return Event{Name: EventReady}
}

// Marshal はイベントをJSONへ変換する。
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ReadinessSource は購読開始時のready再送判定に使う。
type ReadinessSource interface {
	CurrentlyReady() bool
}

// Recorder は配信状況を記録する。metrics.Collector が実装する。
type Recorder interface {
	SetSubscribers(n int)
	ObserveEvent(event, result string)
}

// Subscription は1購読者分の受信チャネル。
type Subscription struct {
	ID          string
	ConnectedAt time.Time
	ch          chan Event
	done        chan struct{}
}

// Events はイベントの受信チャネルを返す。購読解除時にクローズされる。
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Hub はイベントのファンアウトを行う。
// 状態遷移と配信を同じロックの下で行い、購読開始と ready 発行が競合しても
// 購読者は ready をちょうど1回受け取る。
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]*Subscription
	closed      bool
	readiness   ReadinessSource
	recorder    Recorder
	logger      *slog.Logger
}

// NewHub はHubを生成する。recorderとloggerはnilでもよい。
func NewHub(readiness ReadinessSource, recorder Recorder, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]*Subscription),
		readiness:   readiness,
		recorder:    recorder,
		logger:      logger.With("component", "notify"),
	}
}

// Subscribe は購読者を登録する。
// セッションがすでにReadyの場合、登録と同時に ready をこの購読者へ再送する。
// ctx がキャンセルされると自動的に購読解除される。
// ctx の監視は Unsubscribe または Close の時点でも終了する。
func (h *Hub) Subscribe(ctx context.Context) *Subscription {
	sub := &Subscription{
		ID:          uuid.New().String(),
		ConnectedAt: time.Now(),
		ch:          make(chan Event, subscriberBufferSize),
		done:        make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub
	}
	h.subscribers[sub.ID] = sub
	count := len(h.subscribers)
	replay := h.readiness != nil && h.readiness.CurrentlyReady()
	if replay {
		h.deliver(sub, ReadyEvent())
	}
	h.mu.Unlock()

	h.setSubscribers(count)
	h.logger.Info("subscriber connected", "sub_id", sub.ID, "ready_replayed", replay)

	go func() {
		select {
		case <-ctx.Done():
			h.Unsubscribe(sub.ID)
		case <-sub.done:
		}
	}()

	return sub
}

// Announce は transition を実行し、true を返した場合のみ ev を全購読者へ配信する。
// transition が nil の場合は無条件に配信する。
// 配信は非ブロッキングで、バッファが埋まった購読者にはそのイベントを送らない。
func (h *Hub) Announce(ev Event, transition func() bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if transition != nil && !transition() {
		return false
	}
	if h.closed {
		return true
	}
	for _, sub := range h.subscribers {
		h.deliver(sub, ev)
	}
	h.logger.Debug("event announced", "event", ev.Name, "subscribers", len(h.subscribers))
	return true
}

// Unsubscribe は購読者を削除し、受信チャネルをクローズする。未登録のIDは無視する。
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subscribers, id)
	sub.release()
	count := len(h.subscribers)
	h.mu.Unlock()

	h.setSubscribers(count)
	h.logger.Info("subscriber disconnected",
		"sub_id", id,
		"connected_for", time.Since(sub.ConnectedAt).String())
}

// Count は現在の購読者数を返す。
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close は全購読者のチャネルをクローズする。以降の購読は即座にクローズ済みとなる。
func (h *Hub) Close() {
	h.mu.Lock()
	for id, sub := range h.subscribers {
		sub.release()
		delete(h.subscribers, id)
	}
	h.closed = true
	h.mu.Unlock()

	h.setSubscribers(0)
	h.logger.Debug("hub closed")
}

// release は h.mu を保持した状態で呼ぶ。
func (s *Subscription) release() {
	close(s.ch)
	close(s.done)
}

// deliver は h.mu を保持した状態で呼ぶ。
func (h *Hub) deliver(sub *Subscription, ev Event) {
	select {
	case sub.ch <- ev:
		h.observe(ev.Name, ResultDelivered)
	default:
		h.observe(ev.Name, ResultDropped)
		h.logger.Warn("dropped event for slow subscriber", "sub_id", sub.ID, "event", ev.Name)
	}
}

func (h *Hub) observe(event, result string) {
	if h.recorder != nil {
		h.recorder.ObserveEvent(event, result)
	}
}

func (h *Hub) setSubscribers(n int) {
	if h.recorder != nil {
		h.recorder.SetSubscribers(n)
	}
}
