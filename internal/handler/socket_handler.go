package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hitoshi/wabridge/internal/notify"
)

const (
	// writeWait は1フレームの書き込み期限。
	writeWait = 10 * time.Second
	// pongWait はpongを待つ期限。これを過ぎると接続を切る。
	pongWait = 60 * time.Second
	// pingPeriod はpingの送信間隔。pongWaitより短くする。
	pingPeriod = 30 * time.Second
	// maxInboundFrame はクライアントから受け付けるフレームの上限。受信内容は使わない。
	maxInboundFrame = 512
)

// SubscriberHub はSocketHandlerが使用する通知ハブのインターフェース。
type SubscriberHub interface {
	Subscribe(ctx context.Context) *notify.Subscription
	Unsubscribe(id string)
}

// SocketHandler はGET /ws のWebSocket購読者を扱う。
type SocketHandler struct {
	hub      SubscriberHub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewSocketHandler はSocketHandlerの新しいインスタンスを生成する。
// 接続前にトークン検証を通っているため、Originは検査しない。
func NewSocketHandler(hub SubscriberHub, logger *slog.Logger) *SocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Subscribe は接続をWebSocketへアップグレードし、ハブのイベントを配信し続ける。
func (h *SocketHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade がエラーレスポンスを書き込み済み
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	sub := h.hub.Subscribe(ctx)

	go h.readPump(conn, cancel)
	h.writePump(conn, sub)

	cancel()
	h.hub.Unsubscribe(sub.ID)
}

// readPump は受信フレームを読み捨て、切断を検出したら購読を終わらせる。
func (h *SocketHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxInboundFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump はイベントをJSONテキストフレームとして書き込み、定期的にpingを送る。
// 購読のチャネルが閉じられると終了する。
func (h *SocketHandler) writePump(conn *websocket.Conn, sub *notify.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			payload, err := ev.Marshal()
			if err != nil {
				h.logger.Error("failed to encode event",
					slog.String("event", ev.Name),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Debug("websocket write failed",
					slog.String("sub_id", sub.ID),
					slog.String("error", err.Error()),
				)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
