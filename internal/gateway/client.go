// Package gateway はHTTPコマンドを下位のWhatsAppクライアント呼び出しへ変換する。
package gateway

import (
	"context"
	"time"
)

// Chat は下位クライアントが返すチャット。
type Chat struct {
	ID   string // 例: 11912345678@c.us, 1203630...@g.us
	Name string
}

// Message は下位クライアントが返すメッセージ。
type Message struct {
	ID        string
	ChatID    string
	Author    string
	Body      string
	Timestamp time.Time
	FromMe    bool
}

// InboundMessage は下位クライアントから届いた受信メッセージ。
type InboundMessage struct {
	ID      string
	ChatID  string
	Sender  string
	Body    string
	FromMe  bool
	IsGroup bool
}

// Client は下位のチャット自動化クライアントの機能。
// whatsapp.Binding が実装し、テストではモックに差し替える。
type Client interface {
	SendMessage(ctx context.Context, to, body string) error
	GetChats(ctx context.Context) ([]Chat, error)
	FetchMessages(ctx context.Context, chatID string, limit int) ([]Message, error)
	Reply(ctx context.Context, msg InboundMessage, body string) error
}

// ReadinessChecker はコマンド実行可否を判定する。session.Tracker が実装する。
type ReadinessChecker interface {
	CurrentlyReady() bool
}

// Recorder はコマンド実行の結果を記録する。metrics.Collector が実装する。
type Recorder interface {
	RecordCommand(op, outcome string, duration time.Duration)
	RecordAutoReply()
}
