package model

// SessionStatus はStatus()の応答を表す。
type SessionStatus string

const (
	// StatusReady はコマンドを実行可能な状態を示す。
	StatusReady SessionStatus = "ready"
	// StatusNotReady はQR認証待ちなど、コマンドを実行できない状態を示す。
	StatusNotReady SessionStatus = "not_ready"
)

// SendResult はメッセージ送信結果を表す。
// Targetは呼び出し元が指定した正規化前の値を保持する。
type SendResult struct {
	Target    string
	Address   string // 正規化後の宛先（例: 11912345678@c.us）
	Delivered bool
}

// ChatSummary はチャット一覧の1件を表す。リクエストごとに生成し、キャッシュしない。
type ChatSummary struct {
	DisplayName string
	ID          string
}

// MessageRecord はメッセージ履歴の1件を表す。
type MessageRecord struct {
	Author    string
	Body      string
	Timestamp int64 // エポック秒
}
