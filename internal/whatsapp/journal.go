package whatsapp

import (
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/wabridge/internal/gateway"
)

const defaultHistoryPerChat = 50

type chatLog struct {
	id           string
	name         string
	lastActivity time.Time
	messages     []gateway.Message // 古い順
	seen         map[string]struct{}
}

// Journal は接続中に観測したチャットとメッセージをメモリ上に保持する。
// whatsmeowはチャット一覧や過去メッセージの取得APIを持たないため、
// 受信・送信・履歴同期イベントからこの一覧を組み立てる。
type Journal struct {
	mu      sync.Mutex
	perChat int
	chats   map[string]*chatLog
}

// NewJournal はチャットあたり perChat 件まで保持するJournalを生成する。
func NewJournal(perChat int) *Journal {
	if perChat <= 0 {
		perChat = defaultHistoryPerChat
	}
	return &Journal{
		perChat: perChat,
		chats:   make(map[string]*chatLog),
	}
}

// Touch はチャットを登録し、名前と最終活動時刻を更新する。空の名前は既存の名前を消さない。
func (j *Journal) Touch(chatID, name string, at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.touchLocked(chatID, name, at)
}

// Record はメッセージを追加する。既に記録済みのIDであればfalseを返す。
// 上限を超えた場合は古いメッセージから捨てる。
func (j *Journal) Record(msg gateway.Message) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	c := j.touchLocked(msg.ChatID, "", msg.Timestamp)
	if msg.ID != "" {
		if _, dup := c.seen[msg.ID]; dup {
			return false
		}
		c.seen[msg.ID] = struct{}{}
	}

	i := sort.Search(len(c.messages), func(i int) bool {
		return c.messages[i].Timestamp.After(msg.Timestamp)
	})
	c.messages = append(c.messages, gateway.Message{})
	copy(c.messages[i+1:], c.messages[i:])
	c.messages[i] = msg

	for len(c.messages) > j.perChat {
		delete(c.seen, c.messages[0].ID)
		c.messages = c.messages[1:]
	}
	return true
}

// Chats は最終活動時刻の新しい順にチャットを返す。
func (j *Journal) Chats() []gateway.Chat {
	j.mu.Lock()
	logs := make([]*chatLog, 0, len(j.chats))
	for _, c := range j.chats {
		logs = append(logs, c)
	}
	sort.Slice(logs, func(a, b int) bool {
		if logs[a].lastActivity.Equal(logs[b].lastActivity) {
			return logs[a].id < logs[b].id
		}
		return logs[a].lastActivity.After(logs[b].lastActivity)
	})
	chats := make([]gateway.Chat, 0, len(logs))
	for _, c := range logs {
		chats = append(chats, gateway.Chat{ID: c.id, Name: c.name})
	}
	j.mu.Unlock()
	return chats
}

// Recent はチャットの直近 limit 件を古い順で返す。未知のチャットは空を返す。
func (j *Journal) Recent(chatID string, limit int) []gateway.Message {
	j.mu.Lock()
	defer j.mu.Unlock()

	c, ok := j.chats[chatID]
	if !ok || limit <= 0 {
		return []gateway.Message{}
	}
	start := 0
	if len(c.messages) > limit {
		start = len(c.messages) - limit
	}
	out := make([]gateway.Message, len(c.messages)-start)
	copy(out, c.messages[start:])
	return out
}

func (j *Journal) touchLocked(chatID, name string, at time.Time) *chatLog {
	c, ok := j.chats[chatID]
	if !ok {
		c = &chatLog{id: chatID, seen: make(map[string]struct{})}
		j.chats[chatID] = c
	}
	if name != "" {
		c.name = name
	}
	if at.After(c.lastActivity) {
		c.lastActivity = at
	}
	return c
}
