// Package whatsapp はwhatsmeowを使ってgateway.Clientを実装する。
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/hitoshi/wabridge/internal/gateway"
)

// ErrNotConnected は接続前にコマンドが呼ばれたことを表す。
var ErrNotConnected = errors.New("whatsapp client is not connected")

// EventSink はクライアントのライフサイクルイベントの受け手。gateway.Lifecycle が実装する。
type EventSink interface {
	OnChallenge(code string)
	OnReady()
	OnMessage(ctx context.Context, msg gateway.InboundMessage)
	OnLoggedOut(reason string)
}

// Binding はwhatsmeowクライアントをラップし、gateway.Clientを実装する。
type Binding struct {
	client    *whatsmeow.Client
	journal   *Journal
	sink      EventSink
	logger    *slog.Logger
	handlerID uint32
}

var _ gateway.Client = (*Binding)(nil)

// NewBinding はデバイスからクライアントを生成し、イベントハンドラーを登録する。
// イベントの受け手は Initialize で渡す。
func NewBinding(device *store.Device, journal *Journal, logger *slog.Logger) *Binding {
	if logger == nil {
		logger = slog.Default()
	}
	if journal == nil {
		journal = NewJournal(0)
	}
	b := &Binding{
		client:  whatsmeow.NewClient(device, NewLogger(logger).Sub("Client")),
		journal: journal,
		logger:  logger.With("component", "whatsapp"),
	}
	b.handlerID = b.client.AddEventHandler(b.handleEvent)
	return b
}

// Initialize は sink をイベントの受け手として登録し、WhatsAppへ接続する。
// 未ペアリングのデバイスではQRチャネルを開き、発行されたコードを順次 OnChallenge へ渡す。
// 1回だけ呼ぶ。
func (b *Binding) Initialize(ctx context.Context, sink EventSink) error {
	// Connect より前に設定するため、イベントハンドラー側でロックは不要
	b.sink = sink

	if b.client.Store.ID != nil {
		b.logger.Info("connecting with paired device", "jid", b.client.Store.ID.ToNonAD().String())
		if err := b.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		return nil
	}

	qrChan, err := b.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to open qr channel: %w", err)
	}
	if err := b.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	go func() {
		for item := range qrChan {
			switch item.Event {
			case "code":
				b.sink.OnChallenge(item.Code)
			case "success":
				b.logger.Info("device paired")
			default:
				b.logger.Warn("qr channel event", "event", item.Event, "error", item.Error)
			}
		}
	}()
	return nil
}

// Disconnect はイベントハンドラーを外して切断する。
func (b *Binding) Disconnect() {
	b.client.RemoveEventHandler(b.handlerID)
	b.client.Disconnect()
}

// SendMessage はテキストメッセージを送信し、送信済みメッセージを履歴に記録する。
func (b *Binding) SendMessage(ctx context.Context, to, body string) error {
	jid, err := ToJID(to)
	if err != nil {
		return err
	}
	msg := &waE2E.Message{Conversation: proto.String(body)}
	return b.send(ctx, jid, msg, body)
}

// Reply は受信メッセージを引用して返信する。
func (b *Binding) Reply(ctx context.Context, in gateway.InboundMessage, body string) error {
	chat, err := ToJID(in.ChatID)
	if err != nil {
		return err
	}
	sender, err := ToJID(in.Sender)
	if err != nil {
		return err
	}
	msg := &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(body),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID:      proto.String(in.ID),
				Participant:   proto.String(sender.String()),
				QuotedMessage: &waE2E.Message{Conversation: proto.String(in.Body)},
			},
		},
	}
	return b.send(ctx, chat, msg, body)
}

// GetChats は観測済みのチャットを返す。名前のないチャットは連絡先ストアの名前で補う。
func (b *Binding) GetChats(ctx context.Context) ([]gateway.Chat, error) {
	if !b.client.IsConnected() {
		return nil, ErrNotConnected
	}
	chats := b.journal.Chats()

	contacts, err := b.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		// 名前の補完ができないだけなので一覧は返す
		b.logger.Warn("failed to load contacts", "error", err)
		return chats, nil
	}
	for i := range chats {
		if chats[i].Name != "" {
			continue
		}
		jid, err := ToJID(chats[i].ID)
		if err != nil {
			continue
		}
		if info, ok := contacts[jid]; ok {
			chats[i].Name = contactName(info)
		}
	}
	return chats, nil
}

// FetchMessages はチャットの直近 limit 件を古い順で返す。
func (b *Binding) FetchMessages(_ context.Context, chatID string, limit int) ([]gateway.Message, error) {
	if !b.client.IsConnected() {
		return nil, ErrNotConnected
	}
	return b.journal.Recent(chatID, limit), nil
}

func (b *Binding) send(ctx context.Context, to types.JID, msg *waE2E.Message, body string) error {
	resp, err := b.client.SendMessage(ctx, to, msg)
	if err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}

	author := ""
	if own := b.client.Store.ID; own != nil {
		author = FromJID(own.ToNonAD())
	}
	b.journal.Record(gateway.Message{
		ID:        resp.ID,
		ChatID:    FromJID(to),
		Author:    author,
		Body:      body,
		Timestamp: resp.Timestamp,
		FromMe:    true,
	})
	return nil
}

func (b *Binding) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		b.sink.OnReady()
	case *events.Message:
		msg := toMessage(v, b.resolver(context.Background()))
		name := ""
		if !v.Info.IsGroup && !v.Info.IsFromMe {
			name = v.Info.PushName
		}
		b.journal.Touch(msg.ChatID, name, msg.Timestamp)
		b.journal.Record(msg)
		// 返信送信中にイベントループを止めない
		go b.sink.OnMessage(context.Background(), gateway.InboundMessage{
			ID:      msg.ID,
			ChatID:  msg.ChatID,
			Sender:  msg.Author,
			Body:    msg.Body,
			FromMe:  msg.FromMe,
			IsGroup: v.Info.IsGroup,
		})
	case *events.HistorySync:
		b.ingestHistory(v)
	case *events.LoggedOut:
		b.sink.OnLoggedOut(v.Reason.String())
	case *events.Disconnected:
		b.logger.Warn("disconnected from whatsapp")
	}
}

func (b *Binding) ingestHistory(evt *events.HistorySync) {
	conversations := evt.Data.GetConversations()
	recorded := 0
	for _, conv := range conversations {
		chatJID, err := types.ParseJID(conv.GetID())
		if err != nil {
			b.logger.Debug("skipping history conversation", "id", conv.GetID(), "error", err)
			continue
		}
		chatID := FromJID(b.resolvePhone(context.Background(), chatJID))
		b.journal.Touch(chatID, conv.GetName(), conversationTime(conv.GetConversationTimestamp()))

		for _, hm := range conv.GetMessages() {
			parsed, err := b.client.ParseWebMessage(chatJID, hm.GetMessage())
			if err != nil {
				continue
			}
			msg := toMessage(parsed, b.resolver(context.Background()))
			msg.ChatID = chatID
			if b.journal.Record(msg) {
				recorded++
			}
		}
	}
	b.logger.Info("history sync ingested", "conversations", len(conversations), "messages", recorded)
}

// resolvePhone はLIDを連絡先ストアのマッピングで電話番号のJIDへ変換する。
// LID以外、またはマッピングがない場合は jid をそのまま返す。
func (b *Binding) resolvePhone(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer {
		return jid
	}
	pn, err := b.client.Store.LIDs.GetPNForLID(ctx, jid.ToNonAD())
	if err != nil {
		b.logger.Debug("failed to resolve lid", "lid", jid.String(), "error", err)
		return jid
	}
	if pn.IsEmpty() {
		return jid
	}
	return pn.ToNonAD()
}

func (b *Binding) resolver(ctx context.Context) JIDResolver {
	return func(jid types.JID) types.JID {
		return b.resolvePhone(ctx, jid)
	}
}
