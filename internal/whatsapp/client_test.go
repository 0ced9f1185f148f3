package whatsapp

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/hitoshi/wabridge/internal/database"
	"github.com/hitoshi/wabridge/internal/gateway"
	"github.com/hitoshi/wabridge/internal/model"
)

// recordingSink はEventSinkのテスト実装。
type recordingSink struct {
	mu         sync.Mutex
	challenges []string
	ready      int
	loggedOut  []string
	messages   chan gateway.InboundMessage
}

func newRecordingSink() *recordingSink {
	return &recordingSink{messages: make(chan gateway.InboundMessage, 4)}
}

func (s *recordingSink) OnChallenge(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges = append(s.challenges, code)
}

func (s *recordingSink) OnReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready++
}

func (s *recordingSink) OnMessage(_ context.Context, msg gateway.InboundMessage) {
	s.messages <- msg
}

func (s *recordingSink) OnLoggedOut(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedOut = append(s.loggedOut, reason)
}

// newTestBinding は一時SQLiteのデバイスからBindingを生成する。接続は行わない。
func newTestBinding(t *testing.T) (*Binding, *recordingSink) {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "device.db") + "?_foreign_keys=on"
	ds, err := database.OpenDeviceStore(context.Background(), database.DialectSQLite, dsn, waLog.Noop)
	if err != nil {
		t.Fatalf("OpenDeviceStore returned error: %v", err)
	}
	t.Cleanup(func() { _ = ds.Close() })

	b := NewBinding(ds.Device, NewJournal(10), nil)
	sink := newRecordingSink()
	b.sink = sink
	return b, sink
}

func TestBinding_NotConnected(t *testing.T) {
	b, _ := newTestBinding(t)

	if _, err := b.GetChats(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("GetChats error = %v, want ErrNotConnected", err)
	}
	if _, err := b.FetchMessages(context.Background(), "11912345678@c.us", 10); !errors.Is(err, ErrNotConnected) {
		t.Errorf("FetchMessages error = %v, want ErrNotConnected", err)
	}
}

func TestBinding_HandleEvent_Connected(t *testing.T) {
	b, sink := newTestBinding(t)

	b.handleEvent(&events.Connected{})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.ready != 1 {
		t.Errorf("ready = %d, want 1", sink.ready)
	}
}

func TestBinding_HandleEvent_Message(t *testing.T) {
	b, sink := newTestBinding(t)
	chat := types.NewJID("11912345678", types.DefaultUserServer)
	ts := time.Unix(1700000000, 0)

	b.handleEvent(&events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: chat},
			ID:            "3EB0PING",
			PushName:      "Maria",
			Timestamp:     ts,
		},
		Message: &waE2E.Message{Conversation: proto.String("!ping")},
	})

	select {
	case got := <-sink.messages:
		if got.ID != "3EB0PING" || got.ChatID != "11912345678@c.us" || got.Body != "!ping" || got.FromMe || got.IsGroup {
			t.Errorf("inbound = %+v, want ping from 11912345678@c.us", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnMessage was not called")
	}

	recent := b.journal.Recent("11912345678@c.us", 10)
	if len(recent) != 1 || recent[0].Body != "!ping" {
		t.Errorf("journal = %+v, want one recorded message", recent)
	}
	chats := b.journal.Chats()
	if len(chats) != 1 || chats[0].Name != "Maria" {
		t.Errorf("chats = %+v, want Maria", chats)
	}
}

func TestBinding_HandleEvent_LoggedOut(t *testing.T) {
	b, sink := newTestBinding(t)

	b.handleEvent(&events.LoggedOut{Reason: events.ConnectFailureLoggedOut})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.loggedOut) != 1 || sink.loggedOut[0] == "" {
		t.Errorf("loggedOut = %v, want one reason", sink.loggedOut)
	}
}

// journalClient はJournalだけで応答するgateway.Client。接続なしでゲートウェイを通すために使う。
type journalClient struct {
	journal *Journal
}

func (c journalClient) SendMessage(context.Context, string, string) error { return nil }

func (c journalClient) GetChats(context.Context) ([]gateway.Chat, error) {
	return c.journal.Chats(), nil
}

func (c journalClient) FetchMessages(_ context.Context, chatID string, limit int) ([]gateway.Message, error) {
	return c.journal.Recent(chatID, limit), nil
}

func (c journalClient) Reply(context.Context, gateway.InboundMessage, string) error { return nil }

type alwaysReady struct{}

func (alwaysReady) CurrentlyReady() bool { return true }

func lidDirectMessage(lid, alt types.JID, id string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: lid, Sender: lid, SenderAlt: alt},
			ID:            id,
			Timestamp:     time.Unix(1700000000, 0),
		},
		Message: &waE2E.Message{Conversation: proto.String("oi")},
	}
}

func TestBinding_HandleEvent_LIDDirectChat_UsesSenderAlt(t *testing.T) {
	b, sink := newTestBinding(t)
	lid := types.NewJID("123456789012345", types.HiddenUserServer)
	pn := types.NewJID("5511912345678", types.DefaultUserServer)

	b.handleEvent(lidDirectMessage(lid, pn, "3EB0LID1"))

	select {
	case got := <-sink.messages:
		if got.ChatID != "5511912345678@c.us" || got.Sender != "5511912345678@c.us" {
			t.Errorf("inbound chat/sender = %q/%q, want 5511912345678@c.us", got.ChatID, got.Sender)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnMessage was not called")
	}

	chats := b.journal.Chats()
	if len(chats) != 1 || chats[0].ID != "5511912345678@c.us" {
		t.Fatalf("chats = %+v, want 5511912345678@c.us", chats)
	}

	// 電話番号でゲートウェイから引けること
	svc := gateway.NewService(journalClient{journal: b.journal}, alwaysReady{}, gateway.ServiceConfig{})
	records, err := svc.ListMessages(context.Background(), "+55 11 91234-5678")
	if err != nil {
		t.Fatalf("ListMessages returned error: %v (kind %s)", err, model.KindOf(err))
	}
	if len(records) != 1 || records[0].Body != "oi" {
		t.Errorf("records = %+v, want one message", records)
	}

	summaries, err := svc.ListChats(context.Background())
	if err != nil {
		t.Fatalf("ListChats returned error: %v", err)
	}
	if len(summaries) != 1 || summaries[0].DisplayName != "5511912345678" {
		t.Errorf("summaries = %+v, want display name 5511912345678", summaries)
	}
}

func TestBinding_HandleEvent_LIDDirectChat_UsesStoreMapping(t *testing.T) {
	b, sink := newTestBinding(t)
	lid := types.NewJID("123456789012345", types.HiddenUserServer)
	pn := types.NewJID("5511912345678", types.DefaultUserServer)

	if err := b.client.Store.LIDs.PutLIDMapping(context.Background(), lid, pn); err != nil {
		t.Fatalf("PutLIDMapping returned error: %v", err)
	}

	b.handleEvent(lidDirectMessage(lid, types.EmptyJID, "3EB0LID2"))
	<-sink.messages

	chats := b.journal.Chats()
	if len(chats) != 1 || chats[0].ID != "5511912345678@c.us" {
		t.Errorf("chats = %+v, want 5511912345678@c.us", chats)
	}
}

func TestBinding_ResolvePhone_UnknownLIDKept(t *testing.T) {
	b, _ := newTestBinding(t)
	lid := types.NewJID("999999999999999", types.HiddenUserServer)

	if got := b.resolvePhone(context.Background(), lid); got != lid {
		t.Errorf("resolvePhone() = %v, want %v", got, lid)
	}

	pn := types.NewJID("5511912345678", types.DefaultUserServer)
	if got := b.resolvePhone(context.Background(), pn); got != pn {
		t.Errorf("resolvePhone() = %v, want %v", got, pn)
	}
}

func TestBinding_HandleEvent_HistorySync_LIDConversation(t *testing.T) {
	b, _ := newTestBinding(t)
	lid := types.NewJID("123456789012345", types.HiddenUserServer)
	pn := types.NewJID("5511912345678", types.DefaultUserServer)

	if err := b.client.Store.LIDs.PutLIDMapping(context.Background(), lid, pn); err != nil {
		t.Fatalf("PutLIDMapping returned error: %v", err)
	}

	b.handleEvent(&events.HistorySync{Data: &waHistorySync.HistorySync{
		Conversations: []*waHistorySync.Conversation{{
			ID: proto.String(lid.String()),
			Messages: []*waHistorySync.HistorySyncMsg{{
				Message: &waWeb.WebMessageInfo{
					Key: &waCommon.MessageKey{
						RemoteJID: proto.String(lid.String()),
						FromMe:    proto.Bool(false),
						ID:        proto.String("3EB0HIST"),
					},
					Message:          &waE2E.Message{Conversation: proto.String("antigo")},
					MessageTimestamp: proto.Uint64(1700000000),
				},
			}},
		}},
	}})

	chats := b.journal.Chats()
	if len(chats) != 1 || chats[0].ID != "5511912345678@c.us" {
		t.Fatalf("chats = %+v, want 5511912345678@c.us", chats)
	}
	recent := b.journal.Recent("5511912345678@c.us", 10)
	if len(recent) != 1 || recent[0].Body != "antigo" || recent[0].Author != "5511912345678@c.us" {
		t.Errorf("journal = %+v, want one message authored by 5511912345678@c.us", recent)
	}
}
