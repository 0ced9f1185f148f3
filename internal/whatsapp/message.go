package whatsapp

import (
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/hitoshi/wabridge/internal/gateway"
)

// messageText はメッセージ本文を取り出す。メディアはキャプションを本文とする。
func messageText(m *waE2E.Message) string {
	if m == nil {
		return ""
	}
	if text := m.GetConversation(); text != "" {
		return text
	}
	if ext := m.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := m.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := m.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := m.GetDocumentMessage(); doc != nil {
		return doc.GetCaption()
	}
	return ""
}

// JIDResolver は alt で解決できなかったLIDを電話番号のJIDへ引き直す。
type JIDResolver func(jid types.JID) types.JID

// toMessage は受信イベントを履歴の1件へ変換する。
// LIDで届いた個人チャットは電話番号のJIDへ寄せる。resolve はnilでもよい。
func toMessage(evt *events.Message, resolve JIDResolver) gateway.Message {
	chat, sender := sourceJIDs(evt.Info.MessageSource)
	if resolve != nil {
		if !evt.Info.IsGroup {
			chat = resolve(chat)
		}
		sender = resolve(sender)
	}
	return gateway.Message{
		ID:        evt.Info.ID,
		ChatID:    FromJID(chat),
		Author:    FromJID(sender),
		Body:      messageText(evt.Message),
		Timestamp: evt.Info.Timestamp,
		FromMe:    evt.Info.IsFromMe,
	}
}

// sourceJIDs はメッセージのチャットと送信者を返す。
// 個人チャットのLIDは、イベントに付いている電話番号（SenderAlt / RecipientAlt）で置き換える。
func sourceJIDs(src types.MessageSource) (chat, sender types.JID) {
	chat = src.Chat
	sender = phoneAddressed(src.Sender, src.SenderAlt)
	if src.IsGroup {
		return chat, sender
	}
	if src.IsFromMe {
		chat = phoneAddressed(chat, src.RecipientAlt)
	} else {
		chat = phoneAddressed(chat, src.SenderAlt)
	}
	return chat, sender
}

// phoneAddressed は jid がLIDで alt が電話番号のJIDなら alt を返す。
func phoneAddressed(jid, alt types.JID) types.JID {
	if jid.Server != types.HiddenUserServer || alt.Server != types.DefaultUserServer {
		return jid
	}
	return alt.ToNonAD()
}

func contactName(info types.ContactInfo) string {
	switch {
	case info.FullName != "":
		return info.FullName
	case info.FirstName != "":
		return info.FirstName
	case info.PushName != "":
		return info.PushName
	default:
		return info.BusinessName
	}
}

func conversationTime(ts uint64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(int64(ts), 0)
}
