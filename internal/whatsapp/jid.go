package whatsapp

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// アドレスのサーバー部。個人は c.us、グループは g.us で表す。
const (
	contactServer = "c.us"
	groupServer   = "g.us"
)

// ToJID はアドレス（11912345678@c.us など）をwhatsmeowのJIDへ変換する。
func ToJID(address string) (types.JID, error) {
	user, server, ok := strings.Cut(address, "@")
	if !ok || user == "" {
		return types.JID{}, fmt.Errorf("invalid address %q", address)
	}
	switch server {
	case contactServer:
		return types.NewJID(user, types.DefaultUserServer), nil
	case groupServer:
		return types.NewJID(user, types.GroupServer), nil
	default:
		jid, err := types.ParseJID(address)
		if err != nil {
			return types.JID{}, fmt.Errorf("invalid address %q: %w", address, err)
		}
		return jid, nil
	}
}

// FromJID はJIDをアドレス形式へ変換する。デバイス番号は落とす。
// 個人・グループ以外（LIDなど）はJIDの文字列表現をそのまま使う。
func FromJID(jid types.JID) string {
	switch jid.Server {
	case types.DefaultUserServer:
		return jid.User + "@" + contactServer
	case types.GroupServer:
		return jid.User + "@" + groupServer
	default:
		return jid.ToNonAD().String()
	}
}
