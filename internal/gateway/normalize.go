package gateway

import "strings"

// ContactSuffix は個人宛てアドレスのサフィックス。
const ContactSuffix = "@c.us"

// Digits は raw から数字以外の文字を取り除く。
func Digits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeTarget は電話番号をアドレス形式（数字のみ + @c.us）へ変換する。
//
//	"(11) 91234-5678" → "11912345678@c.us"
func NormalizeTarget(raw string) string {
	return Digits(raw) + ContactSuffix
}

// LocalPart はアドレスの@より前を返す。
func LocalPart(id string) string {
	if i := strings.IndexByte(id, '@'); i >= 0 {
		return id[:i]
	}
	return id
}

