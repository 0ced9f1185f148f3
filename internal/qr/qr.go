// Package qr はQRチャレンジを端末表示用・画像用に描画する。
package qr

import (
	"errors"
	"fmt"
	"io"

	"github.com/mdp/qrterminal/v3"
	"github.com/skip2/go-qrcode"
)

// DefaultPNGSize はPNG画像の一辺（ピクセル）。
const DefaultPNGSize = 256

// ErrEmptyCode はチャレンジが空であることを表す。
var ErrEmptyCode = errors.New("qr code payload is empty")

// RenderTerminal はチャレンジを半角ブロック文字で w へ描画する。
func RenderTerminal(w io.Writer, code string) {
	qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
}

// TerminalRenderer は w へ描画する関数を返す。gateway.ChallengeRenderer として使う。
func TerminalRenderer(w io.Writer) func(code string) {
	return func(code string) {
		RenderTerminal(w, code)
	}
}

// PNG はチャレンジをPNG画像へエンコードする。size が0以下ならDefaultPNGSize。
func PNG(code string, size int) ([]byte, error) {
	if code == "" {
		return nil, ErrEmptyCode
	}
	if size <= 0 {
		size = DefaultPNGSize
	}
	png, err := qrcode.Encode(code, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr png: %w", err)
	}
	return png, nil
}
