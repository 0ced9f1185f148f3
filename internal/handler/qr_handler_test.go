package handler

import (
	"bytes"
	"image/png"
	"log/slog"
	"net/http"
	"strings"
	"testing"
)

// stubChallenges はChallengeSourceのスタブ。
type stubChallenges struct {
	code string
	ok   bool
}

func (s stubChallenges) LastChallenge() (string, bool) { return s.code, s.ok }

// TestQRHandler_NoChallenge はチャレンジがない場合に404を返すことを検証する。
func TestQRHandler_NoChallenge(t *testing.T) {
	h := NewQRHandler(stubChallenges{}, nil)

	resp, body := serve(t, h.Image, "/qr")
	assertResponse(t, resp, body, http.StatusNotFound, "❌ Nenhum QR pendente.")
}

// TestQRHandler_RendersPNG は未処理のチャレンジをPNGで返すことを検証する。
func TestQRHandler_RendersPNG(t *testing.T) {
	h := NewQRHandler(stubChallenges{code: "2@abc,def,ghi", ok: true}, nil)

	resp, body := serve(t, h.Image, "/qr?size=300")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}

	img, err := png.Decode(bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("failed to decode png: %v", err)
	}
	if w := img.Bounds().Dx(); w != 300 {
		t.Errorf("width = %d, want 300", w)
	}
}

// TestQRHandler_RenderFailure_LogsToInjectedLogger は描画失敗時に500を返し、
// 注入されたロガーへ記録することを検証する。
func TestQRHandler_RenderFailure_LogsToInjectedLogger(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	// QRの容量を超える長さのチャレンジ
	h := NewQRHandler(stubChallenges{code: strings.Repeat("a", 5000), ok: true}, logger)

	resp, body := serve(t, h.Image, "/qr")
	assertResponse(t, resp, body, http.StatusInternalServerError, "❌ Erro interno ao gerar QR.")

	if !strings.Contains(logs.String(), "failed to render qr") {
		t.Errorf("injected logger did not record the failure, got %q", logs.String())
	}
}
