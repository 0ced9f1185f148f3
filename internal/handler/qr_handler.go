package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/wabridge/internal/middleware"
	"github.com/hitoshi/wabridge/internal/qr"
)

const (
	textNoChallenge = "❌ Nenhum QR pendente."
	textQRFailed    = "❌ Erro interno ao gerar QR."
)

// ChallengeSource は未処理のQRチャレンジを返す。session.Tracker が実装する。
type ChallengeSource interface {
	LastChallenge() (string, bool)
}

// QRHandler はGET /qr を扱う。
type QRHandler struct {
	source ChallengeSource
	logger *slog.Logger
}

// NewQRHandler はQRHandlerの新しいインスタンスを生成する。loggerはnilでもよい。
func NewQRHandler(source ChallengeSource, logger *slog.Logger) *QRHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QRHandler{source: source, logger: logger}
}

// Image は未処理のチャレンジをPNG画像で返す。チャレンジがなければ404。
// size クエリでピクセル数を指定できる（不正値はデフォルト）。
func (h *QRHandler) Image(w http.ResponseWriter, r *http.Request) {
	code, ok := h.source.LastChallenge()
	if !ok {
		middleware.WriteText(w, http.StatusNotFound, textNoChallenge)
		return
	}

	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	if size > 1024 {
		size = 1024
	}

	png, err := qr.PNG(code, size)
	if err != nil {
		h.logger.Error("failed to render qr", slog.String("error", err.Error()))
		middleware.WriteText(w, http.StatusInternalServerError, textQRFailed)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
