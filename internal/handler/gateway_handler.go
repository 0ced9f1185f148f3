package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/wabridge/internal/middleware"
	"github.com/hitoshi/wabridge/internal/model"
)

// 応答の固定文言。
const (
	textReady    = "✅ Bot está pronto!"
	textNotReady = "🕐 Bot não está pronto."
	textTimeout  = "⏱️ Tempo esgotado aguardando o WhatsApp."

	textSendMissingArgs = `⚠️ Informe "numero" e "mensagem".`
	textSendOKPrefix    = "✅ Mensagem enviada para "
	textSendFailed      = "❌ Erro interno ao enviar mensagem."

	textChatsFailed = "❌ Erro interno ao obter chats."

	textMessagesMissingArg = `⚠️ Informe o "numero".`
	textChatNotFound       = "❌ Chat não encontrado."
	textMessagesFailed     = "❌ Erro interno ao obter mensagens."
)

// GatewayServiceInterface はGatewayHandlerが使用するコマンドゲートウェイのインターフェース。
type GatewayServiceInterface interface {
	Status() model.SessionStatus
	SendMessage(ctx context.Context, target, body string) (*model.SendResult, error)
	ListChats(ctx context.Context) ([]model.ChatSummary, error)
	ListMessages(ctx context.Context, target string) ([]model.MessageRecord, error)
}

// chatResponse はチャット一覧の1件のJSON表現。
type chatResponse struct {
	Name string `json:"nome"`
	ID   string `json:"id"`
}

// messageResponse はメッセージ履歴の1件のJSON表現。
type messageResponse struct {
	Author    string `json:"autor"`
	Body      string `json:"corpo"`
	Timestamp int64  `json:"data"`
}

// routeTexts はルートごとに異なるエラー文言。
type routeTexts struct {
	invalid  string
	notFound string
	internal string
}

// GatewayHandler はコマンド系エンドポイントのHTTPハンドラー。
type GatewayHandler struct {
	service GatewayServiceInterface
}

// NewGatewayHandler はGatewayHandlerの新しいインスタンスを生成する。
func NewGatewayHandler(service GatewayServiceInterface) *GatewayHandler {
	return &GatewayHandler{service: service}
}

// Status はGET /status を処理する。準備状態にかかわらず200を返す。
func (h *GatewayHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.service.Status() == model.StatusReady {
		middleware.WriteText(w, http.StatusOK, textReady)
		return
	}
	middleware.WriteText(w, http.StatusOK, textNotReady)
}

// Send はGET /enviar?numero=...&mensagem=... を処理する。
func (h *GatewayHandler) Send(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	numero := q.Get("numero")
	mensagem := q.Get("mensagem")

	result, err := h.service.SendMessage(r.Context(), numero, mensagem)
	if err != nil {
		writeCommandError(w, err, routeTexts{
			invalid:  textSendMissingArgs,
			internal: textSendFailed,
		})
		return
	}

	middleware.WriteText(w, http.StatusOK, textSendOKPrefix+result.Target)
}

// Chats はGET /chats を処理する。
func (h *GatewayHandler) Chats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.service.ListChats(r.Context())
	if err != nil {
		writeCommandError(w, err, routeTexts{internal: textChatsFailed})
		return
	}

	resp := make([]chatResponse, 0, len(chats))
	for _, c := range chats {
		resp = append(resp, chatResponse{Name: c.DisplayName, ID: c.ID})
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// Messages はGET /mensagens?numero=... を処理する。
func (h *GatewayHandler) Messages(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListMessages(r.Context(), r.URL.Query().Get("numero"))
	if err != nil {
		writeCommandError(w, err, routeTexts{
			invalid:  textMessagesMissingArg,
			notFound: textChatNotFound,
			internal: textMessagesFailed,
		})
		return
	}

	resp := make([]messageResponse, 0, len(records))
	for _, m := range records {
		resp = append(resp, messageResponse{Author: m.Author, Body: m.Body, Timestamp: m.Timestamp})
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// writeCommandError はエラー種別をHTTPステータスと固定文言へ変換して書き込む。
// 下位クライアントの詳細はゲートウェイ側でログ済みのため、ここでは返さない。
func writeCommandError(w http.ResponseWriter, err error, texts routeTexts) {
	switch model.KindOf(err) {
	case model.KindInvalidArgument:
		middleware.WriteText(w, http.StatusBadRequest, fallback(texts.invalid, texts.internal))
	case model.KindNotFound:
		middleware.WriteText(w, http.StatusNotFound, fallback(texts.notFound, texts.internal))
	case model.KindNotReady:
		middleware.WriteText(w, http.StatusServiceUnavailable, textNotReady)
	case model.KindTimeout:
		middleware.WriteText(w, http.StatusGatewayTimeout, textTimeout)
	case model.KindForbidden:
		middleware.WriteText(w, http.StatusForbidden, middleware.DeniedMessage)
	default:
		middleware.WriteText(w, http.StatusInternalServerError, texts.internal)
	}
}

func fallback(text, alt string) string {
	if text == "" {
		return alt
	}
	return text
}
