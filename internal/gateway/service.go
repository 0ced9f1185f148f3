package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/wabridge/internal/model"
)

// 操作名。ログとメトリクスのラベルに使う。
const (
	OpStatus    = "status"
	OpSend      = "send"
	OpChats     = "chats"
	OpMessages  = "messages"
	OpAutoReply = "auto_reply"
)

const (
	// messageHistoryLimit はListMessagesが返す直近メッセージ数。
	messageHistoryLimit = 10

	// PingTrigger は自動応答の起動文字列。完全一致のみ反応する。
	PingTrigger = "!ping"
	// PongReply は自動応答の本文。
	PongReply = "pong 🏓"

	defaultCommandTimeout = 30 * time.Second
)

// ServiceConfig はServiceの動作設定。
type ServiceConfig struct {
	// Timeout は下位クライアント呼び出し1回あたりの待ち時間上限。0以下ならデフォルト（30秒）。
	Timeout time.Duration
	// ReadRequiresReady がtrueの場合、ListChatsもReady前は NotReady で失敗する。
	ReadRequiresReady bool
	Recorder          Recorder
	Logger            *slog.Logger
}

// Service はコマンドゲートウェイ。
// 入力検証 → 準備状態チェック → 下位クライアント呼び出し の順に処理し、
// 下位クライアントの失敗は詳細をログに残して分類済みのエラーへ変換する。
type Service struct {
	client            Client
	readiness         ReadinessChecker
	recorder          Recorder
	logger            *slog.Logger
	timeout           time.Duration
	readRequiresReady bool
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(client Client, readiness ReadinessChecker, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return &Service{
		client:            client,
		readiness:         readiness,
		recorder:          cfg.Recorder,
		logger:            logger.With("component", "gateway"),
		timeout:           timeout,
		readRequiresReady: cfg.ReadRequiresReady,
	}
}

// Status はセッションの準備状態を返す。準備状態チェック自体なのでゲートしない。
func (s *Service) Status() model.SessionStatus {
	if s.readiness.CurrentlyReady() {
		return model.StatusReady
	}
	return model.StatusNotReady
}

// SendMessage は target へ body を送信する。
// target は数字以外を除去して @c.us を付けたアドレスへ正規化する。
func (s *Service) SendMessage(ctx context.Context, target, body string) (result *model.SendResult, err error) {
	start := time.Now()
	defer func() { s.record(OpSend, start, err) }()

	if target == "" || body == "" {
		return nil, model.NewInvalidArgumentError(OpSend, "target and body are required")
	}
	if Digits(target) == "" {
		return nil, model.NewInvalidArgumentError(OpSend, "target has no digits")
	}
	if !s.readiness.CurrentlyReady() {
		return nil, model.NewNotReadyError(OpSend)
	}

	address := NormalizeTarget(target)
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	if err := s.client.SendMessage(callCtx, address, body); err != nil {
		return nil, s.clientFailure(callCtx, OpSend, err, "to", address)
	}

	s.logger.Info("message sent", "to", address)
	return &model.SendResult{Target: target, Address: address, Delivered: true}, nil
}

// ListChats はチャット一覧を返す。名前のないチャットはアドレスの@より前を表示名とする。
func (s *Service) ListChats(ctx context.Context) (summaries []model.ChatSummary, err error) {
	start := time.Now()
	defer func() { s.record(OpChats, start, err) }()

	if s.readRequiresReady && !s.readiness.CurrentlyReady() {
		return nil, model.NewNotReadyError(OpChats)
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	chats, err := s.client.GetChats(callCtx)
	if err != nil {
		return nil, s.clientFailure(callCtx, OpChats, err)
	}

	summaries = make([]model.ChatSummary, 0, len(chats))
	for _, c := range chats {
		name := c.Name
		if name == "" {
			name = LocalPart(c.ID)
		}
		summaries = append(summaries, model.ChatSummary{DisplayName: name, ID: c.ID})
	}
	return summaries, nil
}

// ListMessages は target に一致するチャットの直近10件のメッセージを返す。
// 一致判定は数字のみに正規化した target とチャットIDの@より前の完全一致で行う。
func (s *Service) ListMessages(ctx context.Context, target string) (records []model.MessageRecord, err error) {
	start := time.Now()
	defer func() { s.record(OpMessages, start, err) }()

	if target == "" {
		return nil, model.NewInvalidArgumentError(OpMessages, "target is required")
	}
	if !s.readiness.CurrentlyReady() {
		return nil, model.NewNotReadyError(OpMessages)
	}
	digits := Digits(target)
	if digits == "" {
		return nil, model.NewNotFoundError(OpMessages, target)
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	chats, err := s.client.GetChats(callCtx)
	if err != nil {
		return nil, s.clientFailure(callCtx, OpMessages, err)
	}

	var chatID string
	for _, c := range chats {
		if LocalPart(c.ID) == digits {
			chatID = c.ID
			break
		}
	}
	if chatID == "" {
		return nil, model.NewNotFoundError(OpMessages, target)
	}

	msgs, err := s.client.FetchMessages(callCtx, chatID, messageHistoryLimit)
	if err != nil {
		return nil, s.clientFailure(callCtx, OpMessages, err, "chat_id", chatID)
	}

	records = make([]model.MessageRecord, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, model.MessageRecord{
			Author:    m.Author,
			Body:      m.Body,
			Timestamp: m.Timestamp.Unix(),
		})
	}
	return records, nil
}

// HandleInbound は受信メッセージに対する自動応答を行う。
// 本文が "!ping" と完全一致した場合のみ1回返信し、trueを返す。
// 下位クライアントのイベントから呼ばれるため、認証と準備状態のチェックは行わない。
func (s *Service) HandleInbound(ctx context.Context, msg InboundMessage) (bool, error) {
	if msg.FromMe || msg.Body != PingTrigger {
		return false, nil
	}

	start := time.Now()
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	if err := s.client.Reply(callCtx, msg, PongReply); err != nil {
		cmdErr := s.clientFailure(callCtx, OpAutoReply, err, "chat_id", msg.ChatID)
		s.record(OpAutoReply, start, cmdErr)
		return false, cmdErr
	}

	s.record(OpAutoReply, start, nil)
	if s.recorder != nil {
		s.recorder.RecordAutoReply()
	}
	s.logger.Info("auto reply sent", "chat_id", msg.ChatID, "message_id", msg.ID)
	return true, nil
}

// callContext は呼び出し元のキャンセルを引き継がない、上限付きのコンテキストを返す。
// 呼び出し元の切断で実行中の送信を中断しない。
func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

// clientFailure は下位クライアントのエラーをログに記録し、分類済みのエラーへ変換する。
func (s *Service) clientFailure(callCtx context.Context, op string, err error, attrs ...any) *model.CommandError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		s.logger.Error("client call timed out", append([]any{"op", op, "timeout", s.timeout.String(), "error", err}, attrs...)...)
		return model.NewTimeoutError(op, err)
	}
	s.logger.Error("client call failed", append([]any{"op", op, "error", err}, attrs...)...)
	return model.NewInternalError(op, err)
}

func (s *Service) record(op string, start time.Time, err error) {
	if s.recorder == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(model.KindOf(err))
	}
	s.recorder.RecordCommand(op, outcome, time.Since(start))
}
