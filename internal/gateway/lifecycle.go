package gateway

import (
	"context"
	"log/slog"

	"github.com/hitoshi/wabridge/internal/notify"
)

// SessionTransitions はセッション状態の遷移。session.Tracker が実装する。
type SessionTransitions interface {
	OnChallenge(payload string) bool
	OnReady() bool
}

// Announcer は状態遷移とイベント配信を一括で行う。notify.Hub が実装する。
type Announcer interface {
	Announce(ev notify.Event, transition func() bool) bool
}

// ChallengeRenderer はQRチャレンジを運用者向けに表示する。
type ChallengeRenderer func(code string)

// Lifecycle は下位クライアントのイベントをセッション状態・通知・自動応答へ振り分ける。
type Lifecycle struct {
	session  SessionTransitions
	hub      Announcer
	service  *Service
	renderer ChallengeRenderer
	logger   *slog.Logger
}

// NewLifecycle はLifecycleを生成する。rendererとloggerはnilでもよい。
func NewLifecycle(session SessionTransitions, hub Announcer, service *Service, renderer ChallengeRenderer, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		session:  session,
		hub:      hub,
		service:  service,
		renderer: renderer,
		logger:   logger.With("component", "lifecycle"),
	}
}

// OnChallenge はQRチャレンジを記録して購読者へ配信する。
// Ready到達後に届いたチャレンジは無視する。
func (l *Lifecycle) OnChallenge(code string) {
	announced := l.hub.Announce(notify.QR(code), func() bool {
		return l.session.OnChallenge(code)
	})
	if !announced {
		l.logger.Warn("challenge ignored after ready")
		return
	}
	l.logger.Info("qr challenge received, scan it with the phone")
	if l.renderer != nil {
		l.renderer(code)
	}
}

// OnReady はReadyへ遷移し、購読者へ ready を配信する。
func (l *Lifecycle) OnReady() {
	if l.hub.Announce(notify.ReadyEvent(), l.session.OnReady) {
		l.logger.Info("session ready")
	}
}

// OnMessage は受信メッセージをログに残し、自動応答を処理する。
func (l *Lifecycle) OnMessage(ctx context.Context, msg InboundMessage) {
	l.logger.Debug("message received",
		"chat_id", msg.ChatID,
		"sender", msg.Sender,
		"message_id", msg.ID,
		"from_me", msg.FromMe)

	// 失敗は Service 側でログ済み
	_, _ = l.service.HandleInbound(ctx, msg)
}

// OnLoggedOut はセッションの失効を記録する。再接続は行わない。
func (l *Lifecycle) OnLoggedOut(reason string) {
	l.logger.Error("session logged out, restart with a fresh device store to pair again", "reason", reason)
}
