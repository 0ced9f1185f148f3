// Package session は単一WhatsAppセッションのライフサイクルを管理する。
//
// 状態は Unauthenticated → AwaitingScan → Ready の順にのみ進む。
// 遷移は下位クライアントのイベント（QRチャレンジ、接続完了）からのみ発生し、
// コマンドハンドラーからは CurrentlyReady による読み取りのみを行う。
package session

import (
	"sync"
	"time"
)

// State はセッションのライフサイクル状態。
type State int

const (
	// Unauthenticated はプロセス起動直後の状態。
	Unauthenticated State = iota
	// AwaitingScan はQRチャレンジを提示し、スキャン待ちの状態。
	AwaitingScan
	// Ready は認証済みでコマンドを実行可能な状態。
	Ready
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case AwaitingScan:
		return "awaiting_scan"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// StateObserver は状態遷移の通知先。メトリクスのゲージ更新などに使う。
type StateObserver interface {
	ObserveSessionState(state State)
}

// Snapshot はある時点のセッション状態のコピー。
type Snapshot struct {
	State         State
	LastChallenge string
	ChangedAt     time.Time
}

// Tracker はセッション状態を保持する。
// 書き込みはライフサイクルイベントのみ、読み取りは並行するコマンドハンドラーから行われる。
type Tracker struct {
	mu        sync.RWMutex
	state     State
	challenge string
	changedAt time.Time
	observer  StateObserver
	now       func() time.Time
}

// NewTracker はUnauthenticated状態のTrackerを生成する。observerはnilでもよい。
func NewTracker(observer StateObserver) *Tracker {
	t := &Tracker{
		state:    Unauthenticated,
		observer: observer,
		now:      time.Now,
	}
	t.changedAt = t.now()
	if observer != nil {
		observer.ObserveSessionState(Unauthenticated)
	}
	return t
}

// OnChallenge はQRチャレンジを記録し、AwaitingScanへ遷移する。
// スキャン待ち中の新しいチャレンジは古いものを置き換える。
// Ready到達後のチャレンジは無視し、falseを返す。
func (t *Tracker) OnChallenge(payload string) bool {
	t.mu.Lock()
	if t.state == Ready {
		t.mu.Unlock()
		return false
	}
	t.state = AwaitingScan
	t.challenge = payload
	t.changedAt = t.now()
	t.mu.Unlock()

	t.notify(AwaitingScan)
	return true
}

// OnReady はReadyへ遷移し、保持していたチャレンジを破棄する。
// すでにReadyの場合は何もせずfalseを返す。
func (t *Tracker) OnReady() bool {
	t.mu.Lock()
	if t.state == Ready {
		t.mu.Unlock()
		return false
	}
	t.state = Ready
	t.challenge = ""
	t.changedAt = t.now()
	t.mu.Unlock()

	t.notify(Ready)
	return true
}

// CurrentlyReady はコマンド実行可能かどうかを返す。
func (t *Tracker) CurrentlyReady() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state == Ready
}

// State は現在の状態を返す。
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// LastChallenge は未スキャンのQRチャレンジを返す。
// Ready到達後やチャレンジ未発行の場合はfalseを返す。
func (t *Tracker) LastChallenge() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.challenge == "" {
		return "", false
	}
	return t.challenge, true
}

// Snapshot は現在の状態のコピーを返す。
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		State:         t.state,
		LastChallenge: t.challenge,
		ChangedAt:     t.changedAt,
	}
}

func (t *Tracker) notify(state State) {
	if t.observer != nil {
		t.observer.ObserveSessionState(state)
	}
}
