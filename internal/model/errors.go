// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はコマンド失敗の分類を表す。
// HTTPステータスへの対応付けはハンドラー層で行う。
type ErrorKind string

// 定義済みエラー種別
const (
	KindForbidden       ErrorKind = "forbidden"
	KindInvalidArgument ErrorKind = "invalid_argument"
	KindNotReady        ErrorKind = "not_ready"
	KindNotFound        ErrorKind = "not_found"
	KindInternal        ErrorKind = "internal"
	KindTimeout         ErrorKind = "timeout"
)

// CommandError はコマンド実行の失敗を表す。
// Errには下位クライアントの詳細が入ることがあるが、呼び出し元へは返さずログにのみ記録する。
type CommandError struct {
	Kind ErrorKind
	Op   string // 失敗した操作名（send, chats, messages など）
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap は内包するエラーを返す。
func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewInvalidArgumentError は入力不備エラーを生成する。
func NewInvalidArgumentError(op, reason string) *CommandError {
	return &CommandError{Kind: KindInvalidArgument, Op: op, Err: errors.New(reason)}
}

// NewNotReadyError はセッション未準備エラーを生成する。
func NewNotReadyError(op string) *CommandError {
	return &CommandError{Kind: KindNotReady, Op: op}
}

// NewNotFoundError はチャット未検出エラーを生成する。
func NewNotFoundError(op, target string) *CommandError {
	return &CommandError{Kind: KindNotFound, Op: op, Err: fmt.Errorf("no chat matches %q", target)}
}

// NewInternalError は下位クライアントの失敗をラップする。
func NewInternalError(op string, err error) *CommandError {
	return &CommandError{Kind: KindInternal, Op: op, Err: err}
}

// NewTimeoutError は下位クライアントの応答待ちが上限を超えたことを表す。
func NewTimeoutError(op string, err error) *CommandError {
	return &CommandError{Kind: KindTimeout, Op: op, Err: err}
}

// KindOf はエラーからErrorKindを取り出す。
// CommandError以外のエラーはKindInternalとして扱う。
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Kind
	}
	return KindInternal
}
