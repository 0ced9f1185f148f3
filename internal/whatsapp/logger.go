package whatsapp

import (
	"context"
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogLogger はwhatsmeowのログをslogへ流すアダプター。
type slogLogger struct {
	logger *slog.Logger
	module string
}

// NewLogger はslog.Loggerをwhatsmeowのロガーとして使えるようにする。
func NewLogger(logger *slog.Logger) waLog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &slogLogger{logger: logger.With("component", "whatsmeow")}
}

func (l *slogLogger) Errorf(msg string, args ...interface{}) { l.log(slog.LevelError, msg, args) }
func (l *slogLogger) Warnf(msg string, args ...interface{})  { l.log(slog.LevelWarn, msg, args) }
func (l *slogLogger) Infof(msg string, args ...interface{})  { l.log(slog.LevelInfo, msg, args) }
func (l *slogLogger) Debugf(msg string, args ...interface{}) { l.log(slog.LevelDebug, msg, args) }

// Sub はモジュール名を付けた子ロガーを返す。入れ子の場合は "Client/Socket" のように連結する。
func (l *slogLogger) Sub(module string) waLog.Logger {
	if l.module != "" {
		module = l.module + "/" + module
	}
	return &slogLogger{logger: l.logger, module: module}
}

func (l *slogLogger) log(level slog.Level, msg string, args []interface{}) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	if l.module != "" {
		l.logger.Log(ctx, level, msg, "module", l.module)
		return
	}
	l.logger.Log(ctx, level, msg)
}
