package xalert

import (
	"context"
	"log/slog"
)

// Level 告警级别。
type Level string

// 支持的告警级别。
const (
	// LevelInfo 信息性告警，不需要人工介入。
	LevelInfo Level = "INFO"

	// LevelWarning 警告级告警，需要关注但不紧急。
	LevelWarning Level = "WARNING"

	// LevelCritical 严重告警，需要立即处理。
	LevelCritical Level = "CRITICAL"
)

// IsValid 检查告警级别是否有效。
func (l Level) IsValid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelCritical:
		return true
	default:
		return false
	}
}

// slogLevel 返回对应的 slog 级别。
// CRITICAL 没有 slog 原生级别，映射为 Error。
func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelWarning:
		return slog.LevelWarn
	case LevelCritical:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Sink 告警接收端契约。
//
// 实现应该是并发安全的，且不得阻塞调用方（慢通道请自行异步化）。
// Send 不返回错误：告警是尽力而为的旁路，失败只能记日志，
// 不应让告警失败反过来影响业务路径。
type Sink interface {
	// Send 发送一条告警。
	Send(ctx context.Context, level Level, msg string, attrs ...slog.Attr)
}

// SinkFunc 函数适配器，将函数转换为 Sink 接口。
type SinkFunc func(ctx context.Context, level Level, msg string, attrs ...slog.Attr)

// Send 实现 Sink 接口。
func (f SinkFunc) Send(ctx context.Context, level Level, msg string, attrs ...slog.Attr) {
	f(ctx, level, msg, attrs...)
}

// Logger 日志接口，兼容 xlog.Logger。
type Logger interface {
	Info(ctx context.Context, msg string, attrs ...slog.Attr)
	Warn(ctx context.Context, msg string, attrs ...slog.Attr)
	Error(ctx context.Context, msg string, attrs ...slog.Attr)
}

// logSink 将告警落到日志的 Sink 实现。
type logSink struct {
	logger Logger
}

// NewLogSink 创建日志告警端。
// 级别映射：INFO→Info，WARNING→Warn，CRITICAL→Error。
// logger 为 nil 时退化为 Nop。
func NewLogSink(logger Logger) Sink {
	if logger == nil {
		return Nop()
	}
	return &logSink{logger: logger}
}

// Send 实现 Sink 接口。
func (s *logSink) Send(ctx context.Context, level Level, msg string, attrs ...slog.Attr) {
	attrs = append(attrs, slog.String("alert_level", string(level)))
	switch level.slogLevel() {
	case slog.LevelWarn:
		s.logger.Warn(ctx, msg, attrs...)
	case slog.LevelError:
		s.logger.Error(ctx, msg, attrs...)
	default:
		s.logger.Info(ctx, msg, attrs...)
	}
}

// nopSink 丢弃所有告警。
type nopSink struct{}

func (nopSink) Send(context.Context, Level, string, ...slog.Attr) {}

// Nop 返回丢弃所有告警的 Sink。
func Nop() Sink {
	return nopSink{}
}
