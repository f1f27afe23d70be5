package xlog

import (
	"context"
	"log/slog"
)

// KeyStack Stack 方法输出的堆栈字段名。
const KeyStack = "stack"

// Logger 日志接口。
//
// 所有方法都需要 context.Context 参数；属性只接受 slog.Attr，
// 避免隐式 key-value 转换开销。
type Logger interface {
	// Debug 记录 Debug 级别日志。
	Debug(ctx context.Context, msg string, attrs ...slog.Attr)

	// Info 记录 Info 级别日志。
	Info(ctx context.Context, msg string, attrs ...slog.Attr)

	// Warn 记录 Warn 级别日志。
	Warn(ctx context.Context, msg string, attrs ...slog.Attr)

	// Error 记录 Error 级别日志。
	Error(ctx context.Context, msg string, attrs ...slog.Attr)

	// Stack 记录带当前 goroutine 调用栈的错误日志。
	Stack(ctx context.Context, msg string, attrs ...slog.Attr)

	// With 返回带额外属性的派生 Logger。
	// 派生 logger 共享父级的级别变量，动态级别变更同步生效。
	With(attrs ...slog.Attr) Logger

	// WithGroup 返回带分组的派生 Logger，
	// 后续 With 添加的属性落在该分组下。
	WithGroup(name string) Logger
}

// Leveler 级别控制接口，与 Logger 分离以保持核心接口最小。
type Leveler interface {
	// SetLevel 动态设置日志级别，运行时生效。
	SetLevel(level Level)

	// GetLevel 获取当前日志级别。
	GetLevel() Level

	// Enabled 检查指定级别是否启用，
	// 用于在构造昂贵的日志参数前先行短路。
	Enabled(ctx context.Context, level Level) bool
}

// LoggerWithLevel 组合接口：Logger + Leveler。Build 返回此接口。
type LoggerWithLevel interface {
	Logger
	Leveler
}

// Nop 返回丢弃所有输出的 Logger，供测试与可选依赖的默认值使用。
func Nop() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...slog.Attr) {}
func (nopLogger) Info(context.Context, string, ...slog.Attr)  {}
func (nopLogger) Warn(context.Context, string, ...slog.Attr)  {}
func (nopLogger) Error(context.Context, string, ...slog.Attr) {}
func (nopLogger) Stack(context.Context, string, ...slog.Attr) {}
func (n nopLogger) With(...slog.Attr) Logger                  { return n }
func (n nopLogger) WithGroup(string) Logger                   { return n }
