package xpolicy

import "errors"

// 预定义错误，使用 errors.Is 进行比较。
var (
	// ErrInvalidPolicy 策略内容无效。
	ErrInvalidPolicy = errors.New("xpolicy: invalid policy")

	// ErrUnsupportedFormat 不支持的配置格式。
	ErrUnsupportedFormat = errors.New("xpolicy: unsupported format")

	// ErrUnknownTier 限额表中不存在的信任层级。
	ErrUnknownTier = errors.New("xpolicy: unknown tier")
)
