package xtier

import "errors"

// 预定义错误，使用 errors.Is 进行比较。
var (
	// ErrNilStore 档案存储为 nil。
	ErrNilStore = errors.New("xtier: nil sender store")

	// ErrEmptySender 发送者标识为空字符串。
	ErrEmptySender = errors.New("xtier: empty sender id")

	// ErrClosed 引擎已关闭。
	ErrClosed = errors.New("xtier: engine closed")
)
