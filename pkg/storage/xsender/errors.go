package xsender

import "errors"

// 预定义错误，使用 errors.Is 进行比较。
var (
	// ErrNilClient 传入的 MongoDB 客户端为 nil。
	ErrNilClient = errors.New("xsender: nil client")

	// ErrNotFound 发送者不存在。
	ErrNotFound = errors.New("xsender: sender not found")

	// ErrEmptySender 发送者标识为空字符串。
	ErrEmptySender = errors.New("xsender: empty sender id")

	// ErrNilViolation 违规记录为 nil。
	ErrNilViolation = errors.New("xsender: nil violation")

	// ErrClosed 存储已关闭。
	ErrClosed = errors.New("xsender: store closed")
)
