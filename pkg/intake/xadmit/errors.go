package xadmit

import "errors"

// 预定义错误，使用 errors.Is 进行比较。
var (
	// ErrNilDependency 必要依赖为 nil。
	ErrNilDependency = errors.New("xadmit: nil dependency")

	// ErrEmptySender 发送者标识为空字符串。
	ErrEmptySender = errors.New("xadmit: empty sender id")

	// ErrEmptyMessageID 消息标识为空字符串。
	ErrEmptyMessageID = errors.New("xadmit: empty message id")
)
