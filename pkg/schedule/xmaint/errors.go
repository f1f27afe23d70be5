package xmaint

import "errors"

// 预定义错误，使用 errors.Is 进行比较。
var (
	// ErrNilDependency 必要依赖为 nil。
	ErrNilDependency = errors.New("xmaint: nil dependency")

	// ErrAlreadyStarted 调度器已启动。
	ErrAlreadyStarted = errors.New("xmaint: scheduler already started")

	// ErrNotStarted 调度器尚未启动。
	ErrNotStarted = errors.New("xmaint: scheduler not started")

	// ErrUnknownJob 任务名未注册。
	ErrUnknownJob = errors.New("xmaint: unknown job")
)
