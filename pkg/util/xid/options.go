package xid

import "time"

// options 生成器配置。
type options struct {
	machineID     func() (uint16, error)
	maxWait       time.Duration
	retryInterval time.Duration
}

func defaultOptions() *options {
	return &options{
		maxWait:       DefaultMaxWait,
		retryInterval: DefaultRetryInterval,
	}
}

// Option 生成器配置选项。
type Option func(*options)

// WithMachineID 设置自定义机器 ID 获取函数。
func WithMachineID(fn func() (uint16, error)) Option {
	return func(o *options) {
		o.machineID = fn
	}
}

// WithClockBackwardWait 设置时钟回拨时的最大等待时间与重试间隔。
func WithClockBackwardWait(maxWait, interval time.Duration) Option {
	return func(o *options) {
		o.maxWait = maxWait
		o.retryInterval = interval
	}
}
