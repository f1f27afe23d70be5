package xkv

import (
	"time"

	"github.com/omeyang/msggate/pkg/observability/xalert"
)

// 默认配置值。
const (
	// DefaultRetryAttempts Redis 单操作总尝试次数（含首次）。
	DefaultRetryAttempts = 2

	// DefaultRetryDelay Redis 重试间隔。
	DefaultRetryDelay = 50 * time.Millisecond

	// DefaultScanCount SCAN 每批数量。
	DefaultScanCount = 256

	// DefaultJanitorInterval 内存实现的过期清扫间隔。
	DefaultJanitorInterval = 30 * time.Second

	// DefaultFailureBudget 触发永久降级的连续失败次数。
	DefaultFailureBudget = 5
)

// options 存储配置。
type options struct {
	retryAttempts   uint
	retryDelay      time.Duration
	scanCount       int64
	janitorInterval time.Duration
	failureBudget   uint32
	logger          Logger
	alerts          xalert.Sink
}

// defaultOptions 返回默认配置。
func defaultOptions() *options {
	return &options{
		retryAttempts:   DefaultRetryAttempts,
		retryDelay:      DefaultRetryDelay,
		scanCount:       DefaultScanCount,
		janitorInterval: DefaultJanitorInterval,
		failureBudget:   DefaultFailureBudget,
		alerts:          xalert.Nop(),
	}
}

// Option 存储配置选项。
type Option func(*options)

// WithRetry 设置 Redis 单操作的重试参数。
// attempts 为总尝试次数（含首次），0 会被归一为 1。
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(o *options) {
		if attempts == 0 {
			attempts = 1
		}
		o.retryAttempts = attempts
		if delay > 0 {
			o.retryDelay = delay
		}
	}
}

// WithScanCount 设置 SCAN 每批数量。
func WithScanCount(count int64) Option {
	return func(o *options) {
		if count > 0 {
			o.scanCount = count
		}
	}
}

// WithJanitorInterval 设置内存实现的过期清扫间隔。
func WithJanitorInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.janitorInterval = interval
		}
	}
}

// WithFailureBudget 设置触发永久降级的连续失败次数。
func WithFailureBudget(budget uint32) Option {
	return func(o *options) {
		if budget > 0 {
			o.failureBudget = budget
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithAlerts 设置告警端。降级切换时发送一次 CRITICAL 告警。
func WithAlerts(sink xalert.Sink) Option {
	return func(o *options) {
		if sink != nil {
			o.alerts = sink
		}
	}
}
