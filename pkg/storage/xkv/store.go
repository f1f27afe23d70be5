package xkv

import (
	"context"
	"log/slog"
	"time"
)

// Store 计数存储契约。
//
// 实现必须是并发安全的。Get/TTL 对不存在的键返回 ErrNotFound；
// 其余操作对不存在的键遵循 Redis 语义（Incr 从 0 起、Del 计数为 0 等）。
type Store interface {
	// Incr 原子自增并返回新值。键不存在时从 0 开始。
	Incr(ctx context.Context, key string) (int64, error)

	// Set 写入值并设置过期时间。ttl <= 0 表示不过期。
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX 仅当键不存在时写入，返回是否写入成功。
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get 读取值。键不存在时返回 ErrNotFound。
	Get(ctx context.Context, key string) (string, error)

	// Exists 检查键是否存在。
	Exists(ctx context.Context, key string) (bool, error)

	// TTL 返回键的剩余存活时间。键不存在时返回 ErrNotFound；
	// 键存在但未设置过期时返回 0。
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Del 删除键，返回实际删除的数量。
	Del(ctx context.Context, keys ...string) (int64, error)

	// LPush 向列表头部推入一个元素。
	LPush(ctx context.Context, key, value string) error

	// LTrim 裁剪列表到 [start, stop] 区间（含端点）。
	LTrim(ctx context.Context, key string, start, stop int64) error

	// LRange 读取列表 [start, stop] 区间（含端点）。键不存在时返回空切片。
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Keys 返回匹配模式的所有键。模式仅支持 * 通配符。
	// Redis 实现基于 SCAN 而非 KEYS，避免阻塞。
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Pipeline 返回新的操作管道。排队的操作在 Exec 时作为一个单元执行。
	Pipeline() Pipeline

	// Ping 探测存储可达性。
	Ping(ctx context.Context) error

	// Close 释放自有资源（不关闭注入的外部客户端）。
	Close() error

	// Kind 返回实现类型标识（"redis" 或 "memory"），用于日志和指标。
	Kind() string
}

// Pipeline 批量操作管道。
//
// 排队方法不返回错误：错误统一在 Exec 时上报。
// Pipeline 不是并发安全的，一个实例只应被一个 goroutine 使用。
type Pipeline interface {
	// Incr 排队一次自增。
	Incr(key string)

	// Set 排队一次带 TTL 的写入。
	Set(key, value string, ttl time.Duration)

	// Expire 排队一次 TTL 刷新。
	Expire(key string, ttl time.Duration)

	// LPush 排队一次列表头部推入。
	LPush(key, value string)

	// LTrim 排队一次列表裁剪。
	LTrim(key string, start, stop int64)

	// Exec 执行全部排队操作。Redis 实现走 MULTI/EXEC；
	// 内存实现在单个临界区内应用。
	Exec(ctx context.Context) error
}

// Logger 日志接口，兼容 xlog.Logger。
type Logger interface {
	Debug(ctx context.Context, msg string, attrs ...slog.Attr)
	Info(ctx context.Context, msg string, attrs ...slog.Attr)
	Warn(ctx context.Context, msg string, attrs ...slog.Attr)
	Error(ctx context.Context, msg string, attrs ...slog.Attr)
}
