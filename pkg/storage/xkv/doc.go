// Package xkv 提供准入引擎的计数存储：带 TTL 的键值操作、原子自增、
// 列表操作与批量管道，以及 Redis 不可用时的进程内降级。
//
// # 设计理念
//
// 引擎的所有热路径状态（窗口计数、封禁键、去重键、垃圾内容历史）都
// 走同一个 Store 契约。两个实现行为对调用方完全一致：
//   - Redis 实现：多进程共享，操作带有界重试
//   - 内存实现：单进程，手动过期清扫，语义对齐 Redis
//
// # 降级策略
//
// NewFailover 返回的 Store 先走 Redis；当熔断器因持续连接失败打开时，
// 一次性、永久地切换到内存实现（进程生命周期内不切回，需要重启恢复）。
// 这是刻意的简单性/可用性取舍：切回意味着两份计数状态的合并问题，
// 而受限的单进程计数已经足以维持正确性保证。
//
// # 快速开始
//
//	store := xkv.NewFailover(redisClient,
//	    xkv.WithLogger(logger),
//	    xkv.WithAlerts(sink),
//	)
//	defer store.Close()
//
//	n, err := store.Incr(ctx, "msggate:usage:hour:1700000000:+420777888999")
//
// # 管道
//
// Pipeline 将多个写操作作为一个单元执行（Redis 为 MULTI/EXEC，
// 内存实现为单锁临界区）：
//
//	p := store.Pipeline()
//	p.Incr(hourKey)
//	p.Expire(hourKey, 61*time.Minute)
//	p.Set(lastKey, now.Format(time.RFC3339), 7*24*time.Hour)
//	err := p.Exec(ctx)
package xkv
