// Package xusage 维护发送者的滚动用量计数。
//
// # 设计理念
//
// 计数按自然窗口分桶：小时、天、周，全部以 UTC 对齐（周窗口锚定最近的
// 周一零点）。键名携带窗口起点时间戳，跨窗口的消息自然落到新键上，
// 旧键靠 TTL 回收——不需要任何"归零"写操作。TTL 略长于窗口本身，
// 保证窗口存活期间键不会提前消失。
//
// 计数只增不减：同一窗口键上的 INCR 单调递增，读到的值只会偏小
// （键刚过期）不会偏大，限流判定因此是保守安全的。
//
// # 核心功能
//
//   - Record()：一次管道写入三个窗口计数与最近消息时间
//   - Usage()：读取当前三窗口用量，缺失键视为 0
//   - ResetWeekly()：周一维护任务的显式清理入口
//   - KeyCount()：用量键总数，供容量健康检查
//
// # 使用示例
//
//	tracker, err := xusage.New(store)
//	if err != nil {
//	    return err
//	}
//	if err := tracker.Record(ctx, sender, time.Now()); err != nil {
//	    // 记录失败不拦截消息，由调用方决定告警
//	}
package xusage
