// Package xadmit 实现消息准入裁决。
//
// Check 按固定顺序短路检查：封禁 → 层级限额（周 → 日 → 时 →
// 最小间隔），任何一步不过即返回带机读原因与用户文案的拒绝
// 裁决。Check 只读不写；计数登记由调用方在垃圾检测通过后调用
// RecordAccepted 完成，被判垃圾的消息不消耗配额。
//
// 内部故障一律 fail-open：裁决回退为放行，记录日志、告警与
// fail_open 指标。聊天可用性优先于限额的严格执行，低层存储
// 错误不跨越本包边界。
package xadmit
