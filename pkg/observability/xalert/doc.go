// Package xalert 定义告警接入点，供维护任务和降级路径上报运营告警。
//
// # 设计理念
//
// 引擎自身不拥有任何告警通道（钉钉、邮件、PagerDuty 等都是宿主系统的职责），
// 只定义最小的 Sink 契约并在关键路径上调用：
//   - 计数存储降级切换（一次性 CRITICAL）
//   - 准入 fail-open 路径（WARNING）
//   - 维护任务失败（WARNING）与巡检发现（WARNING/CRITICAL）
//
// # 快速开始
//
//	sink := xalert.NewLogSink(logger)
//	sink.Send(ctx, xalert.LevelWarning, "weekly reset failed",
//	    slog.String("job", "weekly-reset"))
//
// 不需要告警时使用 xalert.Nop()。
package xalert
