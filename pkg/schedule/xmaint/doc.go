// Package xmaint 实现后台维护任务的调度。
//
// 基于 robfig/cron（UTC 时区）运行六个固定任务：
//   - weekly-reset  周一 00:00   清空上一周的窗口计数键
//   - daily-report  每日 00:00   生成用量日报并上报严重发现
//   - hourly-health 每小时       存储探活 + 系统用量水位巡检
//   - ban-sweep     每 15 分钟   清理已到期的封禁镜像
//   - tier-sweep    每 4 小时    批量晋升符合条件的发送者
//   - retention     每日 02:00   删除超保留期的违规记录与不活跃档案
//
// 每个任务由 jobWrapper 包装：panic 恢复、超时、计时、逐任务
// 统计，失败时记录日志并发送 WARNING 告警。运行内不重试，
// 失败等下一个调度点；维护任务永不阻塞准入热路径。
package xmaint
