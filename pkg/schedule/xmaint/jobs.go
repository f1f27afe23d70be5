package xmaint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/omeyang/msggate/pkg/observability/xalert"
)

// bannedShareCriticalPercent 日报中封禁占比的严重阈值。
// 超过它通常意味着遭到批量攻击或检测规则误伤，需要人工介入。
const bannedShareCriticalPercent = 10

// runWeeklyReset 清空上一周的窗口计数键。
// 计数键带周起点时间戳，新一周的写入永远落在新键上，删除
// 旧键与在途写入没有竞争。
func (s *Scheduler) runWeeklyReset(ctx context.Context) error {
	deleted, err := s.usage.ResetWeekly(ctx, s.opts.now().UTC())
	if err != nil {
		return fmt.Errorf("reset weekly counters: %w", err)
	}
	if s.opts.logger != nil {
		s.opts.logger.Info(ctx, "weekly usage counters cleared",
			slog.Int64("deleted_keys", deleted),
		)
	}
	return nil
}

// runDailyReport 生成用量日报并上报严重发现。
func (s *Scheduler) runDailyReport(ctx context.Context) error {
	now := s.opts.now().UTC()

	counts, err := s.senders.Counts(ctx, now)
	if err != nil {
		return fmt.Errorf("collect daily report: %w", err)
	}

	if s.opts.logger != nil {
		s.opts.logger.Info(ctx, "daily usage report",
			slog.Int64("senders", counts.Senders),
			slog.Int64("banned", counts.Banned),
			slog.Int64("violations_last_day", counts.ViolationsLastDay),
			slog.Any("by_tier", counts.ByTier),
		)
	}

	if counts.Senders > 0 {
		share := counts.Banned * 100 / counts.Senders
		if share >= bannedShareCriticalPercent {
			s.opts.alerts.Send(ctx, xalert.LevelCritical, "banned sender share is critical",
				slog.Int64("banned", counts.Banned),
				slog.Int64("senders", counts.Senders),
				slog.Int64("share_percent", share),
			)
		}
	}
	return nil
}

// runHourlyHealth 探活档案存储并巡检系统用量水位。
// 活跃用量键数量是在途消息规模的代理指标：每个活跃发送者
// 最多四个键，水位贴近配额上限说明系统接近过载。
func (s *Scheduler) runHourlyHealth(ctx context.Context) error {
	if err := s.senders.Ping(ctx); err != nil {
		return fmt.Errorf("sender store health probe: %w", err)
	}

	keys, err := s.usage.KeyCount(ctx)
	if err != nil {
		return fmt.Errorf("count usage keys: %w", err)
	}

	ceiling := int64(s.opts.policy.UsageQuotaCeiling)
	if ceiling <= 0 {
		return nil
	}

	percent := keys * 100 / ceiling
	switch {
	case percent >= int64(s.opts.policy.UsageCriticalPercent):
		s.opts.alerts.Send(ctx, xalert.LevelCritical, "system usage near quota ceiling",
			slog.Int64("usage_keys", keys),
			slog.Int64("ceiling", ceiling),
			slog.Int64("percent", percent),
		)
	case percent >= int64(s.opts.policy.UsageWarnPercent):
		s.opts.alerts.Send(ctx, xalert.LevelWarning, "system usage approaching quota ceiling",
			slog.Int64("usage_keys", keys),
			slog.Int64("ceiling", ceiling),
			slog.Int64("percent", percent),
		)
	}

	if s.opts.logger != nil {
		s.opts.logger.Debug(ctx, "hourly health check done",
			slog.Int64("usage_keys", keys),
			slog.Int64("percent", percent),
		)
	}
	return nil
}

// runBanSweep 清理封禁已到期的镜像记录。
// 计数存储的 TTL 是解封的权威判定，这里只是把持久镜像
// 追平到同一结论。
func (s *Scheduler) runBanSweep(ctx context.Context) error {
	cleared, err := s.bans.SweepMirrors(ctx)
	if err != nil {
		return fmt.Errorf("sweep ban mirrors: %w", err)
	}
	if cleared > 0 && s.opts.logger != nil {
		s.opts.logger.Info(ctx, "expired ban mirrors cleared",
			slog.Int64("cleared", cleared),
		)
	}
	return nil
}

// runTierSweep 批量晋升符合条件的发送者，补上那些最近没发过
// 消息、因此没触发过内联层级解析的档案。
func (s *Scheduler) runTierSweep(ctx context.Context) error {
	upgraded, err := s.tiers.EvaluateAll(ctx, s.opts.now())
	if err != nil {
		return fmt.Errorf("bulk tier evaluation: %w", err)
	}
	if upgraded > 0 && s.opts.logger != nil {
		s.opts.logger.Info(ctx, "senders upgraded by tier sweep",
			slog.Int64("upgraded", upgraded),
		)
	}
	return nil
}

// runRetention 删除超保留期的违规记录与不活跃档案。
// 封禁中的档案不删，解封后的下一轮保留扫描再处理。
func (s *Scheduler) runRetention(ctx context.Context) error {
	now := s.opts.now().UTC()

	violationsDeleted, violationsErr := s.senders.DeleteViolationsBefore(ctx,
		now.AddDate(0, 0, -s.opts.policy.ViolationRetentionDays))
	sendersDeleted, sendersErr := s.senders.DeleteInactiveBefore(ctx,
		now.AddDate(0, 0, -s.opts.policy.InactiveRetentionDays))

	if s.opts.logger != nil {
		s.opts.logger.Info(ctx, "retention cleanup done",
			slog.Int64("violations_deleted", violationsDeleted),
			slog.Int64("senders_deleted", sendersDeleted),
		)
	}
	return errors.Join(violationsErr, sendersErr)
}
