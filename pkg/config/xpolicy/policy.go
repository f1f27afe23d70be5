package xpolicy

import (
	"fmt"
	"time"
)

// 内置信任层级名。限额表的键必须取自这些值。
const (
	TierNewUser  = "new_user"
	TierRegular  = "regular"
	TierVerified = "verified"
	TierPremium  = "premium"
)

// TierLimits 单个信任层级的限额配置。
type TierLimits struct {
	// WeeklyMax 周窗口最大消息数。
	WeeklyMax int `json:"weekly_max" yaml:"weekly_max" koanf:"weekly_max"`

	// DailyMax 日窗口最大消息数。
	DailyMax int `json:"daily_max" yaml:"daily_max" koanf:"daily_max"`

	// HourlyMax 小时窗口最大消息数。
	HourlyMax int `json:"hourly_max" yaml:"hourly_max" koanf:"hourly_max"`

	// MinSecondsBetween 相邻两条消息的最小间隔（秒）。
	MinSecondsBetween int `json:"min_seconds_between" yaml:"min_seconds_between" koanf:"min_seconds_between"`

	// Description 面向运营的人类可读描述。
	Description string `json:"description" yaml:"description" koanf:"description"`
}

// MinGap 返回最小消息间隔。
func (l TierLimits) MinGap() time.Duration {
	return time.Duration(l.MinSecondsBetween) * time.Second
}

// Validate 验证限额是否有效。
func (l TierLimits) Validate() error {
	if l.WeeklyMax <= 0 || l.DailyMax <= 0 || l.HourlyMax <= 0 {
		return fmt.Errorf("%w: limits must be positive (weekly=%d daily=%d hourly=%d)",
			ErrInvalidPolicy, l.WeeklyMax, l.DailyMax, l.HourlyMax)
	}
	if l.MinSecondsBetween < 0 {
		return fmt.Errorf("%w: min_seconds_between cannot be negative", ErrInvalidPolicy)
	}
	if l.DailyMax > l.WeeklyMax {
		return fmt.Errorf("%w: daily_max %d exceeds weekly_max %d", ErrInvalidPolicy, l.DailyMax, l.WeeklyMax)
	}
	return nil
}

// SpamPolicy 垃圾内容检测参数。
type SpamPolicy struct {
	// DuplicateThreshold 滚动窗口内相同内容出现多少次判为重复（含本条）。
	DuplicateThreshold int `json:"duplicate_threshold" yaml:"duplicate_threshold" koanf:"duplicate_threshold"`

	// HistoryKeep 每个发送者保留的历史条目数。
	HistoryKeep int `json:"history_keep" yaml:"history_keep" koanf:"history_keep"`

	// HistoryRead 重复检查时读取的最近条目数。
	HistoryRead int `json:"history_read" yaml:"history_read" koanf:"history_read"`

	// HistoryTTLMinutes 历史列表的存活时间（分钟）。
	HistoryTTLMinutes int `json:"history_ttl_minutes" yaml:"history_ttl_minutes" koanf:"history_ttl_minutes"`

	// Patterns 垃圾内容正则规则，按顺序匹配，首个命中即短路。
	// 为空时使用内置规则集。
	Patterns []string `json:"patterns" yaml:"patterns" koanf:"patterns"`
}

// HistoryTTL 返回历史列表 TTL。
func (s SpamPolicy) HistoryTTL() time.Duration {
	return time.Duration(s.HistoryTTLMinutes) * time.Minute
}

// BanPolicy 封禁升级参数。
type BanPolicy struct {
	// ViolationsBeforeBan 滚动一小时内触发自动封禁的违规次数。
	ViolationsBeforeBan int `json:"violations_before_ban" yaml:"violations_before_ban" koanf:"violations_before_ban"`

	// TempBanHours 自动封禁时长（小时）。
	TempBanHours int `json:"temp_ban_hours" yaml:"temp_ban_hours" koanf:"temp_ban_hours"`
}

// TempBanDuration 返回自动封禁时长。
func (b BanPolicy) TempBanDuration() time.Duration {
	return time.Duration(b.TempBanHours) * time.Hour
}

// TierPolicy 信任层级晋升参数。
type TierPolicy struct {
	// UpgradeThresholdDays 注册满多少天后 NEW_USER 晋升为 REGULAR。
	UpgradeThresholdDays int `json:"upgrade_threshold_days" yaml:"upgrade_threshold_days" koanf:"upgrade_threshold_days"`
}

// UpgradeThreshold 返回晋升所需的注册时长。
func (t TierPolicy) UpgradeThreshold() time.Duration {
	return time.Duration(t.UpgradeThresholdDays) * 24 * time.Hour
}

// MaintenancePolicy 维护任务参数。
type MaintenancePolicy struct {
	// UsageQuotaCeiling 系统级小时消息量上限，巡检任务据此计算用量百分比。
	UsageQuotaCeiling int `json:"usage_quota_ceiling" yaml:"usage_quota_ceiling" koanf:"usage_quota_ceiling"`

	// UsageWarnPercent 用量百分比的 WARNING 阈值。
	UsageWarnPercent int `json:"usage_warn_percent" yaml:"usage_warn_percent" koanf:"usage_warn_percent"`

	// UsageCriticalPercent 用量百分比的 CRITICAL 阈值。
	UsageCriticalPercent int `json:"usage_critical_percent" yaml:"usage_critical_percent" koanf:"usage_critical_percent"`

	// ViolationRetentionDays 违规记录保留天数。
	ViolationRetentionDays int `json:"violation_retention_days" yaml:"violation_retention_days" koanf:"violation_retention_days"`

	// InactiveRetentionDays 不活跃发送者保留天数。
	InactiveRetentionDays int `json:"inactive_retention_days" yaml:"inactive_retention_days" koanf:"inactive_retention_days"`
}

// Policy 准入引擎完整策略。
type Policy struct {
	// Tiers 信任层级限额表，键为层级名（new_user/regular/verified/premium）。
	Tiers map[string]TierLimits `json:"tiers" yaml:"tiers" koanf:"tiers"`

	// Spam 垃圾内容检测参数。
	Spam SpamPolicy `json:"spam" yaml:"spam" koanf:"spam"`

	// Ban 封禁升级参数。
	Ban BanPolicy `json:"ban" yaml:"ban" koanf:"ban"`

	// Tier 层级晋升参数。
	Tier TierPolicy `json:"tier" yaml:"tier" koanf:"tier"`

	// Maintenance 维护任务参数。
	Maintenance MaintenancePolicy `json:"maintenance" yaml:"maintenance" koanf:"maintenance"`
}

// knownTiers 限额表允许的键集合。
var knownTiers = map[string]struct{}{
	TierNewUser:  {},
	TierRegular:  {},
	TierVerified: {},
	TierPremium:  {},
}

// Validate 验证策略是否完整有效。
func (p Policy) Validate() error {
	if len(p.Tiers) == 0 {
		return fmt.Errorf("%w: tier table is empty", ErrInvalidPolicy)
	}
	for name, limits := range p.Tiers {
		if _, ok := knownTiers[name]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownTier, name)
		}
		if err := limits.Validate(); err != nil {
			return fmt.Errorf("tiers[%s]: %w", name, err)
		}
	}
	// 四个层级必须全部配置：层级解析结果是封闭枚举，缺项意味着
	// 某类发送者在运行期查不到限额。
	for name := range knownTiers {
		if _, ok := p.Tiers[name]; !ok {
			return fmt.Errorf("%w: missing limits for tier %q", ErrInvalidPolicy, name)
		}
	}

	if p.Spam.DuplicateThreshold < 2 {
		return fmt.Errorf("%w: duplicate_threshold must be >= 2", ErrInvalidPolicy)
	}
	if p.Spam.HistoryRead <= 0 || p.Spam.HistoryKeep < p.Spam.HistoryRead {
		return fmt.Errorf("%w: history_keep %d must cover history_read %d",
			ErrInvalidPolicy, p.Spam.HistoryKeep, p.Spam.HistoryRead)
	}
	if p.Spam.HistoryTTLMinutes <= 0 {
		return fmt.Errorf("%w: history_ttl_minutes must be positive", ErrInvalidPolicy)
	}

	if p.Ban.ViolationsBeforeBan <= 0 {
		return fmt.Errorf("%w: violations_before_ban must be positive", ErrInvalidPolicy)
	}
	if p.Ban.TempBanHours <= 0 {
		return fmt.Errorf("%w: temp_ban_hours must be positive", ErrInvalidPolicy)
	}

	if p.Tier.UpgradeThresholdDays <= 0 {
		return fmt.Errorf("%w: upgrade_threshold_days must be positive", ErrInvalidPolicy)
	}

	m := p.Maintenance
	if m.UsageWarnPercent <= 0 || m.UsageCriticalPercent <= m.UsageWarnPercent {
		return fmt.Errorf("%w: usage thresholds must satisfy 0 < warn < critical", ErrInvalidPolicy)
	}
	return nil
}

// LimitsFor 返回指定层级的限额。
// 层级未配置时返回 ErrUnknownTier。
func (p Policy) LimitsFor(tier string) (TierLimits, error) {
	limits, ok := p.Tiers[tier]
	if !ok {
		return TierLimits{}, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	return limits, nil
}

// Default 返回内置默认策略。
func Default() Policy {
	return Policy{
		Tiers: map[string]TierLimits{
			TierNewUser: {
				WeeklyMax: 20, DailyMax: 10, HourlyMax: 5, MinSecondsBetween: 10,
				Description: "newly registered sender, conservative limits",
			},
			TierRegular: {
				WeeklyMax: 50, DailyMax: 20, HourlyMax: 10, MinSecondsBetween: 5,
				Description: "established sender past the probation window",
			},
			TierVerified: {
				WeeklyMax: 100, DailyMax: 40, HourlyMax: 20, MinSecondsBetween: 3,
				Description: "sender with a verified tax ID",
			},
			TierPremium: {
				WeeklyMax: 1000, DailyMax: 200, HourlyMax: 60, MinSecondsBetween: 1,
				Description: "active paid subscription",
			},
		},
		Spam: SpamPolicy{
			DuplicateThreshold: 3,
			HistoryKeep:        10,
			HistoryRead:        5,
			HistoryTTLMinutes:  60,
		},
		Ban: BanPolicy{
			ViolationsBeforeBan: 5,
			TempBanHours:        24,
		},
		Tier: TierPolicy{
			UpgradeThresholdDays: 7,
		},
		Maintenance: MaintenancePolicy{
			UsageQuotaCeiling:      10000,
			UsageWarnPercent:       80,
			UsageCriticalPercent:   95,
			ViolationRetentionDays: 30,
			InactiveRetentionDays:  180,
		},
	}
}

// Clone 创建策略的深拷贝。
func (p Policy) Clone() Policy {
	clone := p
	if p.Tiers != nil {
		clone.Tiers = make(map[string]TierLimits, len(p.Tiers))
		for name, limits := range p.Tiers {
			clone.Tiers[name] = limits
		}
	}
	if p.Spam.Patterns != nil {
		clone.Spam.Patterns = make([]string, len(p.Spam.Patterns))
		copy(clone.Spam.Patterns, p.Spam.Patterns)
	}
	return clone
}
