package xadmit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/omeyang/msggate/pkg/config/xpolicy"
	"github.com/omeyang/msggate/pkg/intake/xban"
	"github.com/omeyang/msggate/pkg/intake/xspam"
	"github.com/omeyang/msggate/pkg/intake/xtier"
	"github.com/omeyang/msggate/pkg/intake/xusage"
	"github.com/omeyang/msggate/pkg/observability/xalert"
	"github.com/omeyang/msggate/pkg/storage/xkv"
	"github.com/omeyang/msggate/pkg/storage/xsender"
)

// DenyReason 拒绝原因的机读标识。
type DenyReason string

// 拒绝原因取值。
const (
	// ReasonBanned 发送者处于封禁中。
	ReasonBanned DenyReason = "banned"

	// ReasonWeeklyLimit 周窗口配额用尽。
	ReasonWeeklyLimit DenyReason = "weekly_limit"

	// ReasonDailyBurst 日窗口配额用尽。
	ReasonDailyBurst DenyReason = "daily_burst"

	// ReasonHourlyLimit 小时窗口配额用尽。
	ReasonHourlyLimit DenyReason = "hourly_limit"

	// ReasonTooFast 距上一条消息不足最小间隔。
	ReasonTooFast DenyReason = "too_fast"
)

// 消息去重参数。
const (
	// DefaultDedupPrefix 幂等键的默认前缀。
	DefaultDedupPrefix = "msggate:dedup"

	// DedupTTL 幂等键的有效期。webhook 重投递集中在分钟级，
	// 一小时窗口足以挡住重试风暴又不积压键空间。
	DedupTTL = time.Hour
)

// Logger 定义本包所需的最小日志接口，兼容 xlog.Logger。
type Logger interface {
	Debug(ctx context.Context, msg string, attrs ...slog.Attr)
	Info(ctx context.Context, msg string, attrs ...slog.Attr)
	Warn(ctx context.Context, msg string, attrs ...slog.Attr)
	Error(ctx context.Context, msg string, attrs ...slog.Attr)
}

// Verdict 一次准入裁决。
type Verdict struct {
	// Allowed 是否放行。
	Allowed bool

	// Reason 拒绝原因。Allowed 为 true 时为空。
	Reason DenyReason

	// ResetAt 配额恢复或封禁解除的时间（UTC）。
	// 仅限额类拒绝与封禁拒绝时有值。
	ResetAt time.Time

	// Wait 还需等待的时长。仅 ReasonTooFast 时有值。
	Wait time.Duration

	// Usage 检查时刻的用量快照。封禁拒绝与 fail-open 时为零值。
	Usage xusage.Usage

	// Limits 发送者层级的限额。封禁拒绝与 fail-open 时为零值。
	Limits xpolicy.TierLimits

	// Tier 解析出的信任层级。
	Tier string

	// Message 可直接回给发送者的英文文案。放行时为空。
	Message string
}

// =============================================================================
// 配置选项
// =============================================================================

type options struct {
	policy        xpolicy.Policy
	dedupPrefix   string
	logger        Logger
	alerts        xalert.Sink
	meterProvider metric.MeterProvider
}

func defaultOptions() *options {
	return &options{
		policy:      xpolicy.Default(),
		dedupPrefix: DefaultDedupPrefix,
		alerts:      xalert.Nop(),
	}
}

// Option 服务配置选项。
type Option func(*options)

// WithPolicy 设置限额策略。默认使用 xpolicy.Default()。
func WithPolicy(policy xpolicy.Policy) Option {
	return func(o *options) { o.policy = policy }
}

// WithDedupPrefix 设置幂等键前缀。
func WithDedupPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.dedupPrefix = prefix
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithAlerts 设置告警端。fail-open 放行时发送 WARNING 告警。
func WithAlerts(sink xalert.Sink) Option {
	return func(o *options) {
		if sink != nil {
			o.alerts = sink
		}
	}
}

// WithMeterProvider 设置指标提供者。nil 时不收集指标。
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = provider }
}

// =============================================================================
// 服务
// =============================================================================

// Service 准入裁决服务。
type Service struct {
	bans    *xban.Registry
	tiers   *xtier.Engine
	usage   *xusage.Tracker
	spam    *xspam.Detector
	senders xsender.Store
	kv      xkv.Store
	opts    *options
	metrics *Metrics
}

// New 创建准入裁决服务。六个依赖均为必传。
func New(bans *xban.Registry, tiers *xtier.Engine, usage *xusage.Tracker, spam *xspam.Detector, senders xsender.Store, kv xkv.Store, opts ...Option) (*Service, error) {
	if bans == nil || tiers == nil || usage == nil || spam == nil || senders == nil || kv == nil {
		return nil, ErrNilDependency
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	metrics, err := NewMetrics(o.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("xadmit: create metrics: %w", err)
	}

	return &Service{
		bans:    bans,
		tiers:   tiers,
		usage:   usage,
		spam:    spam,
		senders: senders,
		kv:      kv,
		opts:    o,
		metrics: metrics,
	}, nil
}

// =============================================================================
// 裁决
// =============================================================================

// Check 对发送者做准入裁决。只读不写，计数由 RecordAccepted 登记。
//
// 检查顺序：封禁 → 层级限额（周 → 日 → 时 → 最小间隔），首个
// 不通过的检查短路返回。任何内部错误 fail-open 为放行。
func (s *Service) Check(ctx context.Context, sender string, now time.Time) (*Verdict, error) {
	if sender == "" {
		return nil, ErrEmptySender
	}
	now = now.UTC()
	started := time.Now()

	status, err := s.bans.Check(ctx, sender)
	if err != nil {
		return s.failOpen(ctx, sender, "ban_check", err, started), nil
	}
	if status.Banned {
		verdict := &Verdict{
			Reason:  ReasonBanned,
			ResetAt: status.Until,
			Message: banMessage(status.Until),
		}
		s.metrics.RecordVerdict(ctx, verdict.Tier, false, verdict.Reason, time.Since(started))
		return verdict, nil
	}

	tier, err := s.tiers.Resolve(ctx, sender, now)
	if err != nil {
		return s.failOpen(ctx, sender, "tier_resolve", err, started), nil
	}

	limits, err := s.opts.policy.LimitsFor(tier)
	if err != nil {
		return s.failOpen(ctx, sender, "limits_lookup", err, started), nil
	}

	usage, err := s.usage.Usage(ctx, sender, now)
	if err != nil {
		return s.failOpen(ctx, sender, "usage_read", err, started), nil
	}

	verdict := evaluate(*usage, limits, now)
	verdict.Tier = tier
	s.metrics.RecordVerdict(ctx, tier, verdict.Allowed, verdict.Reason, time.Since(started))
	return verdict, nil
}

// evaluate 将用量与限额比对，按 周 → 日 → 时 → 间隔 顺序短路。
func evaluate(usage xusage.Usage, limits xpolicy.TierLimits, now time.Time) *Verdict {
	verdict := &Verdict{Usage: usage, Limits: limits}

	switch {
	case usage.Weekly >= int64(limits.WeeklyMax):
		verdict.Reason = ReasonWeeklyLimit
		verdict.ResetAt = xusage.NextWeek(now)
		verdict.Message = fmt.Sprintf(
			"Weekly message limit reached (%d of %d). Your quota resets at %s.",
			usage.Weekly, limits.WeeklyMax, formatInstant(verdict.ResetAt))

	case usage.Daily >= int64(limits.DailyMax):
		verdict.Reason = ReasonDailyBurst
		verdict.ResetAt = xusage.NextDay(now)
		verdict.Message = fmt.Sprintf(
			"Daily message limit reached (%d of %d). Your quota resets at %s.",
			usage.Daily, limits.DailyMax, formatInstant(verdict.ResetAt))

	case usage.Hourly >= int64(limits.HourlyMax):
		verdict.Reason = ReasonHourlyLimit
		verdict.ResetAt = xusage.NextHour(now)
		verdict.Message = fmt.Sprintf(
			"Hourly message limit reached (%d of %d). Your quota resets at %s.",
			usage.Hourly, limits.HourlyMax, formatInstant(verdict.ResetAt))

	default:
		if gap := limits.MinGap(); gap > 0 && !usage.LastMessageAt.IsZero() {
			if elapsed := now.Sub(usage.LastMessageAt); elapsed < gap {
				verdict.Reason = ReasonTooFast
				verdict.Wait = gap - elapsed
				verdict.ResetAt = usage.LastMessageAt.Add(gap)
				verdict.Message = fmt.Sprintf(
					"You are sending messages too quickly. Please wait %d seconds and try again.",
					ceilSeconds(verdict.Wait))
				return verdict
			}
		}
		verdict.Allowed = true
	}
	return verdict
}

// failOpen 内部故障时放行：记日志、发 WARNING 告警、计 fail_open
// 指标。聊天可用性优先于限额严格执行，存储错误不向上传播。
func (s *Service) failOpen(ctx context.Context, sender, stage string, err error, started time.Time) *Verdict {
	if s.opts.logger != nil {
		s.opts.logger.Error(ctx, "admission check failed open",
			slog.String("sender", sender),
			slog.String("stage", stage),
			slog.String("error", err.Error()),
		)
	}
	s.opts.alerts.Send(ctx, xalert.LevelWarning, "admission check failing open",
		slog.String("sender", sender),
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
	s.metrics.RecordFailOpen(ctx, stage)
	s.metrics.RecordVerdict(ctx, "", true, "", time.Since(started))
	return &Verdict{Allowed: true}
}

// =============================================================================
// 登记与去重
// =============================================================================

// RecordAccepted 登记一条最终被接受的消息：窗口计数加一，消息体
// 进入垃圾检测历史，档案记一次活跃（首条消息建档）。必须在垃圾
// 检测通过后调用，保证被判垃圾的消息不消耗配额。
//
// 档案建档/更新决定层级晋升的计龄起点，但它是尽力而为的：
// 档案存储故障只记日志，不拦截消息登记。
func (s *Service) RecordAccepted(ctx context.Context, sender, body string, at time.Time) error {
	if sender == "" {
		return ErrEmptySender
	}
	at = at.UTC()

	if _, err := s.senders.Touch(ctx, sender, at); err != nil && s.opts.logger != nil {
		s.opts.logger.Warn(ctx, "sender profile touch failed",
			slog.String("sender", sender),
			slog.String("error", err.Error()),
		)
	}

	return errors.Join(
		s.usage.Record(ctx, sender, at),
		s.spam.Record(ctx, sender, body, at),
	)
}

// Seen 检查消息是否已处理过（webhook 重投递）。
// 首次见到返回 false 并占位一小时；重复投递返回 true。
// 去重键写失败时按未见过处理，重复消息宁可重新处理也不丢弃。
func (s *Service) Seen(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, ErrEmptyMessageID
	}

	key := s.opts.dedupPrefix + ":" + messageID
	first, err := s.kv.SetNX(ctx, key, "1", DedupTTL)
	if err != nil {
		if s.opts.logger != nil {
			s.opts.logger.Warn(ctx, "dedup key write failed, message treated as unseen",
				slog.String("message_id", messageID),
				slog.String("error", err.Error()),
			)
		}
		return false, nil
	}
	return !first, nil
}

// =============================================================================
// 文案
// =============================================================================

func banMessage(until time.Time) string {
	if until.IsZero() {
		return "You are temporarily blocked from sending messages."
	}
	return fmt.Sprintf("You are temporarily blocked from sending messages. The block lifts at %s.",
		formatInstant(until))
}

// formatInstant 统一的用户可见时间格式，入参必须已是 UTC。
func formatInstant(t time.Time) string {
	return t.Format("2006-01-02 15:04 UTC")
}

func ceilSeconds(d time.Duration) int64 {
	return int64(math.Ceil(d.Seconds()))
}
