package xspam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/omeyang/msggate/pkg/config/xpolicy"
	"github.com/omeyang/msggate/pkg/intake/xban"
	"github.com/omeyang/msggate/pkg/observability/xalert"
	"github.com/omeyang/msggate/pkg/storage/xkv"
	"github.com/omeyang/msggate/pkg/storage/xsender"
	"github.com/omeyang/msggate/pkg/util/xid"
)

// 预定义错误，使用 errors.Is 进行比较。
var (
	// ErrNilDependency 必要依赖为 nil。
	ErrNilDependency = errors.New("xspam: nil dependency")

	// ErrEmptySender 发送者标识为空字符串。
	ErrEmptySender = errors.New("xspam: empty sender id")

	// ErrBadPattern 规则正则无法编译。
	ErrBadPattern = errors.New("xspam: bad pattern")
)

// 违规类型。封禁事件的审计类型见 xban.KindBan。
const (
	// KindDuplicate 重复内容。
	KindDuplicate = "duplicate"

	// KindPattern 命中已知垃圾模式。
	KindPattern = "pattern"
)

// 违规严重度（1-5）。
const (
	SeverityDuplicate = 2
	SeverityPattern   = 3
)

// DefaultKeyPrefix 消息历史键的默认前缀。
const DefaultKeyPrefix = "msggate:spam:hist"

// excerptLimit 违规记录与历史条目中保留的内容摘录长度。
const excerptLimit = 48

// Logger 定义本包所需的最小日志接口，兼容 xlog.Logger。
type Logger interface {
	Debug(ctx context.Context, msg string, attrs ...slog.Attr)
	Info(ctx context.Context, msg string, attrs ...slog.Attr)
	Warn(ctx context.Context, msg string, attrs ...slog.Attr)
	Error(ctx context.Context, msg string, attrs ...slog.Attr)
}

// Result 一次检测的结论。
type Result struct {
	// Spam 是否判为垃圾消息。
	Spam bool

	// Kind 违规类型（KindDuplicate / KindPattern）。Spam 为 false 时为空。
	Kind string

	// Severity 违规严重度。
	Severity int

	// Detail 人可读的判定依据。
	Detail string

	// Banned 本次违规是否触发了自动封禁。
	Banned bool

	// BanUntil 自动封禁的截止时间（UTC）。Banned 为 false 时为零值。
	BanUntil time.Time
}

// Detector 垃圾消息检测器。
type Detector struct {
	kv         xkv.Store
	violations xsender.Store
	bans       *xban.Registry
	ids        *xid.Generator
	patterns   *patternSet

	spamPolicy xpolicy.SpamPolicy
	banPolicy  xpolicy.BanPolicy

	prefix string
	logger Logger
	alerts xalert.Sink
}

// Option 检测器配置选项。
type Option func(*Detector)

// WithPolicy 设置检测与封禁策略。默认使用 xpolicy.Default() 的对应段。
func WithPolicy(spam xpolicy.SpamPolicy, ban xpolicy.BanPolicy) Option {
	return func(d *Detector) {
		d.spamPolicy = spam
		d.banPolicy = ban
	}
}

// WithKeyPrefix 设置消息历史键前缀。
func WithKeyPrefix(prefix string) Option {
	return func(d *Detector) {
		if prefix != "" {
			d.prefix = prefix
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger Logger) Option {
	return func(d *Detector) {
		d.logger = logger
	}
}

// WithAlerts 设置告警端。自动封禁时发送一次 WARNING 告警。
func WithAlerts(sink xalert.Sink) Option {
	return func(d *Detector) {
		if sink != nil {
			d.alerts = sink
		}
	}
}

// New 创建垃圾消息检测器。四个依赖均为必传。
func New(kv xkv.Store, violations xsender.Store, bans *xban.Registry, ids *xid.Generator, opts ...Option) (*Detector, error) {
	if kv == nil || violations == nil || bans == nil || ids == nil {
		return nil, ErrNilDependency
	}

	defaults := xpolicy.Default()
	d := &Detector{
		kv:         kv,
		violations: violations,
		bans:       bans,
		ids:        ids,
		spamPolicy: defaults.Spam,
		banPolicy:  defaults.Ban,
		prefix:     DefaultKeyPrefix,
		alerts:     xalert.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	patterns, err := compilePatterns(d.spamPolicy.Patterns)
	if err != nil {
		return nil, err
	}
	d.patterns = patterns
	return d, nil
}

func (d *Detector) historyKey(sender string) string {
	return d.prefix + ":" + sender
}

// =============================================================================
// 检测
// =============================================================================

// Check 检测消息体。判为垃圾时写入违规记录并检查封禁升级。
// 历史读取失败时跳过重复检查、只做模式匹配，检测尽量不因存储抖动中断。
func (d *Detector) Check(ctx context.Context, sender, body string, at time.Time) (*Result, error) {
	if sender == "" {
		return nil, ErrEmptySender
	}
	at = at.UTC()

	if dup, seen := d.checkDuplicate(ctx, sender, body, at); dup {
		result := &Result{
			Spam:     true,
			Kind:     KindDuplicate,
			Severity: SeverityDuplicate,
			Detail:   fmt.Sprintf("identical content seen %d times within the rolling window", seen),
		}
		d.reportAndEscalate(ctx, sender, body, at, result)
		return result, nil
	}

	if expr, matched := d.patterns.match(body); matched {
		result := &Result{
			Spam:     true,
			Kind:     KindPattern,
			Severity: SeverityPattern,
			Detail:   "matched spam pattern " + expr,
		}
		d.reportAndEscalate(ctx, sender, body, at, result)
		return result, nil
	}

	return &Result{}, nil
}

// checkDuplicate 返回是否判为重复，以及窗口内的同内容条数（含本条）。
func (d *Detector) checkDuplicate(ctx context.Context, sender, body string, at time.Time) (bool, int) {
	hash := contentHash(body)
	entries, err := d.kv.LRange(ctx, d.historyKey(sender), 0, int64(d.spamPolicy.HistoryRead)-1)
	if err != nil {
		if d.logger != nil {
			d.logger.Warn(ctx, "spam history read failed, duplicate check skipped",
				slog.String("sender", sender),
				slog.String("error", err.Error()),
			)
		}
		return false, 0
	}

	cutoff := at.Add(-d.spamPolicy.HistoryTTL())
	seen := 1 // 本条
	for _, entry := range entries {
		entryHash, entryAt, ok := parseHistoryEntry(entry)
		if !ok || entryAt.Before(cutoff) {
			continue
		}
		if entryHash == hash {
			seen++
		}
	}
	return seen >= d.spamPolicy.DuplicateThreshold, seen
}

// =============================================================================
// 历史登记
// =============================================================================

// Record 将已接受消息登记进发送者历史：LPUSH + LTRIM 维持定长，
// 整个列表带 TTL，不活跃发送者的历史自动回收。
func (d *Detector) Record(ctx context.Context, sender, body string, at time.Time) error {
	if sender == "" {
		return ErrEmptySender
	}

	key := d.historyKey(sender)
	entry := formatHistoryEntry(contentHash(body), at.UTC(), body)

	pipe := d.kv.Pipeline()
	pipe.LPush(key, entry)
	pipe.LTrim(key, 0, int64(d.spamPolicy.HistoryKeep)-1)
	pipe.Expire(key, d.spamPolicy.HistoryTTL())
	if err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xspam: record history for %q: %w", sender, err)
	}
	return nil
}

// =============================================================================
// 违规记录与升级
// =============================================================================

// reportAndEscalate 写入违规记录并检查封禁升级，结果写回 result。
// 记录失败只降级为日志：检测结论必须返回给调用方，升级下次再补。
func (d *Detector) reportAndEscalate(ctx context.Context, sender, body string, at time.Time, result *Result) {
	if err := d.appendViolation(ctx, sender, result.Kind, result.Severity, result.Detail+"; excerpt: "+excerpt(body), at); err != nil {
		if d.logger != nil {
			d.logger.Error(ctx, "violation append failed, escalation skipped",
				slog.String("sender", sender),
				slog.String("kind", result.Kind),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	count, err := d.violations.CountViolationsSince(ctx, sender, at.Add(-time.Hour))
	if err != nil {
		if d.logger != nil {
			d.logger.Error(ctx, "violation count failed, escalation skipped",
				slog.String("sender", sender),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if count < int64(d.banPolicy.ViolationsBeforeBan) {
		return
	}

	// 封禁审计记录由 Registry.Ban 统一追加
	until, err := d.bans.Ban(ctx, sender, d.banPolicy.TempBanDuration(),
		fmt.Sprintf("auto-ban: %d violations within one hour", count))
	if err != nil {
		if d.logger != nil {
			d.logger.Error(ctx, "auto-ban failed",
				slog.String("sender", sender),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	result.Banned = true
	result.BanUntil = until

	d.alerts.Send(ctx, xalert.LevelWarning, "sender auto-banned for repeated violations",
		slog.String("sender", sender),
		slog.Int64("violations", count),
		slog.Time("until", until),
	)
}

func (d *Detector) appendViolation(ctx context.Context, sender, kind string, severity int, detail string, at time.Time) error {
	id, err := d.ids.NewString(ctx)
	if err != nil {
		return fmt.Errorf("generate violation id: %w", err)
	}
	return d.violations.AppendViolation(ctx, &xsender.Violation{
		ID:         id,
		Sender:     sender,
		Kind:       kind,
		Severity:   severity,
		Detail:     detail,
		OccurredAt: at,
	})
}

// =============================================================================
// 历史条目编码
// =============================================================================

// contentHash 对规范化后的消息体取 xxhash。
// 规范化抹平大小写与空白差异，避免靠加空格绕过重复检测。
func contentHash(body string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(body)), " ")
	return strconv.FormatUint(xxhash.Sum64String(normalized), 16)
}

// formatHistoryEntry 编码为 "hash|unixMillis|excerpt"。
func formatHistoryEntry(hash string, at time.Time, body string) string {
	return hash + "|" + strconv.FormatInt(at.UnixMilli(), 10) + "|" + excerpt(body)
}

// parseHistoryEntry 解码历史条目。格式损坏的条目返回 ok=false，
// 调用方直接跳过。
func parseHistoryEntry(entry string) (hash string, at time.Time, ok bool) {
	parts := strings.SplitN(entry, "|", 3)
	if len(parts) < 2 {
		return "", time.Time{}, false
	}
	millis, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return parts[0], time.UnixMilli(millis).UTC(), true
}

// excerpt 截取内容摘录，去掉分隔符与换行。
func excerpt(body string) string {
	body = strings.Map(func(r rune) rune {
		switch r {
		case '|', '\n', '\r':
			return ' '
		}
		return r
	}, body)
	runes := []rune(body)
	if len(runes) > excerptLimit {
		return string(runes[:excerptLimit])
	}
	return body
}
