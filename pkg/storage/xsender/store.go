package xsender

import (
	"context"
	"log/slog"
	"time"
)

// =============================================================================
// 领域类型
// =============================================================================

// Sender 发送者档案。
type Sender struct {
	// ID 发送者标识（WhatsApp 号码的规范化形式）。
	ID string `bson:"_id" json:"id"`

	// Tier 信任层级名称，取值见 xpolicy 的 Tier* 常量。
	Tier string `bson:"tier" json:"tier"`

	// FirstSeenAt 首次通过准入的时间（UTC）。层级升级按此计龄。
	FirstSeenAt time.Time `bson:"first_seen_at" json:"first_seen_at"`

	// LastSeenAt 最近一次通过准入的时间（UTC）。
	LastSeenAt time.Time `bson:"last_seen_at" json:"last_seen_at"`

	// MessageCount 累计通过准入的消息数。
	MessageCount int64 `bson:"message_count" json:"message_count"`

	// Verified 是否通过外部身份校验。校验结果由 xtier 写回。
	Verified bool `bson:"verified" json:"verified"`

	// PremiumUntil 付费订阅截止时间（UTC）。零值表示无订阅，
	// 过期后订阅自动失效，不依赖业务侧显式清除。
	PremiumUntil time.Time `bson:"premium_until,omitempty" json:"premium_until,omitzero"`

	// BannedUntil 封禁截止时间（UTC）。零值表示未封禁。
	// 这是 xkv 封禁键的持久化镜像：xkv 键靠 TTL 自动解封，
	// 这里的镜像用于重启恢复与离线审计。
	BannedUntil time.Time `bson:"banned_until,omitempty" json:"banned_until,omitzero"`

	// BanReason 最近一次封禁的原因。
	BanReason string `bson:"ban_reason,omitempty" json:"ban_reason,omitempty"`
}

// Banned 检查发送者在 at 时刻是否处于封禁镜像中。
func (s *Sender) Banned(at time.Time) bool {
	return !s.BannedUntil.IsZero() && at.Before(s.BannedUntil)
}

// PremiumActive 检查付费订阅在 at 时刻是否有效。
func (s *Sender) PremiumActive(at time.Time) bool {
	return at.Before(s.PremiumUntil)
}

// Violation 一次违规记录。
type Violation struct {
	// ID 违规记录标识，由 xid 生成。
	ID string `bson:"_id" json:"id"`

	// Sender 违规的发送者。
	Sender string `bson:"sender" json:"sender"`

	// Kind 违规类型（duplicate / pattern / ban）。
	Kind string `bson:"kind" json:"kind"`

	// Severity 严重度，数值越大越严重。
	Severity int `bson:"severity" json:"severity"`

	// Detail 人可读的违规描述。
	Detail string `bson:"detail" json:"detail"`

	// OccurredAt 违规发生时间（UTC）。
	OccurredAt time.Time `bson:"occurred_at" json:"occurred_at"`
}

// Counts 日报所需的汇总计数。
type Counts struct {
	// Senders 档案总数。
	Senders int64 `json:"senders"`

	// Banned 当前处于封禁镜像中的发送者数。
	Banned int64 `json:"banned"`

	// ByTier 各层级的发送者数。
	ByTier map[string]int64 `json:"by_tier"`

	// ViolationsLastDay 过去 24 小时的违规数。
	ViolationsLastDay int64 `json:"violations_last_day"`
}

// =============================================================================
// 存储接口
// =============================================================================

// Store 定义发送者档案存储接口。
// 所有时间参数与返回值均为 UTC。
type Store interface {
	// Get 返回发送者档案；不存在时返回 ErrNotFound。
	Get(ctx context.Context, id string) (*Sender, error)

	// Touch 登记一次通过准入的消息：档案不存在则以 at 为首见时间
	// 建档（层级 defaultTier），存在则更新 LastSeenAt 并累加
	// MessageCount。返回更新后的档案。
	Touch(ctx context.Context, id string, at time.Time) (*Sender, error)

	// SetTier 更新发送者的信任层级。发送者不存在时返回 ErrNotFound。
	SetTier(ctx context.Context, id, tier string) error

	// SetVerified 更新身份校验标记。发送者不存在时返回 ErrNotFound。
	SetVerified(ctx context.Context, id string, verified bool) error

	// SetPremium 更新付费订阅截止时间，零值表示取消订阅。
	// 发送者不存在时返回 ErrNotFound。
	SetPremium(ctx context.Context, id string, until time.Time) error

	// SetBan 写入封禁镜像。发送者不存在时自动建档，
	// 保证封禁对未建档发送者同样生效。
	SetBan(ctx context.Context, id string, until time.Time, reason string) error

	// ClearBan 清除封禁镜像。发送者不存在时静默成功。
	ClearBan(ctx context.Context, id string) error

	// AppendViolation 追加一条违规记录。
	AppendViolation(ctx context.Context, v *Violation) error

	// CountViolationsSince 统计发送者自 since 以来的违规数。
	CountViolationsSince(ctx context.Context, sender string, since time.Time) (int64, error)

	// ListViolations 返回发送者最近的违规记录，按发生时间倒序，
	// 最多 limit 条。limit <= 0 时使用默认上限。
	ListViolations(ctx context.Context, sender string, limit int64) ([]Violation, error)

	// ListBannedExpiredBefore 返回封禁镜像已于 cutoff 前到期、
	// 待清理的发送者，最多 limit 条。
	ListBannedExpiredBefore(ctx context.Context, cutoff time.Time, limit int64) ([]Sender, error)

	// ListTierCandidates 返回处于给定层级、且首见时间早于
	// firstSeenBefore 的发送者，供批量层级评估，最多 limit 条。
	ListTierCandidates(ctx context.Context, tier string, firstSeenBefore time.Time, limit int64) ([]Sender, error)

	// DeleteViolationsBefore 删除发生时间早于 cutoff 的违规记录，
	// 返回删除条数。
	DeleteViolationsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteInactiveBefore 删除最近活跃时间早于 cutoff、且当前
	// 未被封禁的档案，返回删除条数。封禁中的档案保留到解封。
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Counts 返回日报汇总计数。now 用于界定"过去 24 小时"。
	Counts(ctx context.Context, now time.Time) (*Counts, error)

	// EnsureIndexes 创建查询所需的索引。幂等，进程启动时调用一次。
	EnsureIndexes(ctx context.Context) error

	// Ping 检查存储可达性。
	Ping(ctx context.Context) error

	// Close 关闭存储。注入的客户端由调用方负责断连。
	Close(ctx context.Context) error
}

// Logger 定义本包所需的最小日志接口，兼容 xalert.Logger。
type Logger interface {
	Debug(ctx context.Context, msg string, attrs ...slog.Attr)
	Info(ctx context.Context, msg string, attrs ...slog.Attr)
	Warn(ctx context.Context, msg string, attrs ...slog.Attr)
	Error(ctx context.Context, msg string, attrs ...slog.Attr)
}
