// Package xban 维护发送者封禁登记。
//
// 封禁以 xkv 中的键为唯一判定依据：键在即封禁中，TTL 到期自动解封，
// 不需要任何定时解封逻辑。xsender 中的封禁镜像仅用于重启恢复与
// 离线审计，写镜像失败不影响封禁生效。
package xban

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/omeyang/msggate/pkg/storage/xkv"
	"github.com/omeyang/msggate/pkg/storage/xsender"
	"github.com/omeyang/msggate/pkg/util/xid"
)

// 预定义错误，使用 errors.Is 进行比较。
var (
	// ErrNilStore 传入的计数存储为 nil。
	ErrNilStore = errors.New("xban: nil store")

	// ErrEmptySender 发送者标识为空字符串。
	ErrEmptySender = errors.New("xban: empty sender id")
)

// DefaultKeyPrefix 封禁键的默认前缀。
const DefaultKeyPrefix = "msggate:ban"

// sweepBatch 镜像清理的单批条数。
const sweepBatch = 200

// 封禁审计的违规记录参数。
const (
	// KindBan 封禁事件的违规类型，自动升级与人工封禁共用。
	KindBan = "ban"

	// SeverityBan 封禁事件的严重度（1-5 级）。
	SeverityBan = 4
)

// Logger 定义本包所需的最小日志接口，兼容 xlog.Logger。
type Logger interface {
	Debug(ctx context.Context, msg string, attrs ...slog.Attr)
	Info(ctx context.Context, msg string, attrs ...slog.Attr)
	Warn(ctx context.Context, msg string, attrs ...slog.Attr)
	Error(ctx context.Context, msg string, attrs ...slog.Attr)
}

// Status 封禁状态。
type Status struct {
	// Banned 是否处于封禁中。
	Banned bool

	// Until 封禁截止时间（UTC）。Banned 为 false 时为零值。
	Until time.Time
}

// Registry 封禁登记表。
type Registry struct {
	kv     xkv.Store
	mirror xsender.Store
	ids    *xid.Generator
	prefix string
	logger Logger
	now    func() time.Time
}

// Option Registry 配置选项。
type Option func(*Registry)

// WithKeyPrefix 设置封禁键前缀。
func WithKeyPrefix(prefix string) Option {
	return func(r *Registry) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithMirror 设置持久化镜像。镜像写入是尽力而为的：
// 失败只记日志，封禁本身依然生效。
func WithMirror(store xsender.Store) Option {
	return func(r *Registry) {
		r.mirror = store
	}
}

// WithIDGenerator 设置违规记录的 ID 生成器。与 WithMirror 同时
// 配置时，每次封禁在镜像中追加一条违规审计记录，自动升级与
// 人工封禁走同一条审计路径。
func WithIDGenerator(ids *xid.Generator) Option {
	return func(r *Registry) {
		r.ids = ids
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithClock 设置时钟来源，测试中用于固定时间。
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New 创建封禁登记表。
func New(kv xkv.Store, opts ...Option) (*Registry, error) {
	if kv == nil {
		return nil, ErrNilStore
	}
	r := &Registry{
		kv:     kv,
		prefix: DefaultKeyPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Registry) key(sender string) string {
	return r.prefix + ":" + sender
}

// Check 返回发送者的封禁状态。键在即封禁中。
func (r *Registry) Check(ctx context.Context, sender string) (*Status, error) {
	if sender == "" {
		return nil, ErrEmptySender
	}

	value, err := r.kv.Get(ctx, r.key(sender))
	if errors.Is(err, xkv.ErrNotFound) {
		return &Status{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xban: check %q: %w", sender, err)
	}

	until, err := time.Parse(time.RFC3339, value)
	if err != nil {
		// 键值损坏时封禁依然生效（键的存在才是判定依据），
		// 只是无法告知截止时间。
		if r.logger != nil {
			r.logger.Warn(ctx, "ban key holds unparsable expiry",
				slog.String("sender", sender),
				slog.String("value", value),
			)
		}
		return &Status{Banned: true}, nil
	}
	return &Status{Banned: true, Until: until.UTC()}, nil
}

// Ban 封禁发送者 d 时长，返回封禁截止时间。
// 重复封禁会覆盖并重新计时。
func (r *Registry) Ban(ctx context.Context, sender string, d time.Duration, reason string) (time.Time, error) {
	if sender == "" {
		return time.Time{}, ErrEmptySender
	}
	if d <= 0 {
		return time.Time{}, fmt.Errorf("xban: non-positive ban duration %s", d)
	}

	until := r.now().UTC().Add(d)
	if err := r.kv.Set(ctx, r.key(sender), until.Format(time.RFC3339), d); err != nil {
		return time.Time{}, fmt.Errorf("xban: ban %q: %w", sender, err)
	}

	if r.mirror != nil {
		if err := r.mirror.SetBan(ctx, sender, until, reason); err != nil && r.logger != nil {
			r.logger.Warn(ctx, "ban mirror write failed",
				slog.String("sender", sender),
				slog.String("error", err.Error()),
			)
		}
		r.appendAudit(ctx, sender, reason, until)
	}

	if r.logger != nil {
		r.logger.Info(ctx, "sender banned",
			slog.String("sender", sender),
			slog.String("reason", reason),
			slog.Time("until", until),
		)
	}
	return until, nil
}

// appendAudit 在镜像中追加封禁审计记录。尽力而为：审计缺一条
// 不影响封禁生效，失败只记日志。
func (r *Registry) appendAudit(ctx context.Context, sender, reason string, until time.Time) {
	if r.ids == nil {
		return
	}

	id, err := r.ids.NewString(ctx)
	if err == nil {
		err = r.mirror.AppendViolation(ctx, &xsender.Violation{
			ID:         id,
			Sender:     sender,
			Kind:       KindBan,
			Severity:   SeverityBan,
			Detail:     fmt.Sprintf("banned until %s: %s", until.Format(time.RFC3339), reason),
			OccurredAt: r.now().UTC(),
		})
	}
	if err != nil && r.logger != nil {
		r.logger.Warn(ctx, "ban audit record append failed",
			slog.String("sender", sender),
			slog.String("error", err.Error()),
		)
	}
}

// Unban 立即解除封禁。发送者未被封禁时静默成功。
func (r *Registry) Unban(ctx context.Context, sender string) error {
	if sender == "" {
		return ErrEmptySender
	}

	if _, err := r.kv.Del(ctx, r.key(sender)); err != nil {
		return fmt.Errorf("xban: unban %q: %w", sender, err)
	}

	if r.mirror != nil {
		if err := r.mirror.ClearBan(ctx, sender); err != nil && r.logger != nil {
			r.logger.Warn(ctx, "ban mirror clear failed",
				slog.String("sender", sender),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// SweepMirrors 清理镜像中已过期的封禁，返回清理条数。
// xkv 键由 TTL 自动回收，这里只负责镜像侧的对账。
func (r *Registry) SweepMirrors(ctx context.Context) (int64, error) {
	if r.mirror == nil {
		return 0, nil
	}

	now := r.now().UTC()
	var cleared int64
	for {
		expired, err := r.mirror.ListBannedExpiredBefore(ctx, now, sweepBatch)
		if err != nil {
			return cleared, fmt.Errorf("xban: list expired mirrors: %w", err)
		}
		if len(expired) == 0 {
			return cleared, nil
		}
		for _, sender := range expired {
			if err := r.mirror.ClearBan(ctx, sender.ID); err != nil {
				return cleared, fmt.Errorf("xban: clear mirror %q: %w", sender.ID, err)
			}
			cleared++
		}
		if len(expired) < sweepBatch {
			return cleared, nil
		}
	}
}
