package xtier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"

	"github.com/omeyang/msggate/pkg/config/xpolicy"
	"github.com/omeyang/msggate/pkg/storage/xsender"
)

// 缓存默认参数。
const (
	// DefaultCacheTTL 层级缓存的有效期。
	// 准入热路径每条消息都要解析层级，缓存把档案存储的读压力
	// 压到每发送者每分钟一次；代价是晋升生效最多延迟一个 TTL。
	DefaultCacheTTL = time.Minute

	// DefaultCacheEntries 层级缓存的最大条目数。
	DefaultCacheEntries = 10_000

	// DefaultBatchSize 批量晋升的单页扫描条数。
	DefaultBatchSize = 200
)

// Logger 定义本包所需的最小日志接口，兼容 xlog.Logger。
type Logger interface {
	Debug(ctx context.Context, msg string, attrs ...slog.Attr)
	Info(ctx context.Context, msg string, attrs ...slog.Attr)
	Warn(ctx context.Context, msg string, attrs ...slog.Attr)
	Error(ctx context.Context, msg string, attrs ...slog.Attr)
}

// =============================================================================
// 配置选项
// =============================================================================

type options struct {
	policy       xpolicy.TierPolicy
	verifier     Verifier
	cacheTTL     time.Duration
	cacheEntries int64
	batchSize    int64
	logger       Logger
}

func defaultOptions() *options {
	return &options{
		policy:       xpolicy.Default().Tier,
		verifier:     DevVerifier{},
		cacheTTL:     DefaultCacheTTL,
		cacheEntries: DefaultCacheEntries,
		batchSize:    DefaultBatchSize,
	}
}

// Option 引擎配置选项。
type Option func(*options)

// WithPolicy 设置层级晋升参数。默认使用 xpolicy.Default().Tier。
func WithPolicy(policy xpolicy.TierPolicy) Option {
	return func(o *options) { o.policy = policy }
}

// WithVerifier 设置身份校验器。默认 DevVerifier，生产环境必须替换。
func WithVerifier(v Verifier) Option {
	return func(o *options) {
		if v != nil {
			o.verifier = v
		}
	}
}

// WithCacheTTL 设置层级缓存有效期。ttl <= 0 时忽略。
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.cacheTTL = ttl
		}
	}
}

// WithCacheEntries 设置层级缓存最大条目数。n <= 0 时忽略。
func WithCacheEntries(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.cacheEntries = n
		}
	}
}

// WithBatchSize 设置批量晋升的单页扫描条数。n <= 0 时忽略。
func WithBatchSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger Logger) Option {
	return func(o *options) { o.logger = logger }
}

// =============================================================================
// 引擎
// =============================================================================

// Engine 层级解析引擎。
//
// Resolve 供准入热路径调用：ristretto 缓存 + singleflight 合并，
// 同一发送者的并发解析只读一次档案存储。VerifyTaxID、SetPremium
// 与 EvaluateAll 是写路径，完成后主动失效缓存。
type Engine struct {
	store xsender.Store
	cache *ristretto.Cache[string, string]
	group singleflight.Group
	opts  *options

	closed atomic.Bool
}

// New 创建层级解析引擎。
func New(store xsender.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrNilStore
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: o.cacheEntries * 10,
		MaxCost:     o.cacheEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("xtier: create tier cache: %w", err)
	}

	return &Engine{
		store: store,
		cache: cache,
		opts:  o,
	}, nil
}

func (e *Engine) guard(sender string) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if sender == "" {
		return ErrEmptySender
	}
	return nil
}

// =============================================================================
// 解析
// =============================================================================

// Resolve 返回发送者当前应处的层级，并在层级变化时写回档案。
// 未建档的发送者按默认层级处理，不建档；建档由准入通过时的
// Touch 完成。
func (e *Engine) Resolve(ctx context.Context, sender string, now time.Time) (string, error) {
	if err := e.guard(sender); err != nil {
		return "", err
	}

	if tier, ok := e.cache.Get(sender); ok {
		return tier, nil
	}

	// singleflight 合并同一发送者的并发解析。解析本身只有一次
	// 档案读取，直接用 Do 即可，不需要 DoChan 的独立取消链。
	v, err, _ := e.group.Do(sender, func() (any, error) {
		return e.resolveSlow(ctx, sender, now)
	})
	if err != nil {
		return "", err
	}
	tier, ok := v.(string)
	if !ok {
		return "", errors.New("xtier: unexpected result type from singleflight")
	}
	return tier, nil
}

func (e *Engine) resolveSlow(ctx context.Context, sender string, now time.Time) (string, error) {
	profile, err := e.store.Get(ctx, sender)
	if err != nil {
		if errors.Is(err, xsender.ErrNotFound) {
			tier := xpolicy.TierNewUser
			e.cache.SetWithTTL(sender, tier, 1, e.opts.cacheTTL)
			return tier, nil
		}
		return "", fmt.Errorf("xtier: load sender %q: %w", sender, err)
	}

	tier := Evaluate(profile, e.opts.policy.UpgradeThreshold(), now.UTC())
	if tier != profile.Tier {
		if err := e.store.SetTier(ctx, sender, tier); err != nil {
			return "", fmt.Errorf("xtier: persist tier for %q: %w", sender, err)
		}
		if e.opts.logger != nil {
			e.opts.logger.Info(ctx, "sender tier upgraded",
				slog.String("sender", sender),
				slog.String("from", profile.Tier),
				slog.String("to", tier),
			)
		}
	}

	e.cache.SetWithTTL(sender, tier, 1, e.opts.cacheTTL)
	return tier, nil
}

// =============================================================================
// 写路径
// =============================================================================

// VerifyTaxID 校验税号并在通过时写回 Verified 标记、重算层级。
//
// 设计决策: 校验器故障按"未通过"保守处理，只记日志不向上返回
// 错误。校验失败不该拦住消息准入，发送者下次重试即可。
func (e *Engine) VerifyTaxID(ctx context.Context, sender, taxID string, now time.Time) (bool, error) {
	if err := e.guard(sender); err != nil {
		return false, err
	}

	ok, err := e.opts.verifier.Verify(ctx, taxID)
	if err != nil {
		if e.opts.logger != nil {
			e.opts.logger.Warn(ctx, "tax id verification unavailable, treated as not verified",
				slog.String("sender", sender),
				slog.String("error", err.Error()),
			)
		}
		return false, nil
	}
	if !ok {
		return false, nil
	}

	if err := e.store.SetVerified(ctx, sender, true); err != nil {
		return false, fmt.Errorf("xtier: persist verified flag for %q: %w", sender, err)
	}
	if err := e.refresh(ctx, sender, now); err != nil {
		return false, err
	}
	return true, nil
}

// SetPremium 更新付费订阅截止时间并重算层级，until 为零值表示
// 取消订阅。业务侧在订阅开通、续费或退订时调用；到期回落不需要
// 调用，Evaluate 按 until 自动判定。
func (e *Engine) SetPremium(ctx context.Context, sender string, until time.Time, now time.Time) error {
	if err := e.guard(sender); err != nil {
		return err
	}
	if err := e.store.SetPremium(ctx, sender, until.UTC()); err != nil {
		return fmt.Errorf("xtier: persist premium subscription for %q: %w", sender, err)
	}
	return e.refresh(ctx, sender, now)
}

// refresh 重读档案、持久化层级变化并失效缓存。
func (e *Engine) refresh(ctx context.Context, sender string, now time.Time) error {
	profile, err := e.store.Get(ctx, sender)
	if err != nil {
		return fmt.Errorf("xtier: reload sender %q: %w", sender, err)
	}
	tier := Evaluate(profile, e.opts.policy.UpgradeThreshold(), now.UTC())
	if tier != profile.Tier {
		if err := e.store.SetTier(ctx, sender, tier); err != nil {
			return fmt.Errorf("xtier: persist tier for %q: %w", sender, err)
		}
	}
	e.cache.Del(sender)
	return nil
}

// =============================================================================
// 批量晋升
// =============================================================================

// EvaluateAll 批量晋升注册满门槛的 new_user，返回晋升人数。
// 供 xmaint 定时调用，绕过缓存直接扫描档案存储。
//
// 分页依赖一个事实：晋升会把发送者移出 new_user 层级，下一页
// 自然不再包含已处理的档案。单页无任何进展时终止，避免个别
// 档案持续写失败导致死循环。
func (e *Engine) EvaluateAll(ctx context.Context, now time.Time) (int64, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	now = now.UTC()

	threshold := e.opts.policy.UpgradeThreshold()
	cutoff := now.Add(-threshold)

	var upgraded int64
	var errs []error
	for {
		if err := ctx.Err(); err != nil {
			return upgraded, err
		}

		batch, err := e.store.ListTierCandidates(ctx, xpolicy.TierNewUser, cutoff, e.opts.batchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("xtier: list upgrade candidates: %w", err))
			break
		}
		if len(batch) == 0 {
			break
		}

		var progressed int64
		for i := range batch {
			profile := &batch[i]
			tier := Evaluate(profile, threshold, now)
			if tier == profile.Tier {
				continue
			}
			if err := e.store.SetTier(ctx, profile.ID, tier); err != nil {
				errs = append(errs, fmt.Errorf("xtier: upgrade %q: %w", profile.ID, err))
				continue
			}
			e.cache.Del(profile.ID)
			upgraded++
			progressed++
			if e.opts.logger != nil {
				e.opts.logger.Info(ctx, "sender tier upgraded",
					slog.String("sender", profile.ID),
					slog.String("from", profile.Tier),
					slog.String("to", tier),
				)
			}
		}
		if progressed == 0 {
			break
		}
	}
	return upgraded, errors.Join(errs...)
}

// Close 关闭引擎并释放缓存。
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	e.cache.Close()
	return nil
}
