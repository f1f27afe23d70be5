package xkv

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"github.com/omeyang/msggate/pkg/observability/xalert"
)

// failoverStore 带永久降级的计数存储。
//
// 正常路径走 Redis；熔断器因持续可达性失败打开后，一次性切换到
// 内存实现并保持到进程结束。切换只发生一次、只记录一次日志、
// 只发送一次 CRITICAL 告警。
//
// 设计决策: 不做自动切回。切回需要合并 Redis 与内存中的两份计数，
// 任何合并策略都会破坏"窗口计数单调递增"的不变量；进程重启即恢复
// 分布式模式，这是可接受的运维成本。
type failoverStore struct {
	primary  Store
	breaker  *gobreaker.CircuitBreaker[any]
	opts     *options
	switched atomic.Bool

	fallbackOnce sync.Once
	fallback     Store

	switchOnce sync.Once
	closed     atomic.Bool
}

// NewFailover 创建带降级的计数存储。
// 这是生产环境的推荐入口。
func NewFailover(client redis.UniversalClient, opts ...Option) (Store, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	primary, err := NewRedis(client, opts...)
	if err != nil {
		return nil, err
	}

	f := &failoverStore{
		primary: primary,
		opts:    options,
	}

	f.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name: "xkv-redis",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= options.failureBudget
		},
		// 数据类错误（redis.Nil、类型错误）不计入熔断：
		// 它们说明键状态或调用方逻辑，而非 Redis 不可达。
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRedisError(err)
		},
	})

	return f, nil
}

// fallbackStore 惰性创建内存降级存储。
// 惰性而非构造期创建：未降级的进程不应常驻一个无用的清扫 goroutine。
func (f *failoverStore) fallbackStore() Store {
	f.fallbackOnce.Do(func() {
		f.fallback = NewMemory(
			WithJanitorInterval(f.opts.janitorInterval),
		)
	})
	return f.fallback
}

// switchOver 执行一次性降级切换。
func (f *failoverStore) switchOver(ctx context.Context, cause error) {
	f.switchOnce.Do(func() {
		f.switched.Store(true)
		if f.opts.logger != nil {
			f.opts.logger.Error(ctx, "counter store falling back to in-memory permanently",
				slog.String("cause", cause.Error()),
			)
		}
		f.opts.alerts.Send(ctx, xalert.LevelCritical,
			"counter store switched to in-memory fallback; rate limits are now per-process until restart",
			slog.String("cause", cause.Error()),
		)
	})
}

// doStore 执行单个操作，失败归类后决定是否降级。
func doStore[T any](f *failoverStore, ctx context.Context, fn func(Store) (T, error)) (T, error) {
	if f.closed.Load() {
		var zero T
		return zero, ErrClosed
	}
	if f.switched.Load() {
		return fn(f.fallbackStore())
	}

	v, err := f.breaker.Execute(func() (any, error) {
		return fn(f.primary)
	})
	if err == nil {
		return v.(T), nil
	}

	// 熔断器打开（本次或之前）意味着失败预算已耗尽：切换并在
	// 内存实现上重放本次操作，调用方不感知错误。
	if errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) ||
		(IsRedisError(err) && f.breaker.State() == gobreaker.StateOpen) {
		f.switchOver(ctx, err)
		return fn(f.fallbackStore())
	}

	var zero T
	return zero, err
}

func (f *failoverStore) Incr(ctx context.Context, key string) (int64, error) {
	return doStore(f, ctx, func(s Store) (int64, error) {
		return s.Incr(ctx, key)
	})
}

func (f *failoverStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := doStore(f, ctx, func(s Store) (struct{}, error) {
		return struct{}{}, s.Set(ctx, key, value, ttl)
	})
	return err
}

func (f *failoverStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return doStore(f, ctx, func(s Store) (bool, error) {
		return s.SetNX(ctx, key, value, ttl)
	})
}

func (f *failoverStore) Get(ctx context.Context, key string) (string, error) {
	return doStore(f, ctx, func(s Store) (string, error) {
		return s.Get(ctx, key)
	})
}

func (f *failoverStore) Exists(ctx context.Context, key string) (bool, error) {
	return doStore(f, ctx, func(s Store) (bool, error) {
		return s.Exists(ctx, key)
	})
}

func (f *failoverStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return doStore(f, ctx, func(s Store) (time.Duration, error) {
		return s.TTL(ctx, key)
	})
}

func (f *failoverStore) Del(ctx context.Context, keys ...string) (int64, error) {
	return doStore(f, ctx, func(s Store) (int64, error) {
		return s.Del(ctx, keys...)
	})
}

func (f *failoverStore) LPush(ctx context.Context, key, value string) error {
	_, err := doStore(f, ctx, func(s Store) (struct{}, error) {
		return struct{}{}, s.LPush(ctx, key, value)
	})
	return err
}

func (f *failoverStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	_, err := doStore(f, ctx, func(s Store) (struct{}, error) {
		return struct{}{}, s.LTrim(ctx, key, start, stop)
	})
	return err
}

func (f *failoverStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return doStore(f, ctx, func(s Store) ([]string, error) {
		return s.LRange(ctx, key, start, stop)
	})
}

func (f *failoverStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	return doStore(f, ctx, func(s Store) ([]string, error) {
		return s.Keys(ctx, pattern)
	})
}

func (f *failoverStore) Ping(ctx context.Context) error {
	_, err := doStore(f, ctx, func(s Store) (struct{}, error) {
		return struct{}{}, s.Ping(ctx)
	})
	return err
}

// Kind 返回当前活跃实现的类型标识。
func (f *failoverStore) Kind() string {
	if f.switched.Load() {
		return f.fallbackStore().Kind()
	}
	return f.primary.Kind()
}

// Close 关闭存储。
func (f *failoverStore) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	var errs []error
	if err := f.primary.Close(); err != nil && !errors.Is(err, ErrClosed) {
		errs = append(errs, err)
	}
	if f.fallback != nil {
		if err := f.fallback.Close(); err != nil && !errors.Is(err, ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pipeline 返回跟随当前活跃实现的管道。
// 排队操作与具体实现解耦，Exec 时才绑定到活跃存储；
// Redis 在 Exec 中失败并触发切换时，整个批次在内存实现上重放。
func (f *failoverStore) Pipeline() Pipeline {
	return &failoverPipeline{store: f}
}

// failoverPipeline 记录抽象操作，Exec 时重放到活跃存储的管道。
type failoverPipeline struct {
	store *failoverStore
	ops   []func(Pipeline)
}

func (p *failoverPipeline) Incr(key string) {
	p.ops = append(p.ops, func(target Pipeline) { target.Incr(key) })
}

func (p *failoverPipeline) Set(key, value string, ttl time.Duration) {
	p.ops = append(p.ops, func(target Pipeline) { target.Set(key, value, ttl) })
}

func (p *failoverPipeline) Expire(key string, ttl time.Duration) {
	p.ops = append(p.ops, func(target Pipeline) { target.Expire(key, ttl) })
}

func (p *failoverPipeline) LPush(key, value string) {
	p.ops = append(p.ops, func(target Pipeline) { target.LPush(key, value) })
}

func (p *failoverPipeline) LTrim(key string, start, stop int64) {
	p.ops = append(p.ops, func(target Pipeline) { target.LTrim(key, start, stop) })
}

func (p *failoverPipeline) Exec(ctx context.Context) error {
	_, err := doStore(p.store, ctx, func(s Store) (struct{}, error) {
		target := s.Pipeline()
		for _, op := range p.ops {
			op(target)
		}
		return struct{}{}, target.Exec(ctx)
	})
	return err
}

// 确保 failoverStore 实现了 Store 接口。
var _ Store = (*failoverStore)(nil)
