package xkv

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"
)

// redisStore 基于 go-redis 的分布式计数存储。
type redisStore struct {
	client redis.UniversalClient
	opts   *options
	closed atomic.Bool
}

// NewRedis 创建 Redis 计数存储。
// client 必须是已初始化的 redis.UniversalClient，生命周期由调用方管理。
func NewRedis(client redis.UniversalClient, opts ...Option) (Store, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &redisStore{
		client: client,
		opts:   options,
	}, nil
}

// Kind 返回实现类型标识。
func (s *redisStore) Kind() string {
	return "redis"
}

// withRetry 对单个操作执行有界重试。
// 仅可达性错误重试；redis.Nil 等数据类结果立即返回。
func (s *redisStore) withRetry(ctx context.Context, fn func() error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return retry.New(
		retry.Context(ctx),
		retry.Attempts(s.opts.retryAttempts),
		retry.Delay(s.opts.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRedisError),
	).Do(fn)
}

func (s *redisStore) Incr(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}
	var n int64
	err := s.withRetry(ctx, func() error {
		var opErr error
		n, opErr = s.client.Incr(ctx, key).Result()
		return opErr
	})
	return n, err
}

func (s *redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.withRetry(ctx, func() error {
		return s.client.Set(ctx, key, value, normalizeTTL(ttl)).Err()
	})
}

func (s *redisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	var ok bool
	err := s.withRetry(ctx, func() error {
		var opErr error
		ok, opErr = s.client.SetNX(ctx, key, value, normalizeTTL(ttl)).Result()
		return opErr
	})
	return ok, err
}

func (s *redisStore) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	var value string
	err := s.withRetry(ctx, func() error {
		var opErr error
		value, opErr = s.client.Get(ctx, key).Result()
		return opErr
	})
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return value, err
}

func (s *redisStore) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	var n int64
	err := s.withRetry(ctx, func() error {
		var opErr error
		n, opErr = s.client.Exists(ctx, key).Result()
		return opErr
	})
	return n > 0, err
}

func (s *redisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}
	var ttl time.Duration
	err := s.withRetry(ctx, func() error {
		var opErr error
		ttl, opErr = s.client.TTL(ctx, key).Result()
		return opErr
	})
	if err != nil {
		return 0, err
	}
	// go-redis 将 TTL 的 -2（键不存在）/-1（无过期）原样映射为负 Duration
	switch {
	case ttl == time.Duration(-2):
		return 0, ErrNotFound
	case ttl < 0:
		return 0, nil
	default:
		return ttl, nil
	}
}

func (s *redisStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	var n int64
	err := s.withRetry(ctx, func() error {
		var opErr error
		n, opErr = s.client.Del(ctx, keys...).Result()
		return opErr
	})
	return n, err
}

func (s *redisStore) LPush(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.withRetry(ctx, func() error {
		return s.client.LPush(ctx, key, value).Err()
	})
}

func (s *redisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.withRetry(ctx, func() error {
		return s.client.LTrim(ctx, key, start, stop).Err()
	})
}

func (s *redisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	var values []string
	err := s.withRetry(ctx, func() error {
		var opErr error
		values, opErr = s.client.LRange(ctx, key, start, stop).Result()
		return opErr
	})
	return values, err
}

// Keys 基于 SCAN 迭代匹配键。
// 不使用 KEYS 命令：周重置会在生产实例上枚举大量键，KEYS 会阻塞 Redis。
func (s *redisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := s.withRetry(ctx, func() error {
		keys = keys[:0]
		iter := s.client.Scan(ctx, 0, pattern, s.opts.scanCount).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		return iter.Err()
	})
	return keys, err
}

func (s *redisStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.client.Ping(ctx).Err()
}

// Close 标记存储关闭。注入的客户端由调用方负责关闭。
func (s *redisStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return nil
}

// Pipeline 返回基于 TxPipeline 的管道（MULTI/EXEC 原子执行）。
func (s *redisStore) Pipeline() Pipeline {
	return &redisPipeline{store: s}
}

// redisPipeline 将排队操作映射到 go-redis 的 TxPipeline。
type redisPipeline struct {
	store *redisStore
	ops   []func(redis.Pipeliner)
}

func (p *redisPipeline) Incr(key string) {
	p.ops = append(p.ops, func(pipe redis.Pipeliner) {
		pipe.Incr(context.Background(), key)
	})
}

func (p *redisPipeline) Set(key, value string, ttl time.Duration) {
	p.ops = append(p.ops, func(pipe redis.Pipeliner) {
		pipe.Set(context.Background(), key, value, normalizeTTL(ttl))
	})
}

func (p *redisPipeline) Expire(key string, ttl time.Duration) {
	p.ops = append(p.ops, func(pipe redis.Pipeliner) {
		pipe.Expire(context.Background(), key, ttl)
	})
}

func (p *redisPipeline) LPush(key, value string) {
	p.ops = append(p.ops, func(pipe redis.Pipeliner) {
		pipe.LPush(context.Background(), key, value)
	})
}

func (p *redisPipeline) LTrim(key string, start, stop int64) {
	p.ops = append(p.ops, func(pipe redis.Pipeliner) {
		pipe.LTrim(context.Background(), key, start, stop)
	})
}

func (p *redisPipeline) Exec(ctx context.Context) error {
	if len(p.ops) == 0 {
		return nil
	}
	return p.store.withRetry(ctx, func() error {
		pipe := p.store.client.TxPipeline()
		for _, op := range p.ops {
			op(pipe)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

// normalizeTTL 将非正 TTL 归一为 0（go-redis 中 0 表示不过期）。
func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}

// 确保 redisStore 实现了 Store 接口。
var _ Store = (*redisStore)(nil)
