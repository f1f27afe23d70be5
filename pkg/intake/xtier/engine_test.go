package xtier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/msggate/pkg/config/xpolicy"
	"github.com/omeyang/msggate/pkg/storage/xsender"
)

var testNow = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, xsender.Store) {
	t.Helper()

	store := xsender.NewMemory()
	engine, err := New(store, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine, store
}

// touchAt 以指定首见时间建档。
func touchAt(t *testing.T, store xsender.Store, sender string, at time.Time) {
	t.Helper()
	_, err := store.Touch(context.Background(), sender, at)
	require.NoError(t, err)
}

func TestNew_NilStore(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilStore)
}

func TestEngine_Resolve_UnknownSender(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	tier, err := engine.Resolve(ctx, "sender-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, xpolicy.TierNewUser, tier)

	// 未知发送者不建档，建档由准入通过时的 Touch 完成
	_, err = store.Get(ctx, "sender-1")
	assert.ErrorIs(t, err, xsender.ErrNotFound)
}

func TestEngine_Resolve_EmptySender(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Resolve(context.Background(), "", testNow)
	assert.ErrorIs(t, err, ErrEmptySender)
}

func TestEngine_Resolve_PersistsUpgrade(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	touchAt(t, store, "sender-1", testNow.Add(-8*24*time.Hour))

	tier, err := engine.Resolve(ctx, "sender-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, xpolicy.TierRegular, tier)

	profile, err := store.Get(ctx, "sender-1")
	require.NoError(t, err)
	assert.Equal(t, xpolicy.TierRegular, profile.Tier, "upgrade must be persisted")
}

func TestEngine_Resolve_RecentSenderStaysNewUser(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	touchAt(t, store, "sender-1", testNow.Add(-24*time.Hour))

	tier, err := engine.Resolve(ctx, "sender-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, xpolicy.TierNewUser, tier)

	profile, err := store.Get(ctx, "sender-1")
	require.NoError(t, err)
	assert.Equal(t, xpolicy.TierNewUser, profile.Tier)
}

func TestEngine_Resolve_CacheHit(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	touchAt(t, store, "sender-1", testNow)
	tier, err := engine.Resolve(ctx, "sender-1", testNow)
	require.NoError(t, err)
	require.Equal(t, xpolicy.TierNewUser, tier)
	engine.cache.Wait()

	// 绕过引擎直接改档案：缓存未失效前 Resolve 仍返回旧层级
	require.NoError(t, store.SetTier(ctx, "sender-1", xpolicy.TierPremium))

	tier, err = engine.Resolve(ctx, "sender-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, xpolicy.TierNewUser, tier, "cached tier should be served until TTL or invalidation")
}

// blockingStore 拦截 Get 直到 release 关闭，用于验证并发解析合并。
type blockingStore struct {
	xsender.Store
	release chan struct{}
	gets    atomic.Int64
}

func (s *blockingStore) Get(ctx context.Context, id string) (*xsender.Sender, error) {
	s.gets.Add(1)
	<-s.release
	return s.Store.Get(ctx, id)
}

func TestEngine_Resolve_SingleflightCollapses(t *testing.T) {
	ctx := context.Background()
	blocking := &blockingStore{
		Store:   xsender.NewMemory(),
		release: make(chan struct{}),
	}
	touchAt(t, blocking.Store, "sender-1", testNow)

	engine, err := New(blocking)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	results := make(chan string, 5)
	var wg sync.WaitGroup

	// 首个解析进入存储读取并阻塞
	wg.Add(1)
	go func() {
		defer wg.Done()
		tier, err := engine.Resolve(ctx, "sender-1", testNow)
		assert.NoError(t, err)
		results <- tier
	}()
	require.Eventually(t, func() bool { return blocking.gets.Load() == 1 },
		time.Second, time.Millisecond)

	// 飞行期间再来 4 个并发解析，全部并入同一次存储读取
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tier, err := engine.Resolve(ctx, "sender-1", testNow)
			assert.NoError(t, err)
			results <- tier
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(blocking.release)
	wg.Wait()
	close(results)

	assert.Equal(t, int64(1), blocking.gets.Load(), "concurrent resolves must collapse into one store read")
	for tier := range results {
		assert.Equal(t, xpolicy.TierNewUser, tier)
	}
}

func TestEngine_VerifyTaxID_Success(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	touchAt(t, store, "sender-1", testNow)

	ok, err := engine.VerifyTaxID(ctx, "sender-1", "12345678", testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	profile, err := store.Get(ctx, "sender-1")
	require.NoError(t, err)
	assert.True(t, profile.Verified)
	assert.Equal(t, xpolicy.TierVerified, profile.Tier)

	tier, err := engine.Resolve(ctx, "sender-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, xpolicy.TierVerified, tier)
}

func TestEngine_VerifyTaxID_Rejected(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	touchAt(t, store, "sender-1", testNow)

	ok, err := engine.VerifyTaxID(ctx, "sender-1", "not-a-tax-id", testNow)
	require.NoError(t, err)
	assert.False(t, ok)

	profile, err := store.Get(ctx, "sender-1")
	require.NoError(t, err)
	assert.False(t, profile.Verified)
	assert.Equal(t, xpolicy.TierNewUser, profile.Tier)
}

// failVerifier 模拟外部校验服务不可用。
type failVerifier struct{}

func (failVerifier) Verify(context.Context, string) (bool, error) {
	return false, errors.New("verification service unavailable")
}

func TestEngine_VerifyTaxID_VerifierDown(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, WithVerifier(failVerifier{}))

	touchAt(t, store, "sender-1", testNow)

	// 校验器故障按"未通过"保守处理，不向上返回错误
	ok, err := engine.VerifyTaxID(ctx, "sender-1", "12345678", testNow)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_VerifyTaxID_UnknownSender(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.VerifyTaxID(context.Background(), "ghost", "12345678", testNow)
	assert.ErrorIs(t, err, xsender.ErrNotFound)
}

func TestEngine_SetPremium(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	touchAt(t, store, "sender-1", testNow)

	until := testNow.Add(30 * 24 * time.Hour)
	require.NoError(t, engine.SetPremium(ctx, "sender-1", until, testNow))

	profile, err := store.Get(ctx, "sender-1")
	require.NoError(t, err)
	assert.Equal(t, until, profile.PremiumUntil)
	assert.Equal(t, xpolicy.TierPremium, profile.Tier)

	tier, err := engine.Resolve(ctx, "sender-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, xpolicy.TierPremium, tier)

	// 退订后层级回落
	require.NoError(t, engine.SetPremium(ctx, "sender-1", time.Time{}, testNow))
	tier, err = engine.Resolve(ctx, "sender-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, xpolicy.TierRegular, tier)
}

func TestEngine_SubscriptionExpiry_DowngradesOnResolve(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t)

	touchAt(t, store, "sender-1", testNow.Add(-60*24*time.Hour))
	require.NoError(t, store.SetTier(ctx, "sender-1", xpolicy.TierPremium))
	require.NoError(t, store.SetPremium(ctx, "sender-1", testNow.Add(-time.Minute)))

	// 订阅已到期：解析时自动回落并持久化，无需业务侧清除
	tier, err := engine.Resolve(ctx, "sender-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, xpolicy.TierRegular, tier)

	profile, err := store.Get(ctx, "sender-1")
	require.NoError(t, err)
	assert.Equal(t, xpolicy.TierRegular, profile.Tier)
}

func TestEngine_EvaluateAll(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, WithBatchSize(2))

	old := testNow.Add(-10 * 24 * time.Hour)
	touchAt(t, store, "old-1", old)
	touchAt(t, store, "old-2", old)
	touchAt(t, store, "old-3", old)
	touchAt(t, store, "recent", testNow.Add(-time.Hour))

	// 订阅已生效但层级还停在 new_user 的档案，批量评估一并纠正
	touchAt(t, store, "old-premium", old)
	require.NoError(t, store.SetPremium(ctx, "old-premium", testNow.Add(24*time.Hour)))

	upgraded, err := engine.EvaluateAll(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(4), upgraded)

	for id, want := range map[string]string{
		"old-1":       xpolicy.TierRegular,
		"old-2":       xpolicy.TierRegular,
		"old-3":       xpolicy.TierRegular,
		"recent":      xpolicy.TierNewUser,
		"old-premium": xpolicy.TierPremium,
	} {
		profile, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, profile.Tier, "sender %s", id)
	}
}

func TestEngine_EvaluateAll_Empty(t *testing.T) {
	engine, _ := newTestEngine(t)

	upgraded, err := engine.EvaluateAll(context.Background(), testNow)
	require.NoError(t, err)
	assert.Zero(t, upgraded)
}

func TestEngine_Close(t *testing.T) {
	engine, _ := newTestEngine(t)

	require.NoError(t, engine.Close())
	assert.ErrorIs(t, engine.Close(), ErrClosed)

	_, err := engine.Resolve(context.Background(), "sender-1", testNow)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = engine.EvaluateAll(context.Background(), testNow)
	assert.ErrorIs(t, err, ErrClosed)
}
