package xkv

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/msggate/pkg/observability/xalert"
)

// =============================================================================
// 测试辅助函数
// =============================================================================

// recordingSink 记录收到的所有告警。
type recordingSink struct {
	mu     sync.Mutex
	levels []xalert.Level
	msgs   []string
}

func (r *recordingSink) Send(_ context.Context, level xalert.Level, msg string, _ ...slog.Attr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels = append(r.levels, level)
	r.msgs = append(r.msgs, msg)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.levels)
}

// newTestFailover 创建带降级的存储，失败预算设为 2 以便快速触发。
func newTestFailover(t *testing.T) (Store, *miniredis.Miniredis, *recordingSink) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr:         mr.Addr(),
		DialTimeout:  100 * time.Millisecond,
		ReadTimeout:  100 * time.Millisecond,
		WriteTimeout: 100 * time.Millisecond,
		PoolSize:     2,
		MaxRetries:   -1,
	})

	sink := &recordingSink{}
	store, err := NewFailover(client,
		WithRetry(1, time.Millisecond),
		WithFailureBudget(2),
		WithJanitorInterval(time.Hour),
		WithAlerts(sink),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
		_ = client.Close()
		mr.Close()
	})

	return store, mr, sink
}

// failUntilSwitched 持续发起操作直到降级完成。
func failUntilSwitched(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	for range 10 {
		if _, err := store.Incr(ctx, "probe"); err == nil && store.Kind() == "memory" {
			return
		}
	}
	t.Fatalf("store did not switch to memory, kind=%s", store.Kind())
}

// =============================================================================
// 降级切换
// =============================================================================

func TestFailover_HealthyRedis_NoSwitch(t *testing.T) {
	store, _, sink := newTestFailover(t)
	ctx := context.Background()

	for range 10 {
		_, err := store.Incr(ctx, "counter")
		require.NoError(t, err)
	}

	assert.Equal(t, "redis", store.Kind())
	assert.Equal(t, 0, sink.count())
}

func TestFailover_RedisDown_SwitchesToMemoryPermanently(t *testing.T) {
	store, mr, _ := newTestFailover(t)
	ctx := context.Background()

	n, err := store.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Redis 宕机
	mr.Close()
	failUntilSwitched(t, store)

	// 后续操作在内存实现上正常工作，计数从新存储重新开始
	n, err = store.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.Equal(t, "memory", store.Kind())
}

func TestFailover_Switch_SendsSingleCriticalAlert(t *testing.T) {
	store, mr, sink := newTestFailover(t)
	ctx := context.Background()

	mr.Close()
	failUntilSwitched(t, store)

	// 切换后继续操作不再追加告警
	for range 5 {
		_, err := store.Incr(ctx, "counter")
		require.NoError(t, err)
	}

	require.Equal(t, 1, sink.count())
	assert.Equal(t, xalert.LevelCritical, sink.levels[0])
}

func TestFailover_NoSwitchBack_AfterRedisRecovers(t *testing.T) {
	store, mr, _ := newTestFailover(t)
	ctx := context.Background()

	addr := mr.Addr()
	mr.Close()
	failUntilSwitched(t, store)

	// Redis 在原地址恢复，存储仍然停留在内存实现
	restarted := miniredis.NewMiniRedis()
	require.NoError(t, restarted.StartAddr(addr))
	defer restarted.Close()

	for range 5 {
		_, err := store.Incr(ctx, "counter")
		require.NoError(t, err)
	}
	assert.Equal(t, "memory", store.Kind())
	assert.False(t, restarted.Exists("counter"))
}

// =============================================================================
// 错误归类
// =============================================================================

func TestFailover_DataErrors_DoNotTripBreaker(t *testing.T) {
	store, _, sink := newTestFailover(t)
	ctx := context.Background()

	// redis.Nil 是数据类结果，不计入失败预算
	for range 10 {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	}

	assert.Equal(t, "redis", store.Kind())
	assert.Equal(t, 0, sink.count())
}

// =============================================================================
// Pipeline 降级
// =============================================================================

func TestFailover_Pipeline_ReplaysOnMemoryAfterSwitch(t *testing.T) {
	store, mr, _ := newTestFailover(t)
	ctx := context.Background()

	mr.Close()
	failUntilSwitched(t, store)

	pipe := store.Pipeline()
	pipe.Incr("counter")
	pipe.Expire("counter", time.Hour)
	pipe.LPush("hist", "entry")
	require.NoError(t, pipe.Exec(ctx))

	got, err := store.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, "1", got)
}

// =============================================================================
// 生命周期
// =============================================================================

func TestFailover_Close_RejectsFurtherOps(t *testing.T) {
	store, _, _ := newTestFailover(t)

	require.NoError(t, store.Close())

	_, err := store.Incr(context.Background(), "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.Close(), ErrClosed)
}
