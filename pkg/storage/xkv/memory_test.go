package xkv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// 测试辅助函数
// =============================================================================

// newTestMemory 创建带可控时钟的内存存储。
func newTestMemory(t *testing.T) (*memoryStore, *time.Time) {
	t.Helper()

	s := NewMemory(WithJanitorInterval(time.Hour)).(*memoryStore)

	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	t.Cleanup(func() {
		_ = s.Close()
	})
	return s, &now
}

// =============================================================================
// 字符串与计数操作
// =============================================================================

func TestMemory_Incr_StartsFromZero(t *testing.T) {
	s, _ := newTestMemory(t)
	ctx := context.Background()

	n, err := s.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemory_Incr_RejectsNonInteger(t *testing.T) {
	s, _ := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "not-a-number", 0))

	_, err := s.Incr(ctx, "k")
	assert.Error(t, err)
}

func TestMemory_SetGet_RoundTrip(t *testing.T) {
	s, _ := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", 0))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestMemory_Get_MissingKey_ReturnsErrNotFound(t *testing.T) {
	s, _ := newTestMemory(t)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_SetNX_OnlyFirstWins(t *testing.T) {
	s, _ := newTestMemory(t)
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "k", "first", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "k", "second", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "first", got)
}

func TestMemory_EmptyKey_Rejected(t *testing.T) {
	s, _ := newTestMemory(t)
	ctx := context.Background()

	_, err := s.Incr(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyKey)

	assert.ErrorIs(t, s.Set(ctx, "", "v", 0), ErrEmptyKey)
}

// =============================================================================
// 过期语义
// =============================================================================

func TestMemory_TTL_Expiry(t *testing.T) {
	s, now := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))

	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	// 推进时钟越过过期点
	*now = now.Add(2 * time.Minute)

	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.TTL(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_TTL_NoExpiry_ReturnsZero(t *testing.T) {
	s, _ := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", 0))

	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), ttl)
}

func TestMemory_Exists_AfterExpiry_False(t *testing.T) {
	s, now := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", time.Second))

	ok, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	*now = now.Add(2 * time.Second)

	ok, err = s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_Sweep_RemovesExpiredEntries(t *testing.T) {
	s, now := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short", "v", time.Second))
	require.NoError(t, s.Set(ctx, "long", "v", time.Hour))

	*now = now.Add(time.Minute)
	s.sweep()

	s.mu.RLock()
	_, hasShort := s.entries["short"]
	_, hasLong := s.entries["long"]
	s.mu.RUnlock()

	assert.False(t, hasShort)
	assert.True(t, hasLong)
}

// =============================================================================
// 列表操作
// =============================================================================

func TestMemory_LPushLRange_NewestFirst(t *testing.T) {
	s, _ := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, s.LPush(ctx, "list", "a"))
	require.NoError(t, s.LPush(ctx, "list", "b"))
	require.NoError(t, s.LPush(ctx, "list", "c"))

	got, err := s.LRange(ctx, "list", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, got)
}

func TestMemory_LRange_PartialAndNegativeIndices(t *testing.T) {
	s, _ := newTestMemory(t)
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.LPush(ctx, "list", v))
	}
	// 列表现在是 e d c b a

	tests := []struct {
		name        string
		start, stop int64
		want        []string
	}{
		{"前两个", 0, 1, []string{"e", "d"}},
		{"负索引尾部", -2, -1, []string{"b", "a"}},
		{"越界截断", 3, 100, []string{"b", "a"}},
		{"起点越界为空", 10, 20, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.LRange(ctx, "list", tt.start, tt.stop)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMemory_LRange_MissingKey_ReturnsEmpty(t *testing.T) {
	s, _ := newTestMemory(t)

	got, err := s.LRange(context.Background(), "missing", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemory_LTrim_CapsList(t *testing.T) {
	s, _ := newTestMemory(t)
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.LPush(ctx, "list", v))
	}

	require.NoError(t, s.LTrim(ctx, "list", 0, 2))

	got, err := s.LRange(ctx, "list", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"e", "d", "c"}, got)
}

func TestMemory_WrongType_Errors(t *testing.T) {
	s, _ := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "str", "v", 0))
	assert.Error(t, s.LPush(ctx, "str", "x"))

	require.NoError(t, s.LPush(ctx, "list", "x"))
	_, err := s.Incr(ctx, "list")
	assert.Error(t, err)
}

// =============================================================================
// Keys / Del
// =============================================================================

func TestMemory_Keys_GlobMatch(t *testing.T) {
	s, _ := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "msggate:usage:week:100:alice", "1", 0))
	require.NoError(t, s.Set(ctx, "msggate:usage:week:100:bob", "2", 0))
	require.NoError(t, s.Set(ctx, "msggate:usage:day:100:alice", "3", 0))
	require.NoError(t, s.Set(ctx, "msggate:ban:alice", "x", 0))

	keys, err := s.Keys(ctx, "msggate:usage:week:*")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	keys, err = s.Keys(ctx, "msggate:usage:*:alice")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	keys, err = s.Keys(ctx, "msggate:ban:alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"msggate:ban:alice"}, keys)
}

func TestMemory_Del_ReturnsRemovedCount(t *testing.T) {
	s, _ := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", "1", 0))
	require.NoError(t, s.Set(ctx, "b", "2", 0))

	n, err := s.Del(ctx, "a", "b", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Pipeline
// =============================================================================

func TestMemory_Pipeline_AppliesAllOps(t *testing.T) {
	s, _ := newTestMemory(t)
	ctx := context.Background()

	pipe := s.Pipeline()
	pipe.Incr("counter")
	pipe.Incr("counter")
	pipe.Set("last", "1717322400", time.Hour)
	pipe.LPush("hist", "entry")
	pipe.LTrim("hist", 0, 9)
	pipe.Expire("counter", time.Hour)

	require.NoError(t, pipe.Exec(ctx))

	got, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, "2", got)

	ttl, err := s.TTL(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ttl)

	hist, err := s.LRange(ctx, "hist", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"entry"}, hist)
}

// =============================================================================
// 生命周期与并发
// =============================================================================

func TestMemory_Close_RejectsFurtherOps(t *testing.T) {
	s := NewMemory(WithJanitorInterval(time.Hour))

	require.NoError(t, s.Close())

	_, err := s.Incr(context.Background(), "k")
	assert.ErrorIs(t, err, ErrClosed)

	assert.ErrorIs(t, s.Close(), ErrClosed)
}

func TestMemory_ConcurrentIncr_NoLostUpdates(t *testing.T) {
	s, _ := newTestMemory(t)
	ctx := context.Background()

	const goroutines = 20
	const perGoroutine = 50

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range perGoroutine {
				_, _ = s.Incr(ctx, "counter")
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, "1000", got)
}

func TestMemory_Kind(t *testing.T) {
	s, _ := newTestMemory(t)
	assert.Equal(t, "memory", s.Kind())
}
