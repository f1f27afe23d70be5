package xusage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/msggate/pkg/storage/xkv"
)

func newTestTracker(t *testing.T) (*Tracker, xkv.Store) {
	t.Helper()

	store := xkv.NewMemory(xkv.WithJanitorInterval(time.Hour))
	t.Cleanup(func() {
		_ = store.Close()
	})

	tracker, err := New(store)
	require.NoError(t, err)
	return tracker, store
}

func TestNew_NilStore_Errors(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilStore)
}

func TestTracker_RecordThenUsage(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 4, 15, 0, 0, 0, time.UTC)

	for range 3 {
		require.NoError(t, tracker.Record(ctx, "alice", at))
	}

	usage, err := tracker.Usage(ctx, "alice", at)
	require.NoError(t, err)
	assert.Equal(t, int64(3), usage.Hourly)
	assert.Equal(t, int64(3), usage.Daily)
	assert.Equal(t, int64(3), usage.Weekly)
	assert.Equal(t, at, usage.LastMessageAt)
}

func TestTracker_Usage_UnknownSender_AllZero(t *testing.T) {
	tracker, _ := newTestTracker(t)

	usage, err := tracker.Usage(context.Background(), "ghost", time.Now())
	require.NoError(t, err)
	assert.Zero(t, usage.Hourly)
	assert.Zero(t, usage.Daily)
	assert.Zero(t, usage.Weekly)
	assert.True(t, usage.LastMessageAt.IsZero())
}

func TestTracker_WindowRollover(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	// 周三 23:30 发两条，跨过午夜后发一条
	before := time.Date(2025, 6, 4, 23, 30, 0, 0, time.UTC)
	after := time.Date(2025, 6, 5, 0, 10, 0, 0, time.UTC)

	require.NoError(t, tracker.Record(ctx, "alice", before))
	require.NoError(t, tracker.Record(ctx, "alice", before.Add(time.Minute)))
	require.NoError(t, tracker.Record(ctx, "alice", after))

	usage, err := tracker.Usage(ctx, "alice", after)
	require.NoError(t, err)
	assert.Equal(t, int64(1), usage.Hourly, "新小时窗口从零开始")
	assert.Equal(t, int64(1), usage.Daily, "新天窗口从零开始")
	assert.Equal(t, int64(3), usage.Weekly, "同一周窗口累计")

	// 旧窗口的计数仍然可读
	usageBefore, err := tracker.Usage(ctx, "alice", before)
	require.NoError(t, err)
	assert.Equal(t, int64(2), usageBefore.Hourly)
	assert.Equal(t, int64(2), usageBefore.Daily)
}

func TestTracker_WeekRollover(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	sunday := time.Date(2025, 6, 8, 23, 0, 0, 0, time.UTC)
	monday := time.Date(2025, 6, 9, 1, 0, 0, 0, time.UTC)

	require.NoError(t, tracker.Record(ctx, "alice", sunday))
	require.NoError(t, tracker.Record(ctx, "alice", monday))

	usage, err := tracker.Usage(ctx, "alice", monday)
	require.NoError(t, err)
	assert.Equal(t, int64(1), usage.Weekly, "周一起新周窗口")
}

func TestTracker_SendersAreIsolated(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 4, 15, 0, 0, 0, time.UTC)

	require.NoError(t, tracker.Record(ctx, "alice", at))
	require.NoError(t, tracker.Record(ctx, "alice", at))
	require.NoError(t, tracker.Record(ctx, "bob", at))

	aliceUsage, err := tracker.Usage(ctx, "alice", at)
	require.NoError(t, err)
	bobUsage, err := tracker.Usage(ctx, "bob", at)
	require.NoError(t, err)

	assert.Equal(t, int64(2), aliceUsage.Hourly)
	assert.Equal(t, int64(1), bobUsage.Hourly)
}

func TestTracker_EmptySender_Rejected(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	assert.ErrorIs(t, tracker.Record(ctx, "", time.Now()), ErrEmptySender)

	_, err := tracker.Usage(ctx, "", time.Now())
	assert.ErrorIs(t, err, ErrEmptySender)
}

func TestTracker_ResetWeekly(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 4, 15, 0, 0, 0, time.UTC)
	lastWeek := at.AddDate(0, 0, -7)

	require.NoError(t, tracker.Record(ctx, "alice", lastWeek))
	require.NoError(t, tracker.Record(ctx, "bob", lastWeek))

	removed, err := tracker.ResetWeekly(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	// 幂等：再次执行无事发生
	removed, err = tracker.ResetWeekly(ctx, at)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestTracker_ResetWeekly_SparesCurrentWeek(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	// 周三中段，本周已有在途计数
	at := time.Date(2025, 6, 4, 15, 0, 0, 0, time.UTC)

	require.NoError(t, tracker.Record(ctx, "alice", at.AddDate(0, 0, -7)))
	for range 5 {
		require.NoError(t, tracker.Record(ctx, "alice", at))
	}

	removed, err := tracker.ResetWeekly(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed, "只删除上一周的键")

	// 本周计数原封不动，小时/天计数不受影响
	usage, err := tracker.Usage(ctx, "alice", at)
	require.NoError(t, err)
	assert.Equal(t, int64(5), usage.Weekly)
	assert.Equal(t, int64(5), usage.Hourly)
	assert.Equal(t, int64(5), usage.Daily)
}

func TestTracker_KeyCount(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 4, 15, 0, 0, 0, time.UTC)

	n, err := tracker.KeyCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// 每个发送者产生 hour/day/week/last 四个键
	require.NoError(t, tracker.Record(ctx, "alice", at))
	require.NoError(t, tracker.Record(ctx, "bob", at))

	n, err = tracker.KeyCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
}

func TestTracker_CustomPrefix(t *testing.T) {
	store := xkv.NewMemory(xkv.WithJanitorInterval(time.Hour))
	t.Cleanup(func() { _ = store.Close() })

	tracker, err := New(store, WithKeyPrefix("staging:usage"))
	require.NoError(t, err)
	ctx := context.Background()
	at := time.Date(2025, 6, 4, 15, 0, 0, 0, time.UTC)

	require.NoError(t, tracker.Record(ctx, "alice", at))

	keys, err := store.Keys(ctx, "staging:usage:*")
	require.NoError(t, err)
	assert.Len(t, keys, 4)
}
