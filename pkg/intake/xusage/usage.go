package xusage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/omeyang/msggate/pkg/storage/xkv"
)

// 预定义错误，使用 errors.Is 进行比较。
var (
	// ErrNilStore 传入的计数存储为 nil。
	ErrNilStore = errors.New("xusage: nil store")

	// ErrEmptySender 发送者标识为空字符串。
	ErrEmptySender = errors.New("xusage: empty sender id")
)

// DefaultKeyPrefix 用量键的默认前缀。
const DefaultKeyPrefix = "msggate:usage"

// Usage 某发送者在当前三个窗口内的用量快照。
type Usage struct {
	// Hourly 当前小时窗口内的消息数。
	Hourly int64

	// Daily 当前天窗口内的消息数。
	Daily int64

	// Weekly 当前周窗口内的消息数。
	Weekly int64

	// LastMessageAt 最近一次计入的消息时间（UTC）。
	// 零值表示七天内没有消息。
	LastMessageAt time.Time
}

// Tracker 滚动用量计数器。
type Tracker struct {
	kv     xkv.Store
	prefix string
}

// Option Tracker 配置选项。
type Option func(*Tracker)

// WithKeyPrefix 设置用量键前缀。多套环境共用一个 Redis 时用于隔离。
func WithKeyPrefix(prefix string) Option {
	return func(t *Tracker) {
		if prefix != "" {
			t.prefix = prefix
		}
	}
}

// New 创建用量计数器。
func New(kv xkv.Store, opts ...Option) (*Tracker, error) {
	if kv == nil {
		return nil, ErrNilStore
	}
	t := &Tracker{
		kv:     kv,
		prefix: DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// =============================================================================
// 键构造
// =============================================================================

func (t *Tracker) hourKey(sender string, at time.Time) string {
	return fmt.Sprintf("%s:hour:%d:%s", t.prefix, HourStart(at).Unix(), sender)
}

func (t *Tracker) dayKey(sender string, at time.Time) string {
	return fmt.Sprintf("%s:day:%d:%s", t.prefix, DayStart(at).Unix(), sender)
}

func (t *Tracker) weekKey(sender string, at time.Time) string {
	return fmt.Sprintf("%s:week:%d:%s", t.prefix, WeekStart(at).Unix(), sender)
}

func (t *Tracker) lastKey(sender string) string {
	return fmt.Sprintf("%s:last:%s", t.prefix, sender)
}

// =============================================================================
// 写路径
// =============================================================================

// Record 登记一条已通过准入的消息：三个窗口计数各加一，
// 并刷新最近消息时间。单次管道提交，Redis 实现下原子生效。
func (t *Tracker) Record(ctx context.Context, sender string, at time.Time) error {
	if sender == "" {
		return ErrEmptySender
	}
	at = at.UTC()

	hourKey := t.hourKey(sender, at)
	dayKey := t.dayKey(sender, at)
	weekKey := t.weekKey(sender, at)

	pipe := t.kv.Pipeline()
	pipe.Incr(hourKey)
	pipe.Expire(hourKey, HourTTL)
	pipe.Incr(dayKey)
	pipe.Expire(dayKey, DayTTL)
	pipe.Incr(weekKey)
	pipe.Expire(weekKey, WeekTTL)
	pipe.Set(t.lastKey(sender), strconv.FormatInt(at.UnixMilli(), 10), LastSeenTTL)

	if err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xusage: record %q: %w", sender, err)
	}
	return nil
}

// =============================================================================
// 读路径
// =============================================================================

// Usage 读取发送者在 at 时刻所处窗口的用量。缺失的计数键视为 0。
func (t *Tracker) Usage(ctx context.Context, sender string, at time.Time) (*Usage, error) {
	if sender == "" {
		return nil, ErrEmptySender
	}
	at = at.UTC()

	hourly, err := t.readCount(ctx, t.hourKey(sender, at))
	if err != nil {
		return nil, err
	}
	daily, err := t.readCount(ctx, t.dayKey(sender, at))
	if err != nil {
		return nil, err
	}
	weekly, err := t.readCount(ctx, t.weekKey(sender, at))
	if err != nil {
		return nil, err
	}
	last, err := t.readLast(ctx, sender)
	if err != nil {
		return nil, err
	}

	return &Usage{
		Hourly:        hourly,
		Daily:         daily,
		Weekly:        weekly,
		LastMessageAt: last,
	}, nil
}

func (t *Tracker) readCount(ctx context.Context, key string) (int64, error) {
	value, err := t.kv.Get(ctx, key)
	if errors.Is(err, xkv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("xusage: read %q: %w", key, err)
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("xusage: counter %q holds %q: %w", key, value, err)
	}
	return n, nil
}

func (t *Tracker) readLast(ctx context.Context, sender string) (time.Time, error) {
	value, err := t.kv.Get(ctx, t.lastKey(sender))
	if errors.Is(err, xkv.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("xusage: read last seen for %q: %w", sender, err)
	}
	millis, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("xusage: last seen for %q holds %q: %w", sender, value, err)
	}
	return time.UnixMilli(millis).UTC(), nil
}

// =============================================================================
// 维护入口
// =============================================================================

// ResetWeekly 删除窗口起点早于 now 所在周的周计数键，返回删除数量。
// 当前周的计数键不受影响，同一周内重复执行是无事发生的空操作。
//
// 设计决策: 周计数键名携带窗口起点，新一周的写入永远落在新键上，
// 按起点过滤后删除旧键与在途写入没有竞争。旧键等 TTL 回收也是
// 正确的，显式清理只是为了立刻释放容量并让周报看到干净的起点。
func (t *Tracker) ResetWeekly(ctx context.Context, now time.Time) (int64, error) {
	keys, err := t.kv.Keys(ctx, t.prefix+":week:*")
	if err != nil {
		return 0, fmt.Errorf("xusage: scan week keys: %w", err)
	}

	current := WeekStart(now.UTC()).Unix()
	stale := keys[:0]
	for _, key := range keys {
		start, ok := t.weekKeyStart(key)
		if !ok {
			// 键名异常时不删，留给 TTL 回收
			continue
		}
		if start < current {
			stale = append(stale, key)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	n, err := t.kv.Del(ctx, stale...)
	if err != nil {
		return 0, fmt.Errorf("xusage: delete week keys: %w", err)
	}
	return n, nil
}

// weekKeyStart 从周计数键名中解析窗口起点的 Unix 秒。
func (t *Tracker) weekKeyStart(key string) (int64, bool) {
	rest, ok := strings.CutPrefix(key, t.prefix+":week:")
	if !ok {
		return 0, false
	}
	value, _, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, false
	}
	start, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return start, true
}

// KeyCount 返回当前存活的用量键总数，供容量健康检查。
func (t *Tracker) KeyCount(ctx context.Context) (int64, error) {
	keys, err := t.kv.Keys(ctx, t.prefix+":*")
	if err != nil {
		return 0, fmt.Errorf("xusage: scan usage keys: %w", err)
	}
	return int64(len(keys)), nil
}
