package xkv

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// memEntry 内存存储的单个键条目。
// 字符串与列表互斥，对齐 Redis 的类型语义。
type memEntry struct {
	value    string
	list     []string
	isList   bool
	expireAt time.Time // 零值表示不过期
}

// expired 检查条目在 now 时刻是否已过期。
func (e *memEntry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

// memoryStore 进程内计数存储。
//
// 语义对齐 redisStore：懒过期（读路径）+ 后台清扫（janitor）双保险。
// 作为降级实现，容量没有上限——准入键都带 TTL，清扫即回收。
type memoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
	opts    *options
	closed  atomic.Bool

	// now 可在测试中替换以推进时钟。
	now func() time.Time

	janitorStop chan struct{}
	janitorDone chan struct{}
}

// NewMemory 创建内存计数存储并启动过期清扫 goroutine。
// 不再使用时必须调用 Close 停止清扫。
func NewMemory(opts ...Option) Store {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	s := &memoryStore{
		entries:     make(map[string]*memEntry),
		opts:        options,
		now:         time.Now,
		janitorStop: make(chan struct{}),
		janitorDone: make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Kind 返回实现类型标识。
func (s *memoryStore) Kind() string {
	return "memory"
}

// janitor 周期性清除过期条目。
func (s *memoryStore) janitor() {
	defer close(s.janitorDone)

	ticker := time.NewTicker(s.opts.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.janitorStop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep 清除所有已过期条目。
func (s *memoryStore) sweep() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
		}
	}
}

// live 返回未过期的条目；过期条目顺手删除。调用方必须持有写锁。
func (s *memoryStore) live(key string) *memEntry {
	entry, ok := s.entries[key]
	if !ok {
		return nil
	}
	if entry.expired(s.now()) {
		delete(s.entries, key)
		return nil
	}
	return entry
}

func (s *memoryStore) guard(ctx context.Context, key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if key == "" {
		return ErrEmptyKey
	}
	return ctx.Err()
}

func (s *memoryStore) Incr(ctx context.Context, key string) (int64, error) {
	if err := s.guard(ctx, key); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrLocked(key)
}

func (s *memoryStore) incrLocked(key string) (int64, error) {
	entry := s.live(key)
	if entry == nil {
		entry = &memEntry{}
		s.entries[key] = entry
	}
	if entry.isList {
		return 0, fmt.Errorf("xkv: wrong type for key %q", key)
	}

	n := int64(0)
	if entry.value != "" {
		parsed, err := strconv.ParseInt(entry.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("xkv: value at %q is not an integer", key)
		}
		n = parsed
	}
	n++
	entry.value = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *memoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.guard(ctx, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, value, ttl)
	return nil
}

func (s *memoryStore) setLocked(key, value string, ttl time.Duration) {
	entry := &memEntry{value: value}
	if ttl > 0 {
		entry.expireAt = s.now().Add(ttl)
	}
	s.entries[key] = entry
}

func (s *memoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := s.guard(ctx, key); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live(key) != nil {
		return false, nil
	}
	s.setLocked(key, value, ttl)
	return true, nil
}

func (s *memoryStore) Get(ctx context.Context, key string) (string, error) {
	if err := s.guard(ctx, key); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.live(key)
	if entry == nil || entry.isList {
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (s *memoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.guard(ctx, key); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live(key) != nil, nil
}

func (s *memoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := s.guard(ctx, key); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.live(key)
	if entry == nil {
		return 0, ErrNotFound
	}
	if entry.expireAt.IsZero() {
		return 0, nil
	}
	return entry.expireAt.Sub(s.now()), nil
}

func (s *memoryStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, key := range keys {
		if s.live(key) != nil {
			delete(s.entries, key)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) LPush(ctx context.Context, key, value string) error {
	if err := s.guard(ctx, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lpushLocked(key, value)
}

func (s *memoryStore) lpushLocked(key, value string) error {
	entry := s.live(key)
	if entry == nil {
		entry = &memEntry{isList: true}
		s.entries[key] = entry
	}
	if !entry.isList {
		return fmt.Errorf("xkv: wrong type for key %q", key)
	}
	entry.list = append([]string{value}, entry.list...)
	return nil
}

func (s *memoryStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	if err := s.guard(ctx, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ltrimLocked(key, start, stop)
}

func (s *memoryStore) ltrimLocked(key string, start, stop int64) error {
	entry := s.live(key)
	if entry == nil {
		return nil
	}
	if !entry.isList {
		return fmt.Errorf("xkv: wrong type for key %q", key)
	}
	entry.list = sliceRange(entry.list, start, stop)
	if len(entry.list) == 0 {
		delete(s.entries, key)
	}
	return nil
}

func (s *memoryStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if err := s.guard(ctx, key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.live(key)
	if entry == nil {
		return []string{}, nil
	}
	if !entry.isList {
		return nil, fmt.Errorf("xkv: wrong type for key %q", key)
	}
	result := sliceRange(entry.list, start, stop)
	out := make([]string, len(result))
	copy(out, result)
	return out, nil
}

// sliceRange 按 Redis 的 [start, stop] 语义切片，支持负索引。
func sliceRange(list []string, start, stop int64) []string {
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil
	}
	return list[start : stop+1]
}

func (s *memoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var keys []string
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
			continue
		}
		if matchGlob(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// matchGlob 实现仅含 * 通配符的 glob 匹配，对齐引擎实际使用的键模式。
func matchGlob(pattern, key string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == key
	}

	if !strings.HasPrefix(key, parts[0]) {
		return false
	}
	key = key[len(parts[0]):]

	last := parts[len(parts)-1]
	if !strings.HasSuffix(key, last) {
		return false
	}
	key = key[:len(key)-len(last)]

	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(key, part)
		if idx < 0 {
			return false
		}
		key = key[idx+len(part):]
	}
	return true
}

func (s *memoryStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// Close 停止清扫 goroutine 并释放条目。
func (s *memoryStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	close(s.janitorStop)
	<-s.janitorDone

	s.mu.Lock()
	s.entries = make(map[string]*memEntry)
	s.mu.Unlock()
	return nil
}

// Pipeline 返回在单个临界区内执行的管道。
func (s *memoryStore) Pipeline() Pipeline {
	return &memoryPipeline{store: s}
}

// memoryPipeline 将排队操作在一个写锁临界区内顺序应用。
type memoryPipeline struct {
	store *memoryStore
	ops   []func() error
}

func (p *memoryPipeline) Incr(key string) {
	p.ops = append(p.ops, func() error {
		_, err := p.store.incrLocked(key)
		return err
	})
}

func (p *memoryPipeline) Set(key, value string, ttl time.Duration) {
	p.ops = append(p.ops, func() error {
		p.store.setLocked(key, value, ttl)
		return nil
	})
}

func (p *memoryPipeline) Expire(key string, ttl time.Duration) {
	p.ops = append(p.ops, func() error {
		entry := p.store.live(key)
		if entry == nil {
			return nil
		}
		if ttl > 0 {
			entry.expireAt = p.store.now().Add(ttl)
		} else {
			entry.expireAt = time.Time{}
		}
		return nil
	})
}

func (p *memoryPipeline) LPush(key, value string) {
	p.ops = append(p.ops, func() error {
		return p.store.lpushLocked(key, value)
	})
}

func (p *memoryPipeline) LTrim(key string, start, stop int64) {
	p.ops = append(p.ops, func() error {
		return p.store.ltrimLocked(key, start, stop)
	})
}

func (p *memoryPipeline) Exec(ctx context.Context) error {
	if p.store.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	for _, op := range p.ops {
		if err := op(); err != nil {
			return err
		}
	}
	return nil
}

// 确保 memoryStore 实现了 Store 接口。
var _ Store = (*memoryStore)(nil)
