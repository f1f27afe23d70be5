package xsender

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// memoryStore 进程内发送者档案存储。
// 供测试与单机部署使用，语义对齐 mongoStore。
type memoryStore struct {
	mu         sync.RWMutex
	senders    map[string]*Sender
	violations []Violation
	opts       *options
	closed     atomic.Bool

	// now 可在测试中替换。SetBan 的 upsert 建档时间来自这里。
	now func() time.Time
}

// NewMemory 创建内存发送者档案存储。
func NewMemory(opts ...Option) Store {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &memoryStore{
		senders: make(map[string]*Sender),
		opts:    o,
		now:     time.Now,
	}
}

func (s *memoryStore) guard(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

func (s *memoryStore) EnsureIndexes(ctx context.Context) error {
	return s.guard(ctx)
}

// =============================================================================
// 档案操作
// =============================================================================

func (s *memoryStore) Get(ctx context.Context, id string) (*Sender, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrEmptySender
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	sender, ok := s.senders[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *sender
	return &clone, nil
}

func (s *memoryStore) Touch(ctx context.Context, id string, at time.Time) (*Sender, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrEmptySender
	}

	at = at.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	sender, ok := s.senders[id]
	if !ok {
		sender = &Sender{
			ID:          id,
			Tier:        s.opts.defaultTier,
			FirstSeenAt: at,
		}
		s.senders[id] = sender
	}
	sender.LastSeenAt = at
	sender.MessageCount++

	clone := *sender
	return &clone, nil
}

func (s *memoryStore) SetTier(ctx context.Context, id, tier string) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if id == "" {
		return ErrEmptySender
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sender, ok := s.senders[id]
	if !ok {
		return ErrNotFound
	}
	sender.Tier = tier
	return nil
}

func (s *memoryStore) SetVerified(ctx context.Context, id string, verified bool) error {
	return s.setFlag(ctx, id, func(sender *Sender) { sender.Verified = verified })
}

func (s *memoryStore) SetPremium(ctx context.Context, id string, until time.Time) error {
	return s.setFlag(ctx, id, func(sender *Sender) { sender.PremiumUntil = until.UTC() })
}

func (s *memoryStore) setFlag(ctx context.Context, id string, apply func(*Sender)) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if id == "" {
		return ErrEmptySender
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sender, ok := s.senders[id]
	if !ok {
		return ErrNotFound
	}
	apply(sender)
	return nil
}

// =============================================================================
// 封禁镜像
// =============================================================================

func (s *memoryStore) SetBan(ctx context.Context, id string, until time.Time, reason string) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if id == "" {
		return ErrEmptySender
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sender, ok := s.senders[id]
	if !ok {
		now := s.now().UTC()
		sender = &Sender{
			ID:          id,
			Tier:        s.opts.defaultTier,
			FirstSeenAt: now,
			LastSeenAt:  now,
		}
		s.senders[id] = sender
	}
	sender.BannedUntil = until.UTC()
	sender.BanReason = reason
	return nil
}

func (s *memoryStore) ClearBan(ctx context.Context, id string) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if id == "" {
		return ErrEmptySender
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sender, ok := s.senders[id]; ok {
		sender.BannedUntil = time.Time{}
		sender.BanReason = ""
	}
	return nil
}

// =============================================================================
// 违规记录
// =============================================================================

func (s *memoryStore) AppendViolation(ctx context.Context, v *Violation) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	if v == nil {
		return ErrNilViolation
	}
	if v.Sender == "" {
		return ErrEmptySender
	}

	record := *v
	record.OccurredAt = record.OccurredAt.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.violations = append(s.violations, record)
	return nil
}

func (s *memoryStore) CountViolationsSince(ctx context.Context, sender string, since time.Time) (int64, error) {
	if err := s.guard(ctx); err != nil {
		return 0, err
	}
	if sender == "" {
		return 0, ErrEmptySender
	}
	since = since.UTC()

	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, v := range s.violations {
		if v.Sender == sender && !v.OccurredAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) ListViolations(ctx context.Context, sender string, limit int64) ([]Violation, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	if sender == "" {
		return nil, ErrEmptySender
	}
	if limit <= 0 {
		limit = s.opts.listLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Violation
	for _, v := range s.violations {
		if v.Sender == sender {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// 维护任务扫描
// =============================================================================

func (s *memoryStore) ListBannedExpiredBefore(ctx context.Context, cutoff time.Time, limit int64) ([]Sender, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.opts.listLimit
	}
	cutoff = cutoff.UTC()

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Sender
	for _, sender := range s.senders {
		if !sender.BannedUntil.IsZero() && !sender.BannedUntil.After(cutoff) {
			out = append(out, *sender)
			if int64(len(out)) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memoryStore) ListTierCandidates(ctx context.Context, tier string, firstSeenBefore time.Time, limit int64) ([]Sender, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.opts.listLimit
	}
	firstSeenBefore = firstSeenBefore.UTC()

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Sender
	for _, sender := range s.senders {
		if sender.Tier == tier && sender.FirstSeenAt.Before(firstSeenBefore) {
			out = append(out, *sender)
			if int64(len(out)) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memoryStore) DeleteViolationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.guard(ctx); err != nil {
		return 0, err
	}
	cutoff = cutoff.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.violations[:0]
	var removed int64
	for _, v := range s.violations {
		if v.OccurredAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, v)
	}
	s.violations = kept
	return removed, nil
}

func (s *memoryStore) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.guard(ctx); err != nil {
		return 0, err
	}
	cutoff = cutoff.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, sender := range s.senders {
		if sender.LastSeenAt.Before(cutoff) && sender.BannedUntil.IsZero() {
			delete(s.senders, id)
			removed++
		}
	}
	return removed, nil
}

// =============================================================================
// 汇总与生命周期
// =============================================================================

func (s *memoryStore) Counts(ctx context.Context, now time.Time) (*Counts, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	now = now.UTC()
	since := now.Add(-24 * time.Hour)

	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := &Counts{
		Senders: int64(len(s.senders)),
		ByTier:  make(map[string]int64),
	}
	for _, sender := range s.senders {
		counts.ByTier[sender.Tier]++
		if sender.Banned(now) {
			counts.Banned++
		}
	}
	for _, v := range s.violations {
		if !v.OccurredAt.Before(since) {
			counts.ViolationsLastDay++
		}
	}
	return counts, nil
}

func (s *memoryStore) Ping(ctx context.Context) error {
	return s.guard(ctx)
}

func (s *memoryStore) Close(_ context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return nil
}

// 确保 memoryStore 实现了 Store 接口。
var _ Store = (*memoryStore)(nil)
