package xmaint

import (
	"sync"
	"sync/atomic"
	"time"
)

// JobStats 单个维护任务的执行统计。线程安全。
type JobStats struct {
	name string

	runs     atomic.Int64
	failures atomic.Int64

	mu           sync.RWMutex
	lastRun      time.Time
	lastDuration time.Duration
	lastError    error
}

// Name 返回任务名。
func (js *JobStats) Name() string { return js.name }

// Runs 返回总执行次数。
func (js *JobStats) Runs() int64 { return js.runs.Load() }

// Failures 返回失败次数。
func (js *JobStats) Failures() int64 { return js.failures.Load() }

// LastRun 返回最近一次执行的开始时间。
func (js *JobStats) LastRun() time.Time {
	js.mu.RLock()
	defer js.mu.RUnlock()
	return js.lastRun
}

// LastDuration 返回最近一次执行的耗时。
func (js *JobStats) LastDuration() time.Duration {
	js.mu.RLock()
	defer js.mu.RUnlock()
	return js.lastDuration
}

// LastError 返回最近一次执行的错误，nil 表示成功。
func (js *JobStats) LastError() error {
	js.mu.RLock()
	defer js.mu.RUnlock()
	return js.lastError
}

func (js *JobStats) record(startedAt time.Time, duration time.Duration, err error) {
	js.runs.Add(1)
	if err != nil {
		js.failures.Add(1)
	}

	js.mu.Lock()
	js.lastRun = startedAt
	js.lastDuration = duration
	js.lastError = err
	js.mu.Unlock()
}

// Snapshot 返回可序列化的统计快照。
func (js *JobStats) Snapshot() JobSnapshot {
	js.mu.RLock()
	defer js.mu.RUnlock()

	snap := JobSnapshot{
		Name:         js.name,
		Runs:         js.runs.Load(),
		Failures:     js.failures.Load(),
		LastRun:      js.lastRun,
		LastDuration: js.lastDuration,
	}
	if js.lastError != nil {
		snap.LastError = js.lastError.Error()
	}
	return snap
}

// JobSnapshot 任务统计快照，用于日报与调试输出。
type JobSnapshot struct {
	Name         string        `json:"name"`
	Runs         int64         `json:"runs"`
	Failures     int64         `json:"failures"`
	LastRun      time.Time     `json:"last_run,omitzero"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats 全部维护任务的执行统计。
type Stats struct {
	jobs sync.Map // map[string]*JobStats
}

// Job 返回指定任务的统计，未注册时返回 nil。
func (s *Stats) Job(name string) *JobStats {
	if v, ok := s.jobs.Load(name); ok {
		if js, ok := v.(*JobStats); ok {
			return js
		}
	}
	return nil
}

// Snapshot 返回所有任务的统计快照。
func (s *Stats) Snapshot() map[string]JobSnapshot {
	out := make(map[string]JobSnapshot)
	s.jobs.Range(func(key, value any) bool {
		if js, ok := value.(*JobStats); ok {
			out[js.name] = js.Snapshot()
		}
		return true
	})
	return out
}

func (s *Stats) get(name string) *JobStats {
	if js := s.Job(name); js != nil {
		return js
	}
	actual, _ := s.jobs.LoadOrStore(name, &JobStats{name: name})
	return actual.(*JobStats)
}
