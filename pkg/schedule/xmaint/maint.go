package xmaint

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/omeyang/msggate/pkg/config/xpolicy"
	"github.com/omeyang/msggate/pkg/intake/xban"
	"github.com/omeyang/msggate/pkg/intake/xtier"
	"github.com/omeyang/msggate/pkg/intake/xusage"
	"github.com/omeyang/msggate/pkg/observability/xalert"
	"github.com/omeyang/msggate/pkg/storage/xsender"
)

// 任务名与调度表达式。所有表达式按 UTC 解释。
const (
	JobWeeklyReset  = "weekly-reset"
	JobDailyReport  = "daily-report"
	JobHourlyHealth = "hourly-health"
	JobBanSweep     = "ban-sweep"
	JobTierSweep    = "tier-sweep"
	JobRetention    = "retention"

	specWeeklyReset  = "0 0 * * 1"
	specDailyReport  = "0 0 * * *"
	specHourlyHealth = "0 * * * *"
	specBanSweep     = "*/15 * * * *"
	specTierSweep    = "0 */4 * * *"
	specRetention    = "0 2 * * *"
)

// DefaultJobTimeout 单次任务执行的超时上限。
// 维护任务都是批量扫描，超过五分钟说明底层存储已经不对劲。
const DefaultJobTimeout = 5 * time.Minute

// Logger 定义本包所需的最小日志接口，兼容 xlog.Logger。
type Logger interface {
	Debug(ctx context.Context, msg string, attrs ...slog.Attr)
	Info(ctx context.Context, msg string, attrs ...slog.Attr)
	Warn(ctx context.Context, msg string, attrs ...slog.Attr)
	Error(ctx context.Context, msg string, attrs ...slog.Attr)
}

// =============================================================================
// 配置选项
// =============================================================================

type options struct {
	policy     xpolicy.MaintenancePolicy
	jobTimeout time.Duration
	logger     Logger
	alerts     xalert.Sink
	now        func() time.Time
}

func defaultOptions() *options {
	return &options{
		policy:     xpolicy.Default().Maintenance,
		jobTimeout: DefaultJobTimeout,
		alerts:     xalert.Nop(),
		now:        time.Now,
	}
}

// Option 调度器配置选项。
type Option func(*options)

// WithPolicy 设置维护策略。默认使用 xpolicy.Default().Maintenance。
func WithPolicy(policy xpolicy.MaintenancePolicy) Option {
	return func(o *options) { o.policy = policy }
}

// WithJobTimeout 设置单次任务执行的超时。d <= 0 时忽略。
func WithJobTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.jobTimeout = d
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithAlerts 设置告警端。任务失败与水位越限时发送告警。
func WithAlerts(sink xalert.Sink) Option {
	return func(o *options) {
		if sink != nil {
			o.alerts = sink
		}
	}
}

// WithClock 设置时钟来源，测试中用于固定时间。
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// =============================================================================
// 调度器
// =============================================================================

// Scheduler 维护任务调度器。独立于请求流量运行，从不阻塞准入。
type Scheduler struct {
	cron     *cron.Cron
	usage    *xusage.Tracker
	senders  xsender.Store
	bans     *xban.Registry
	tiers    *xtier.Engine
	opts     *options
	stats    *Stats
	wrappers map[string]*jobWrapper
	entries  map[string]cron.EntryID

	started atomic.Bool
}

// New 创建调度器并注册全部维护任务。四个依赖均为必传。
func New(usage *xusage.Tracker, senders xsender.Store, bans *xban.Registry, tiers *xtier.Engine, opts ...Option) (*Scheduler, error) {
	if usage == nil || senders == nil || bans == nil || tiers == nil {
		return nil, ErrNilDependency
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		usage:    usage,
		senders:  senders,
		bans:     bans,
		tiers:    tiers,
		opts:     o,
		stats:    &Stats{},
		wrappers: make(map[string]*jobWrapper),
		entries:  make(map[string]cron.EntryID),
	}

	jobs := []struct {
		name    string
		spec    string
		handler func(ctx context.Context) error
	}{
		{JobWeeklyReset, specWeeklyReset, s.runWeeklyReset},
		{JobDailyReport, specDailyReport, s.runDailyReport},
		{JobHourlyHealth, specHourlyHealth, s.runHourlyHealth},
		{JobBanSweep, specBanSweep, s.runBanSweep},
		{JobTierSweep, specTierSweep, s.runTierSweep},
		{JobRetention, specRetention, s.runRetention},
	}
	for _, job := range jobs {
		if err := s.register(job.name, job.spec, job.handler); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) register(name, spec string, handler func(ctx context.Context) error) error {
	wrapper := &jobWrapper{
		name:    name,
		handler: handler,
		timeout: s.opts.jobTimeout,
		logger:  s.opts.logger,
		alerts:  s.opts.alerts,
		stats:   s.stats,
	}
	id, err := s.cron.AddJob(spec, wrapper)
	if err != nil {
		return fmt.Errorf("xmaint: register job %s: %w", name, err)
	}
	s.wrappers[name] = wrapper
	s.entries[name] = id
	return nil
}

// Start 启动调度。重复调用返回 ErrAlreadyStarted。
func (s *Scheduler) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	s.cron.Start()
	if s.opts.logger != nil {
		s.opts.logger.Info(context.Background(), "maintenance scheduler started",
			slog.Int("jobs", len(s.entries)),
		)
	}
	return nil
}

// Stop 停止调度并等待在途任务完成，受 ctx 超时约束。
func (s *Scheduler) Stop(ctx context.Context) error {
	if !s.started.CompareAndSwap(true, false) {
		return ErrNotStarted
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger 立即执行一次指定任务，与定时触发共用包装器。
// 供运维工具手动补跑。
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	wrapper, ok := s.wrappers[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	return wrapper.execute(ctx)
}

// Jobs 返回全部任务名，按字典序。
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.wrappers))
	for name := range s.wrappers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats 返回任务执行统计。
func (s *Scheduler) Stats() *Stats {
	return s.stats
}

// 确保 jobWrapper 实现了 cron.Job 接口。
var _ cron.Job = (*jobWrapper)(nil)
