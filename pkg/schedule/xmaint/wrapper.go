package xmaint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/omeyang/msggate/pkg/observability/xalert"
)

// jobWrapper 包装任务处理函数，补齐 panic 恢复、超时、计时、
// 统计与失败告警。实现 cron.Job 接口。
type jobWrapper struct {
	name    string
	handler func(ctx context.Context) error
	timeout time.Duration
	logger  Logger
	alerts  xalert.Sink
	stats   *Stats
}

// Run 实现 cron.Job 接口。
func (w *jobWrapper) Run() {
	_ = w.execute(context.Background())
}

// execute 跑一次任务并返回错误，手动触发与定时触发共用。
func (w *jobWrapper) execute(ctx context.Context) error {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	startedAt := time.Now()
	err := w.safeRun(ctx)
	duration := time.Since(startedAt)

	w.stats.get(w.name).record(startedAt, duration, err)

	if err != nil {
		if w.logger != nil {
			w.logger.Error(ctx, "maintenance job failed",
				slog.String("job", w.name),
				slog.Duration("duration", duration),
				slog.String("error", err.Error()),
			)
		}
		// 运行内不重试，下一个调度点自然重试
		w.alerts.Send(ctx, xalert.LevelWarning, "maintenance job failed",
			slog.String("job", w.name),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return err
	}

	if w.logger != nil {
		w.logger.Debug(ctx, "maintenance job completed",
			slog.String("job", w.name),
			slog.Duration("duration", duration),
		)
	}
	return nil
}

// safeRun 执行处理函数并把 panic 转为错误。
// 一个任务崩溃不能拖垮调度器进程。
func (w *jobWrapper) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("xmaint: job %s panicked: %v", w.name, r)
		}
	}()
	return w.handler(ctx)
}
