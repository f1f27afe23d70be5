package xadmit

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// 指标名称常量。
const (
	// metricNameRequestsTotal 准入检查总数计数器。
	metricNameRequestsTotal = "msggate.admit.requests.total"
	// metricNameDeniedTotal 被拒绝的准入检查计数器。
	metricNameDeniedTotal = "msggate.admit.denied.total"
	// metricNameFailOpenTotal fail-open 放行计数器。
	metricNameFailOpenTotal = "msggate.admit.fail_open.total"
	// metricNameCheckDuration 准入检查耗时直方图。
	metricNameCheckDuration = "msggate.admit.check.duration"
)

// Metrics 准入指标收集器。
// 提供 Counter 和 Histogram 类型的指标收集。
type Metrics struct {
	requestsTotal metric.Int64Counter
	deniedTotal   metric.Int64Counter
	failOpenTotal metric.Int64Counter
	checkDuration metric.Float64Histogram
}

// NewMetrics 创建指标收集器。
// 如果 meterProvider 为 nil，返回 nil（不收集指标）。
func NewMetrics(meterProvider metric.MeterProvider) (*Metrics, error) {
	if meterProvider == nil {
		return nil, nil
	}

	meter := meterProvider.Meter("xadmit",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	requestsTotal, err := meter.Int64Counter(
		metricNameRequestsTotal,
		metric.WithDescription("准入检查总数"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, err
	}

	deniedTotal, err := meter.Int64Counter(
		metricNameDeniedTotal,
		metric.WithDescription("被拒绝的准入检查数"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, err
	}

	failOpenTotal, err := meter.Int64Counter(
		metricNameFailOpenTotal,
		metric.WithDescription("内部故障 fail-open 放行次数"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, err
	}

	checkDuration, err := meter.Float64Histogram(
		metricNameCheckDuration,
		metric.WithDescription("准入检查耗时"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0,
		),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		requestsTotal: requestsTotal,
		deniedTotal:   deniedTotal,
		failOpenTotal: failOpenTotal,
		checkDuration: checkDuration,
	}, nil
}

// RecordVerdict 记录一次准入裁决。
// tier 为解析出的信任层级，拒绝时 reason 为拒绝原因。
func (m *Metrics) RecordVerdict(ctx context.Context, tier string, allowed bool, reason DenyReason, duration time.Duration) {
	if m == nil {
		return
	}

	// 使用 context.WithoutCancel 确保即使 ctx 被取消，指标仍能记录
	metricsCtx := context.WithoutCancel(ctx)

	attrs := []attribute.KeyValue{
		attribute.String("tier", tier),
		attribute.Bool("allowed", allowed),
	}
	if !allowed {
		attrs = append(attrs, attribute.String("reason", string(reason)))
	}

	m.requestsTotal.Add(metricsCtx, 1, metric.WithAttributes(attrs...))
	if !allowed {
		m.deniedTotal.Add(metricsCtx, 1, metric.WithAttributes(attrs...))
	}
	m.checkDuration.Record(metricsCtx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordFailOpen 记录一次 fail-open 放行。
func (m *Metrics) RecordFailOpen(ctx context.Context, stage string) {
	if m == nil {
		return
	}

	metricsCtx := context.WithoutCancel(ctx)
	m.failOpenTotal.Add(metricsCtx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
	))
}
