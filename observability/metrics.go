package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	webhooks    metric.Int64Counter
	enqueued    metric.Int64Counter
	processed   metric.Int64Counter
	jobRuns     metric.Int64Counter
	jobDuration metric.Float64Histogram
}

// NewMetrics creates the service instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	if m.webhooks, err = meter.Int64Counter("partnersync_webhooks_total",
		metric.WithDescription("Inbound partner webhooks by outcome")); err != nil {
		return nil, err
	}
	if m.enqueued, err = meter.Int64Counter("partnersync_queue_items_enqueued_total",
		metric.WithDescription("Queue items created by ingestion")); err != nil {
		return nil, err
	}
	if m.processed, err = meter.Int64Counter("partnersync_queue_items_processed_total",
		metric.WithDescription("Queue items handled by workers, by outcome")); err != nil {
		return nil, err
	}
	if m.jobRuns, err = meter.Int64Counter("partnersync_job_executions_total",
		metric.WithDescription("Scheduled job executions by outcome")); err != nil {
		return nil, err
	}
	if m.jobDuration, err = meter.Float64Histogram("partnersync_job_duration_ms",
		metric.WithDescription("Scheduled job execution time"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) WebhookReceived(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) ItemsEnqueued(ctx context.Context, category int, n int) {
	if m == nil {
		return
	}
	m.enqueued.Add(ctx, int64(n), metric.WithAttributes(attribute.Int("category", category)))
}

func (m *Metrics) ItemProcessed(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.processed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) JobExecuted(ctx context.Context, jobID string, success bool, durationMs int64) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	attrs := metric.WithAttributes(attribute.String("job_id", jobID), attribute.String("outcome", outcome))
	m.jobRuns.Add(ctx, 1, attrs)
	m.jobDuration.Record(ctx, float64(durationMs), attrs)
}
