// Package metrics collects Prometheus-compatible metrics for the dispatch
// and job pipelines.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Collector records dispatch, job, and poll metrics through an OpenTelemetry
// meter. All record methods are safe for concurrent use.
type Collector struct {
	meter metric.Meter

	// Counters
	dispatchTotal  metric.Int64Counter
	reactionsTotal metric.Int64Counter
	jobsTotal      metric.Int64Counter
	errorsTotal    metric.Int64Counter

	// Histograms
	reactionLatency metric.Float64Histogram
	pollLatency     metric.Float64Histogram

	// Gauges (using observable gauges)
	activePollers   int64
	activePollersMu sync.RWMutex
}

// NewCollector creates a metrics collector on the given meter provider.
func NewCollector(meterProvider metric.MeterProvider) (*Collector, error) {
	meter := meterProvider.Meter("arealink")

	c := &Collector{
		meter: meter,
	}

	var err error

	c.dispatchTotal, err = meter.Int64Counter(
		"arealink_dispatch_total",
		metric.WithDescription("Total number of triggers dispatched"),
		metric.WithUnit("{trigger}"),
	)
	if err != nil {
		return nil, err
	}

	c.reactionsTotal, err = meter.Int64Counter(
		"arealink_reactions_total",
		metric.WithDescription("Total number of reactions enqueued"),
		metric.WithUnit("{reaction}"),
	)
	if err != nil {
		return nil, err
	}

	c.jobsTotal, err = meter.Int64Counter(
		"arealink_jobs_total",
		metric.WithDescription("Total number of background jobs processed"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	c.errorsTotal, err = meter.Int64Counter(
		"arealink_errors_total",
		metric.WithDescription("Total number of dispatch and job errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	c.reactionLatency, err = meter.Float64Histogram(
		"arealink_reaction_latency_seconds",
		metric.WithDescription("Reaction execution latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	c.pollLatency, err = meter.Float64Histogram(
		"arealink_poll_latency_seconds",
		metric.WithDescription("Poll cycle latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"arealink_pollers_active",
		metric.WithDescription("Number of active pollers"),
		metric.WithUnit("{poller}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			c.activePollersMu.RLock()
			count := c.activePollers
			c.activePollersMu.RUnlock()
			observer.Observe(count)
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// RecordDispatch records one trigger dispatch for the given action type.
func (c *Collector) RecordDispatch(ctx context.Context, actionType string) {
	c.dispatchTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action_type", actionType),
	))
}

// RecordReactionEnqueued records one reaction enqueued for execution.
func (c *Collector) RecordReactionEnqueued(ctx context.Context, reactionType string) {
	c.reactionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reaction_type", reactionType),
	))
}

// RecordReactionComplete records the completion of a reaction execution.
func (c *Collector) RecordReactionComplete(ctx context.Context, reactionType string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}

	attrs := []attribute.KeyValue{
		attribute.String("reaction_type", reactionType),
		attribute.String("status", status),
	}

	c.reactionLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordJob records the completion of one background job of the given kind
// ("delayed" or "pulling").
func (c *Collector) RecordJob(ctx context.Context, kind string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}

	c.jobsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordPollComplete records the completion of one poll cycle.
func (c *Collector) RecordPollComplete(ctx context.Context, service string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}

	attrs := []attribute.KeyValue{
		attribute.String("service", service),
		attribute.String("status", status),
	}

	c.pollLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordError records a pipeline error by stage ("dispatch", "reaction",
// "delayed", "pulling", "webhook").
func (c *Collector) RecordError(ctx context.Context, stage string) {
	c.errorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
	))
}

// SetActivePollers sets the count of active pollers.
func (c *Collector) SetActivePollers(count int) {
	c.activePollersMu.Lock()
	c.activePollers = int64(count)
	c.activePollersMu.Unlock()
}
