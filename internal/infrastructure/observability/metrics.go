package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the pipeline instruments
type Metrics struct {
	StageDuration      metric.Float64Histogram
	StageDegraded      metric.Int64Counter
	StageFailed        metric.Int64Counter
	PipelineRuns       metric.Int64Counter
	PipelineRetries    metric.Int64Counter
	CrosswalkCacheHit  metric.Int64Counter
	CrosswalkCacheMiss metric.Int64Counter
	CrosswalkQueryDur  metric.Float64Histogram
	CrosswalkEvictions metric.Int64Counter
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// InitMetrics initializes the pipeline metrics against the global meter provider
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)

	stageDuration, err := meter.Float64Histogram(
		"coding.pipeline.stage.duration",
		metric.WithDescription("Pipeline stage duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	stageDegraded, err := meter.Int64Counter(
		"coding.pipeline.stage.degraded",
		metric.WithDescription("Number of degradable stages that fell back to a default"),
	)
	if err != nil {
		return nil, err
	}
	stageFailed, err := meter.Int64Counter(
		"coding.pipeline.stage.failed",
		metric.WithDescription("Number of mandatory stages that failed the attempt"),
	)
	if err != nil {
		return nil, err
	}
	pipelineRuns, err := meter.Int64Counter(
		"coding.pipeline.runs",
		metric.WithDescription("Number of finished pipeline runs by outcome"),
	)
	if err != nil {
		return nil, err
	}
	pipelineRetries, err := meter.Int64Counter(
		"coding.pipeline.retries",
		metric.WithDescription("Number of failed pipeline attempts"),
	)
	if err != nil {
		return nil, err
	}
	cacheHit, err := meter.Int64Counter(
		"coding.crosswalk.cache.hit",
		metric.WithDescription("Number of crosswalk cache hits"),
	)
	if err != nil {
		return nil, err
	}
	cacheMiss, err := meter.Int64Counter(
		"coding.crosswalk.cache.miss",
		metric.WithDescription("Number of crosswalk cache misses"),
	)
	if err != nil {
		return nil, err
	}
	queryDuration, err := meter.Float64Histogram(
		"coding.crosswalk.query.duration",
		metric.WithDescription("Crosswalk store query duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	evictions, err := meter.Int64Counter(
		"coding.crosswalk.cache.evictions",
		metric.WithDescription("Number of crosswalk cache evictions"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		StageDuration:      stageDuration,
		StageDegraded:      stageDegraded,
		StageFailed:        stageFailed,
		PipelineRuns:       pipelineRuns,
		PipelineRetries:    pipelineRetries,
		CrosswalkCacheHit:  cacheHit,
		CrosswalkCacheMiss: cacheMiss,
		CrosswalkQueryDur:  queryDuration,
		CrosswalkEvictions: evictions,
	}, nil
}

func defaultMetrics() *Metrics {
	metricsOnce.Do(func() {
		m, err := InitMetrics()
		if err != nil {
			GetLogger().Warn().Err(err).Msg("pipeline metrics disabled")
			return
		}
		metrics = m
	})
	return metrics
}

// StageOutcome is how a pipeline stage ended
type StageOutcome string

const (
	StageOK       StageOutcome = "ok"
	StageDegraded StageOutcome = "degraded"
	StageFailed   StageOutcome = "failed"
)

// RecordStage records the duration of a pipeline stage and counts degraded or failed outcomes
func RecordStage(ctx context.Context, stage string, duration time.Duration, outcome StageOutcome) {
	m := defaultMetrics()
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("stage", stage))
	m.StageDuration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(attribute.String("stage", stage), attribute.String("outcome", string(outcome))))
	switch outcome {
	case StageDegraded:
		m.StageDegraded.Add(ctx, 1, attrs)
	case StageFailed:
		m.StageFailed.Add(ctx, 1, attrs)
	}
}

// RecordPipelineRun records a finished run by final status
func RecordPipelineRun(ctx context.Context, status string, attempts int) {
	m := defaultMetrics()
	if m == nil {
		return
	}
	m.PipelineRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.Int("attempts", attempts),
	))
}

// RecordPipelineRetry records a failed attempt
func RecordPipelineRetry(ctx context.Context, kind string) {
	m := defaultMetrics()
	if m == nil {
		return
	}
	m.PipelineRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordCrosswalkCache records crosswalk cache hits and misses
func RecordCrosswalkCache(ctx context.Context, hits, misses int) {
	m := defaultMetrics()
	if m == nil {
		return
	}
	if hits > 0 {
		m.CrosswalkCacheHit.Add(ctx, int64(hits))
	}
	if misses > 0 {
		m.CrosswalkCacheMiss.Add(ctx, int64(misses))
	}
}

// RecordCrosswalkEviction records an eviction from the crosswalk cache
func RecordCrosswalkEviction(ctx context.Context) {
	m := defaultMetrics()
	if m == nil {
		return
	}
	m.CrosswalkEvictions.Add(ctx, 1)
}

// RecordCrosswalkQuery records a crosswalk store query
func RecordCrosswalkQuery(ctx context.Context, operation string, duration time.Duration) {
	m := defaultMetrics()
	if m == nil {
		return
	}
	m.CrosswalkQueryDur.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(attribute.String("db.operation", operation)))
}
