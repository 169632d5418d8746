// Package telemetry provides OpenTelemetry instrumentation for the feature pipeline.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PipelineMeterName is the name used for the pipeline metrics meter
const PipelineMeterName = "maskfeat/pipeline"

// PipelineMetrics holds the OpenTelemetry instruments of one pipeline run.
// A nil *PipelineMetrics records nothing.
type PipelineMetrics struct {
	records           metric.Int64Counter
	submitted         metric.Int64Counter
	written           metric.Int64Counter
	computationErrors metric.Int64Counter
	backpressure      metric.Int64Counter
	featurizeDuration metric.Float64Histogram
}

// NewPipelineMetrics creates the pipeline instruments with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewPipelineMetrics(provider metric.MeterProvider) (*PipelineMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(PipelineMeterName)

	records, err := meter.Int64Counter(
		"maskfeat_records_total",
		metric.WithDescription("Records read from containers by outcome"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	submitted, err := meter.Int64Counter(
		"maskfeat_tasks_submitted_total",
		metric.WithDescription("Tasks accepted by the worker pool"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	written, err := meter.Int64Counter(
		"maskfeat_vectors_written_total",
		metric.WithDescription("Feature vectors handed to the sink"),
		metric.WithUnit("{vector}"),
	)
	if err != nil {
		return nil, err
	}

	computationErrors, err := meter.Int64Counter(
		"maskfeat_computation_errors_total",
		metric.WithDescription("Records replaced by an error marker"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	backpressure, err := meter.Int64Counter(
		"maskfeat_backpressure_waits_total",
		metric.WithDescription("Submissions that waited for queue capacity"),
		metric.WithUnit("{wait}"),
	)
	if err != nil {
		return nil, err
	}

	featurizeDuration, err := meter.Float64Histogram(
		"maskfeat_featurize_duration_seconds",
		metric.WithDescription("Time spent computing one feature vector"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	)
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		records:           records,
		submitted:         submitted,
		written:           written,
		computationErrors: computationErrors,
		backpressure:      backpressure,
		featurizeDuration: featurizeDuration,
	}, nil
}

// Record outcomes
const (
	OutcomeDecoded     = "decoded"
	OutcomeRejected    = "rejected"
	OutcomeDecodeError = "decode_error"
)

// RecordRecord counts one record read from a container with its outcome
func (m *PipelineMetrics) RecordRecord(ctx context.Context, outcome string) {
	if m == nil || m.records == nil {
		return
	}
	m.records.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordSubmitted counts one accepted task
func (m *PipelineMetrics) RecordSubmitted(ctx context.Context) {
	if m == nil || m.submitted == nil {
		return
	}
	m.submitted.Add(ctx, 1)
}

// RecordWritten counts one vector handed to the sink
func (m *PipelineMetrics) RecordWritten(ctx context.Context, errorMarker bool) {
	if m == nil || m.written == nil {
		return
	}
	m.written.Add(ctx, 1, metric.WithAttributes(attribute.Bool("error_marker", errorMarker)))
}

// RecordComputationError counts one failed record by feature
func (m *PipelineMetrics) RecordComputationError(ctx context.Context, feature string) {
	if m == nil || m.computationErrors == nil {
		return
	}
	m.computationErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("feature", feature)))
}

// RecordBackpressure counts one submission that found the queue full
func (m *PipelineMetrics) RecordBackpressure(ctx context.Context) {
	if m == nil || m.backpressure == nil {
		return
	}
	m.backpressure.Add(ctx, 1)
}

// RecordFeaturizeDuration records how long one feature vector took
func (m *PipelineMetrics) RecordFeaturizeDuration(ctx context.Context, duration time.Duration, success bool) {
	if m == nil || m.featurizeDuration == nil {
		return
	}
	m.featurizeDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.Bool("success", success)))
}
