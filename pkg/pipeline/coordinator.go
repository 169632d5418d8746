// Package pipeline streams decoded records through validation and feature
// computation into a sink.
//
// The run consists of three stages connected by bounded channels:
//  1. a producer decoding and validating records, submitting approved ones
//     to a task queue of fixed capacity
//  2. a pool of workers computing one feature vector per task
//  3. a writer draining completed vectors, in completion order, to the sink
//
// A full task queue blocks the producer instead of dropping records, and the
// run ends only once every submitted task has been written.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"maskfeat/internal/models"
	"maskfeat/internal/telemetry"
	"maskfeat/pkg/sink"
)

var (
	// ErrAccountingMismatch means a submitted task never reached the writer
	ErrAccountingMismatch = errors.New("written vectors do not match submitted tasks")

	// ErrShutdownTimeout means workers outlived the grace period after cancellation
	ErrShutdownTimeout = errors.New("workers did not finish within the shutdown grace period")
)

// Source yields records until it returns io.EOF. A *models.DecodeError
// skips one record or container; any other error stops decoding.
type Source interface {
	Next(ctx context.Context) (*models.ImageRecord, error)
}

// Validator approves records for feature computation
type Validator interface {
	Validate(rec *models.ImageRecord) bool
}

// Featurizer computes the vector of a record and builds the stand-in for
// a failed computation
type Featurizer interface {
	Compute(rec *models.ImageRecord) (*models.FeatureVector, error)
	ErrorVector(ref models.RecordRef, err error) *models.FeatureVector
}

// Params holds the pipeline parameters
type Params struct {
	// Workers is the size of the worker pool
	Workers int

	// QueueCapacity is the number of submitted tasks waiting for a worker
	QueueCapacity int

	// ShutdownGrace bounds how long workers may run after cancellation
	ShutdownGrace time.Duration

	// ProgressEvery logs progress every n written vectors, 0 disables it
	ProgressEvery int
}

// DefaultParams returns one worker per CPU and a queue twice that size
func DefaultParams() Params {
	return Params{
		Workers:       runtime.NumCPU(),
		QueueCapacity: 2 * runtime.NumCPU(),
		ShutdownGrace: 30 * time.Second,
		ProgressEvery: 1000,
	}
}

// Summary reports the accounting of one run. On a completed run every
// submitted record has been written, so Submitted == Written, and
// Decoded == Submitted + Rejected.
type Summary struct {
	// RunID is a random UUID tagging every log line of the run
	RunID string

	// Decoded counts records produced by the source
	Decoded int
	// Rejected counts records whose mask held more than one object
	Rejected int
	// RejectedRecords lists the rejected records in decode order
	RejectedRecords []models.RecordRef
	// DecodeErrors counts records the source skipped as unreadable
	DecodeErrors int

	// Submitted counts tasks handed to the worker pool
	Submitted uint64
	// Written counts vectors accepted by the sink, error markers included
	Written uint64
	// ComputationErrors counts error markers written in place of a vector
	ComputationErrors int

	// BackpressureWaits counts submissions that found the queue full
	BackpressureWaits int
	// Elapsed is the wall time of Run
	Elapsed time.Duration
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithMetrics records pipeline metrics
func WithMetrics(m *telemetry.PipelineMetrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithRejectionHook calls hook from the producer for every rejected record
func WithRejectionHook(hook func(*models.ImageRecord)) Option {
	return func(c *Coordinator) { c.onReject = hook }
}

// Coordinator owns one pipeline run
type Coordinator struct {
	params    Params
	source    Source
	validator Validator
	engine    Featurizer
	out       sink.Sink
	logger    *zap.Logger
	metrics   *telemetry.PipelineMetrics
	onReject  func(*models.ImageRecord)

	// producer-owned
	submitted atomic.Uint64
	stats     Summary

	// writer-owned
	written atomic.Uint64

	computationErrors atomic.Int64
}

// NewCoordinator creates a coordinator; it may run only once.
//
// Parameters:
//   - params: Worker pool size, queue capacity and shutdown grace
//   - source: Decoded records, consumed on the calling goroutine of Run
//   - validator: Mask check deciding which records are featurized
//   - engine: Feature computation, called concurrently from the workers
//   - out: Destination of every vector, written from a single goroutine
//
// Returns:
//   - The coordinator, or a *models.ConfigurationError when the pool or
//     the queue is smaller than one
func NewCoordinator(params Params, source Source, validator Validator, engine Featurizer,
	out sink.Sink, opts ...Option) (*Coordinator, error) {
	if params.Workers < 1 {
		return nil, models.NewConfigurationError("processing.workers", "must be positive, got %d", params.Workers)
	}
	if params.QueueCapacity < 1 {
		return nil, models.NewConfigurationError("processing.queueCapacity", "must be positive, got %d", params.QueueCapacity)
	}
	if params.ShutdownGrace <= 0 {
		params.ShutdownGrace = DefaultParams().ShutdownGrace
	}
	if source == nil || validator == nil || engine == nil || out == nil {
		return nil, fmt.Errorf("source, validator, engine and sink are required")
	}

	c := &Coordinator{
		params:    params,
		source:    source,
		validator: validator,
		engine:    engine,
		out:       out,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run drives the pipeline until the source is exhausted or ctx is
// cancelled. Tasks already submitted when ctx is cancelled are still
// computed and written. The sink is closed before Run returns, except when
// the shutdown grace period expires.
func (c *Coordinator) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	c.stats.RunID = uuid.NewString()
	c.logger = c.logger.With(zap.String("run", c.stats.RunID))

	tasks := make(chan *models.ImageRecord, c.params.QueueCapacity)
	results := make(chan *models.FeatureVector, c.params.Workers+c.params.QueueCapacity)

	c.logger.Info("Starting pipeline",
		zap.Int("workers", c.params.Workers),
		zap.Int("queueCapacity", c.params.QueueCapacity))

	// Step 1: start the writer
	writerDone := make(chan error, 1)
	go func() {
		writerDone <- c.write(context.WithoutCancel(ctx), results)
	}()

	// Step 2: start the worker pool
	var workers errgroup.Group
	for i := 0; i < c.params.Workers; i++ {
		workers.Go(func() error {
			c.work(ctx, tasks, results)
			return nil
		})
	}

	// Step 3: decode, validate and submit until the source is exhausted
	produceErr := c.produce(ctx, tasks)
	close(tasks)

	// Step 4: wait for in-flight tasks, bounded after cancellation
	workersDone := make(chan struct{})
	go func() {
		_ = workers.Wait()
		close(workersDone)
	}()
	select {
	case <-workersDone:
	case <-ctx.Done():
		select {
		case <-workersDone:
		case <-time.After(c.params.ShutdownGrace):
			summary := c.summary(start)
			c.logger.Error("Workers did not stop in time",
				zap.Duration("grace", c.params.ShutdownGrace),
				zap.Uint64("submitted", summary.Submitted),
				zap.Uint64("written", summary.Written))
			return summary, ErrShutdownTimeout
		}
	}

	// Step 5: let the writer drain the remaining completions
	close(results)
	writeErr := <-writerDone

	summary := c.summary(start)
	c.logger.Info("Pipeline finished",
		zap.Int("decoded", summary.Decoded),
		zap.Int("rejected", summary.Rejected),
		zap.Int("decodeErrors", summary.DecodeErrors),
		zap.Uint64("submitted", summary.Submitted),
		zap.Uint64("written", summary.Written),
		zap.Int("computationErrors", summary.ComputationErrors),
		zap.Duration("elapsed", summary.Elapsed))

	if writeErr != nil {
		return summary, fmt.Errorf("failed to write feature vectors: %w", writeErr)
	}
	if summary.Written != summary.Submitted {
		return summary, fmt.Errorf("%w: submitted %d, written %d",
			ErrAccountingMismatch, summary.Submitted, summary.Written)
	}
	return summary, produceErr
}

func (c *Coordinator) summary(start time.Time) *Summary {
	s := c.stats
	s.RejectedRecords = append([]models.RecordRef(nil), c.stats.RejectedRecords...)
	s.Submitted = c.submitted.Load()
	s.Written = c.written.Load()
	s.ComputationErrors = int(c.computationErrors.Load())
	s.Elapsed = time.Since(start)
	return &s
}

// produce runs on the calling goroutine and owns c.stats
func (c *Coordinator) produce(ctx context.Context, tasks chan<- *models.ImageRecord) error {
	for {
		rec, err := c.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			var decodeErr *models.DecodeError
			if errors.As(err, &decodeErr) {
				c.stats.DecodeErrors++
				c.metrics.RecordRecord(ctx, telemetry.OutcomeDecodeError)
				c.logger.Warn("Skipping undecodable input", zap.Error(err))
				continue
			}
			return fmt.Errorf("failed to read records: %w", err)
		}

		c.stats.Decoded++
		c.metrics.RecordRecord(ctx, telemetry.OutcomeDecoded)

		if !c.validator.Validate(rec) {
			c.stats.Rejected++
			c.stats.RejectedRecords = append(c.stats.RejectedRecords, rec.Ref())
			c.metrics.RecordRecord(ctx, telemetry.OutcomeRejected)
			if c.onReject != nil {
				c.onReject(rec)
			}
			continue
		}

		if err := c.submit(ctx, tasks, rec); err != nil {
			return err
		}
	}
}

// submit hands rec to the task queue, waiting for capacity when it is full
func (c *Coordinator) submit(ctx context.Context, tasks chan<- *models.ImageRecord, rec *models.ImageRecord) error {
	select {
	case tasks <- rec:
	default:
		c.stats.BackpressureWaits++
		c.metrics.RecordBackpressure(ctx)
		select {
		case tasks <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.submitted.Add(1)
	c.metrics.RecordSubmitted(ctx)
	return nil
}

func (c *Coordinator) work(ctx context.Context, tasks <-chan *models.ImageRecord, results chan<- *models.FeatureVector) {
	for rec := range tasks {
		results <- c.featurize(ctx, rec)
	}
}

// featurize never fails: errors and panics become error-marker vectors
func (c *Coordinator) featurize(ctx context.Context, rec *models.ImageRecord) (vec *models.FeatureVector) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			vec = c.fail(ctx, rec, fmt.Errorf("panic: %v", r))
		}
		c.metrics.RecordFeaturizeDuration(ctx, time.Since(start), !vec.IsErrorMarker())
	}()

	vec, err := c.engine.Compute(rec)
	if err != nil {
		return c.fail(ctx, rec, err)
	}
	return vec
}

func (c *Coordinator) fail(ctx context.Context, rec *models.ImageRecord, err error) *models.FeatureVector {
	c.computationErrors.Add(1)

	feature := "unknown"
	var compErr *models.ComputationError
	if errors.As(err, &compErr) {
		feature = compErr.Feature
	}
	c.metrics.RecordComputationError(ctx, feature)
	c.logger.Warn("Feature computation failed",
		zap.Stringer("record", rec.Ref()),
		zap.String("feature", feature),
		zap.Error(err))

	return c.engine.ErrorVector(rec.Ref(), err)
}

// write drains results into the sink and closes it. After a sink failure
// it keeps draining so workers never block, but stops counting.
func (c *Coordinator) write(ctx context.Context, results <-chan *models.FeatureVector) error {
	var sinkErr error
	for vec := range results {
		if sinkErr != nil {
			continue
		}
		if err := c.out.Append(ctx, vec); err != nil {
			sinkErr = err
			c.logger.Error("Sink rejected feature vector",
				zap.String("file", vec.File),
				zap.Uint64("id", vec.RecordID),
				zap.Error(err))
			continue
		}

		n := c.written.Add(1)
		c.metrics.RecordWritten(ctx, vec.IsErrorMarker())
		if c.params.ProgressEvery > 0 && n%uint64(c.params.ProgressEvery) == 0 {
			c.logger.Info("Processed feature vectors", zap.Uint64("written", n),
				zap.Uint64("submitted", c.submitted.Load()))
		}
	}

	if err := c.out.Close(); err != nil && sinkErr == nil {
		sinkErr = err
	}
	return sinkErr
}

// Run is a convenience wrapper building and running a coordinator
func Run(ctx context.Context, params Params, source Source, validator Validator, engine Featurizer,
	out sink.Sink, opts ...Option) (*Summary, error) {
	c, err := NewCoordinator(params, source, validator, engine, out, opts...)
	if err != nil {
		return nil, err
	}
	return c.Run(ctx)
}
