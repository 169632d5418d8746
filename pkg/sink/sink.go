// Package sink writes feature vectors to their final destination.
package sink

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"maskfeat/internal/models"
)

//go:generate mockgen -destination=mocks/mock_sink.go -package=mocks -source=sink.go Sink

// ErrSchemaMismatch is returned when a vector's columns differ from those
// of the first vector written to the sink
var ErrSchemaMismatch = errors.New("feature vector columns differ from the sink schema")

// DefaultBatchSize is the number of rows buffered before a batch insert
const DefaultBatchSize = 1000

// Sink receives feature vectors from a single writer goroutine
type Sink interface {
	// Append writes one vector
	Append(ctx context.Context, vector *models.FeatureVector) error

	// Close flushes buffered vectors and releases resources
	Close() error
}

// Options configures sinks created by Open
type Options struct {
	// Table is the relational table name for database targets
	Table string

	// BatchSize is the number of rows per batch insert
	BatchSize int

	// Delimiter overrides the delimiter chosen from the file extension
	Delimiter rune

	// LogEvery logs progress every n rows, 0 disables it
	LogEvery int

	Logger *zap.Logger
}

// Open creates the sink for target. PostgreSQL connection strings select
// the table sink; any other target is a delimited text file whose
// delimiter follows the extension (.tsv is tab separated).
func Open(ctx context.Context, target string, opts Options) (Sink, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	switch {
	case target == "":
		return nil, models.NewConfigurationError("output.path", "no output target")
	case strings.HasPrefix(target, "postgres://"), strings.HasPrefix(target, "postgresql://"):
		return OpenTable(ctx, target, opts)
	default:
		return CreateDelimited(target, opts)
	}
}

// checkSchema compares the columns of v against the established schema
func checkSchema(schema []string, v *models.FeatureVector) error {
	if cols := v.Columns(); !slices.Equal(schema, cols) {
		return fmt.Errorf("%w: record %s has %d columns, schema has %d",
			ErrSchemaMismatch, models.RecordRef{File: v.File, ID: v.RecordID}, len(cols), len(schema))
	}
	return nil
}

// Collector keeps every vector in memory
type Collector struct {
	mu      sync.Mutex
	vectors []*models.FeatureVector
	closed  bool
}

// NewCollector creates an empty collector
func NewCollector() *Collector {
	return &Collector{}
}

// Append stores the vector
func (c *Collector) Append(_ context.Context, vector *models.FeatureVector) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("collector is closed")
	}
	c.vectors = append(c.vectors, vector)
	return nil
}

// Close marks the collector closed
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Vectors returns the collected vectors in arrival order
func (c *Collector) Vectors() []*models.FeatureVector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*models.FeatureVector(nil), c.vectors...)
}

// Closed reports whether Close was called
func (c *Collector) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
