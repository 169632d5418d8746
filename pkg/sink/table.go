package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"maskfeat/internal/models"
)

// DefaultTable is used when no table name is configured
const DefaultTable = "features"

// copier is the subset of a pgx connection the table sink uses
type copier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Table stores vectors in a PostgreSQL table. The table is created from
// the first vector and rows are inserted with COPY in batches.
type Table struct {
	db        copier
	close     func(context.Context) error
	table     string
	batchSize int
	logEvery  int
	logger    *zap.Logger

	columns []string
	pending [][]any
	rows    int
}

// OpenTable connects to the database at dsn
func OpenTable(ctx context.Context, dsn string, opts Options) (*Table, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	t := NewTable(conn, opts)
	t.close = conn.Close
	return t, nil
}

// NewTable writes through db, which stays open after Close
func NewTable(db copier, opts Options) *Table {
	table := opts.Table
	if table == "" {
		table = DefaultTable
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Table{
		db:        db,
		table:     table,
		batchSize: batch,
		logEvery:  opts.LogEvery,
		logger:    logger,
	}
}

// Append buffers the row of vector, creating the table on first use
func (t *Table) Append(ctx context.Context, vector *models.FeatureVector) error {
	if t.columns == nil {
		if err := t.createTable(ctx, vector); err != nil {
			return err
		}
	} else if err := checkSchema(t.columns, vector); err != nil {
		return err
	}

	row := make([]any, 0, len(t.columns))
	row = append(row, vector.File, int64(vector.RecordID))
	if vector.IsErrorMarker() {
		row = append(row, vector.ErrorText())
	} else {
		row = append(row, nil)
	}
	for _, v := range vector.Values {
		row = append(row, v)
	}
	t.pending = append(t.pending, row)

	if len(t.pending) >= t.batchSize {
		return t.flush(ctx)
	}
	return nil
}

// createTable derives column types from the first vector
func (t *Table) createTable(ctx context.Context, vector *models.FeatureVector) error {
	columns := vector.Columns()
	defs := make([]string, 0, len(columns)+1)
	defs = append(defs,
		pgx.Identifier{models.ColumnFile}.Sanitize()+" TEXT NOT NULL",
		pgx.Identifier{models.ColumnID}.Sanitize()+" BIGINT NOT NULL",
		pgx.Identifier{models.ColumnError}.Sanitize()+" TEXT")
	for _, key := range vector.Keys {
		defs = append(defs, pgx.Identifier{key}.Sanitize()+" DOUBLE PRECISION")
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s, %s)",
		pgx.Identifier{models.ColumnFile}.Sanitize(), pgx.Identifier{models.ColumnID}.Sanitize()))

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		pgx.Identifier{t.table}.Sanitize(), strings.Join(defs, ", "))
	if _, err := t.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", t.table, err)
	}

	t.columns = columns
	t.logger.Info("Created feature table",
		zap.String("table", t.table),
		zap.Int("columns", len(columns)))
	return nil
}

func (t *Table) flush(ctx context.Context) error {
	if len(t.pending) == 0 {
		return nil
	}

	count, err := t.db.CopyFrom(ctx, pgx.Identifier{t.table}, t.columns, pgx.CopyFromRows(t.pending))
	if err != nil {
		return fmt.Errorf("failed to copy rows to %s: %w", t.table, err)
	}
	if int(count) != len(t.pending) {
		return fmt.Errorf("copy count mismatch: expected %d, got %d", len(t.pending), count)
	}

	before := t.rows
	t.rows += len(t.pending)
	t.pending = t.pending[:0]
	if t.logEvery > 0 && t.rows/t.logEvery != before/t.logEvery {
		t.logger.Info("Inserted rows", zap.String("table", t.table), zap.Int("rows", t.rows))
	}
	return nil
}

// Rows returns the number of rows committed to the table
func (t *Table) Rows() int { return t.rows }

// Close inserts the remaining rows and closes an owned connection
func (t *Table) Close() error {
	ctx := context.Background()
	err := t.flush(ctx)
	if t.close != nil {
		if cerr := t.close(ctx); err == nil {
			err = cerr
		}
		t.close = nil
	}
	return err
}
