package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"maskfeat/internal/models"
)

// Delimited writes one row per vector. The header is taken from the first
// vector; later vectors must carry the same columns.
type Delimited struct {
	w        *csv.Writer
	closer   io.Closer
	header   []string
	rows     int
	logEvery int
	logger   *zap.Logger
}

// NewDelimited writes delimited rows to w
func NewDelimited(w io.Writer, comma rune, opts Options) *Delimited {
	cw := csv.NewWriter(w)
	cw.Comma = comma
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Delimited{w: cw, logEvery: opts.LogEvery, logger: logger}
}

// CreateDelimited creates the file at path, tab separated for .tsv files
// and comma separated otherwise
func CreateDelimited(path string, opts Options) (*Delimited, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("error creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("error creating output file: %w", err)
	}

	comma := ','
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		comma = '\t'
	}
	if opts.Delimiter != 0 {
		comma = opts.Delimiter
	}
	d := NewDelimited(f, comma, opts)
	d.closer = f
	return d, nil
}

// Append writes the row of vector, preceded by the header on first use
func (d *Delimited) Append(_ context.Context, vector *models.FeatureVector) error {
	if d.header == nil {
		d.header = vector.Columns()
		if err := d.w.Write(d.header); err != nil {
			return fmt.Errorf("error writing header: %w", err)
		}
	} else if err := checkSchema(d.header, vector); err != nil {
		return err
	}

	row := make([]string, 0, len(d.header))
	row = append(row, vector.File, strconv.FormatUint(vector.RecordID, 10), vector.ErrorText())
	for _, v := range vector.Values {
		row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
	}
	if err := d.w.Write(row); err != nil {
		return fmt.Errorf("error writing row: %w", err)
	}

	d.rows++
	if d.logEvery > 0 && d.rows%d.logEvery == 0 {
		d.w.Flush()
		d.logger.Info("Wrote rows", zap.Int("rows", d.rows))
	}
	return nil
}

// Rows returns the number of data rows written
func (d *Delimited) Rows() int { return d.rows }

// Close flushes buffered rows and closes the file
func (d *Delimited) Close() error {
	d.w.Flush()
	err := d.w.Error()
	if d.closer != nil {
		if cerr := d.closer.Close(); err == nil {
			err = cerr
		}
		d.closer = nil
	}
	return err
}
