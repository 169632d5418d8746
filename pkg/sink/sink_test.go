package sink

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"maskfeat/internal/models"
)

func vector(id uint64, values ...float64) *models.FeatureVector {
	return &models.FeatureVector{
		RecordID: id,
		File:     "/data/a.tif",
		Keys:     []string{"feat_mean_0", "feat_size_0"},
		Values:   values,
	}
}

func TestDelimitedWritesHeaderFromFirstVector(t *testing.T) {
	var buf bytes.Buffer
	d := NewDelimited(&buf, ',', Options{LogEvery: 1, Logger: zaptest.NewLogger(t)})
	ctx := context.Background()

	require.NoError(t, d.Append(ctx, vector(0, 2.5, 9)))
	require.NoError(t, d.Append(ctx, vector(1, math.NaN(), math.NaN())))
	require.NoError(t, d.Close())

	assert.Equal(t, "file,id,error,feat_mean_0,feat_size_0\n"+
		"/data/a.tif,0,,2.5,9\n"+
		"/data/a.tif,1,,NaN,NaN\n", buf.String())
	assert.Equal(t, 2, d.Rows())
}

func TestErrorMarkerRowsCarryTheFailure(t *testing.T) {
	var buf bytes.Buffer
	d := NewDelimited(&buf, ',', Options{})
	ctx := context.Background()

	// Both rows are all NaN; only the error column tells them apart.
	marker := models.NewErrorMarker(models.RecordRef{File: "/data/a.tif", ID: 2},
		[]string{"feat_mean_0", "feat_size_0"}, errors.New("feature mean, channel 0: boom"))
	require.NoError(t, d.Append(ctx, vector(1, math.NaN(), math.NaN())))
	require.NoError(t, d.Append(ctx, marker))
	require.NoError(t, d.Close())

	assert.Equal(t, "file,id,error,feat_mean_0,feat_size_0\n"+
		"/data/a.tif,1,,NaN,NaN\n"+
		"/data/a.tif,2,\"feature mean, channel 0: boom\",NaN,NaN\n", buf.String())

	db := &fakeDB{}
	tbl := NewTable(db, Options{})
	require.NoError(t, tbl.Append(ctx, vector(1, math.NaN(), math.NaN())))
	require.NoError(t, tbl.Append(ctx, marker))
	require.NoError(t, tbl.Close())
	require.Len(t, db.copies, 1)
	assert.Nil(t, db.copies[0][0][2])
	assert.Equal(t, "feature mean, channel 0: boom", db.copies[0][1][2])
}

func TestDelimitedSchemaMismatch(t *testing.T) {
	var buf bytes.Buffer
	d := NewDelimited(&buf, '\t', Options{})
	ctx := context.Background()

	require.NoError(t, d.Append(ctx, vector(0, 1, 2)))
	other := &models.FeatureVector{RecordID: 1, File: "b", Keys: []string{"feat_max_0"}, Values: []float64{3}}
	err := d.Append(ctx, other)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	require.NoError(t, d.Close())

	assert.Equal(t, "file\tid\terror\tfeat_mean_0\tfeat_size_0\n/data/a.tif\t0\t\t1\t2\n", buf.String())
}

func TestCreateDelimitedPicksDelimiter(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	for _, name := range []string{"out/features.csv", "out/features.tsv"} {
		s, err := Open(ctx, filepath.Join(dir, name), Options{})
		require.NoError(t, err)
		require.NoError(t, s.Append(ctx, vector(3, 1, 2)))
		require.NoError(t, s.Close())
	}

	csvData, err := os.ReadFile(filepath.Join(dir, "out/features.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(csvData), "file,id,"))

	tsvData, err := os.ReadFile(filepath.Join(dir, "out/features.tsv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(tsvData), "file\tid\t"))
}

func TestDelimiterOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.csv")
	ctx := context.Background()

	s, err := Open(ctx, path, Options{Delimiter: ';'})
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, vector(0, 1, 2)))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file;id;error;feat_mean_0;feat_size_0\n/data/a.tif;0;;1;2\n", string(data))
}

func TestOpenRequiresTarget(t *testing.T) {
	_, err := Open(context.Background(), "", Options{})
	assert.True(t, models.IsConfigurationError(err))
}

// fakeDB records the statements and rows sent to it
type fakeDB struct {
	ddl     []string
	copies  [][][]any
	columns []string
	table   pgx.Identifier
	copyErr error
}

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.ddl = append(f.ddl, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (f *fakeDB) CopyFrom(_ context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	if f.copyErr != nil {
		return 0, f.copyErr
	}
	f.table = table
	f.columns = columns
	var rows [][]any
	for src.Next() {
		values, err := src.Values()
		if err != nil {
			return 0, err
		}
		rows = append(rows, values)
	}
	f.copies = append(f.copies, rows)
	return int64(len(rows)), nil
}

func TestTableCreatesSchemaAndBatches(t *testing.T) {
	db := &fakeDB{}
	tbl := NewTable(db, Options{Table: "cells", BatchSize: 2, LogEvery: 2, Logger: zaptest.NewLogger(t)})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, tbl.Append(ctx, vector(uint64(i), float64(i), 9)))
	}
	assert.Len(t, db.copies, 2)
	assert.Equal(t, 4, tbl.Rows())

	require.NoError(t, tbl.Close())
	require.Len(t, db.copies, 3)
	assert.Equal(t, 5, tbl.Rows())

	require.Len(t, db.ddl, 1)
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "cells" ("file" TEXT NOT NULL, "id" BIGINT NOT NULL, "error" TEXT, `+
		`"feat_mean_0" DOUBLE PRECISION, "feat_size_0" DOUBLE PRECISION, PRIMARY KEY ("file", "id"))`, db.ddl[0])

	assert.Equal(t, pgx.Identifier{"cells"}, db.table)
	assert.Equal(t, []string{"file", "id", "error", "feat_mean_0", "feat_size_0"}, db.columns)
	assert.Equal(t, []any{"/data/a.tif", int64(4), nil, 4.0, 9.0}, db.copies[2][0])
}

func TestTableSchemaMismatchAndCopyFailure(t *testing.T) {
	db := &fakeDB{}
	tbl := NewTable(db, Options{BatchSize: 1})
	ctx := context.Background()

	require.NoError(t, tbl.Append(ctx, vector(0, 1, 2)))
	err := tbl.Append(ctx, &models.FeatureVector{File: "x", Keys: []string{"feat_other_0"}, Values: []float64{1}})
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	db.copyErr = errors.New("connection reset")
	err = tbl.Append(ctx, vector(1, 1, 2))
	assert.ErrorIs(t, err, db.copyErr)
	assert.Contains(t, db.ddl[0], `"features"`)
}

func TestCollector(t *testing.T) {
	c := NewCollector()
	ctx := context.Background()
	require.NoError(t, c.Append(ctx, vector(0, 1, 2)))
	require.NoError(t, c.Append(ctx, vector(1, 1, 2)))
	assert.Len(t, c.Vectors(), 2)

	require.NoError(t, c.Close())
	assert.True(t, c.Closed())
	assert.Error(t, c.Append(ctx, vector(2, 1, 2)))
}
