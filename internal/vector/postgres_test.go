package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"coursesearch/internal/logging"
	"coursesearch/internal/util"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/require"
)

func TestBuildUpsertPlaceholders(t *testing.T) {
	batch := nChunks(3, "text")
	query, args, err := buildUpsert("c1", batch)
	require.NoError(t, err)
	require.Len(t, args, 3*upsertColumns)
	require.Contains(t, query, "($15, $16, $17, $18, $19, $20::jsonb, $21)")
	require.Contains(t, query, "ON CONFLICT (course_id, content_hash, chunk_index)")
	require.Contains(t, query, "updated_at = NOW()")

	require.Equal(t, "c1", args[7])
	require.Equal(t, "text 1", args[8])
	require.Equal(t, util.SHA256Hex([]byte("text 1")), args[9])
	require.Equal(t, 1, args[10])

	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(args[12].(string)), &meta))
	require.Equal(t, "course:c1:info", meta["source"])
	require.Equal(t, "course-info", meta["sectionType"])

	vec, ok := args[13].(pgvector.Vector)
	require.True(t, ok)
	require.Equal(t, []float32{1, 1}, vec.Slice())
}

func TestSearchSQLThresholdClause(t *testing.T) {
	require.NotContains(t, searchSQL(false), "$4")
	q := searchSQL(true)
	require.Contains(t, q, "1 - (embedding <=> $2) >= $4")
	require.True(t, strings.Contains(q, "ORDER BY embedding <=> $2, chunk_index ASC, id ASC"))
}

func TestDedupeChunksKeepsLast(t *testing.T) {
	in := nChunks(3, "x")
	require.Len(t, dedupeChunks(in), 3)

	dup := in[1]
	dup.Metadata.Source = "replacement"
	out := dedupeChunks(append(in, dup))
	require.Len(t, out, 3)
	require.Equal(t, "x 0", out[0].Content)
	require.Equal(t, "x 2", out[1].Content)
	require.Equal(t, "replacement", out[2].Metadata.Source)
}

func TestNewPGStoreDefaults(t *testing.T) {
	s := NewPGStore(nil, 0, nil)
	require.Equal(t, DefaultBatchSize, s.batchSize)
}

type execCall struct {
	sql  string
	args []any
}

// fakeTx records statements; failOnExec makes the Nth Exec (1-based) fail.
type fakeTx struct {
	pgx.Tx
	execs      []execCall
	failOnExec int
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	if f.failOnExec == len(f.execs) {
		return pgconn.CommandTag{}, errors.New("connection reset")
	}
	if strings.HasPrefix(sql, "DELETE") {
		return pgconn.NewCommandTag("DELETE 4"), nil
	}
	return pgconn.NewCommandTag(fmt.Sprintf("INSERT 0 %d", len(args)/upsertColumns)), nil
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeRows struct {
	pgx.Rows
	rows   [][]any
	i      int
	closed bool
}

func (r *fakeRows) Next() bool {
	if r.i >= len(r.rows) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.i-1]
	if len(row) != len(dest) {
		return fmt.Errorf("scan: %d values into %d targets", len(row), len(dest))
	}
	for i, v := range row {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

func (r *fakeRows) Err() error { return nil }
func (r *fakeRows) Close()     { r.closed = true }

type fakePool struct {
	tx      *fakeTx
	begins  int
	execs   []execCall
	queries []execCall
	rows    *fakeRows
	row     fakeRow
}

func (p *fakePool) Begin(context.Context) (pgx.Tx, error) {
	p.begins++
	return p.tx, nil
}

func (p *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execs = append(p.execs, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("DELETE 3"), nil
}

func (p *fakePool) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.queries = append(p.queries, execCall{sql: sql, args: args})
	return p.rows, nil
}

func (p *fakePool) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	p.queries = append(p.queries, execCall{sql: sql, args: args})
	return p.row
}

func TestPGStoreSaveBatchesOfFifty(t *testing.T) {
	pool := &fakePool{tx: &fakeTx{}}
	s := NewPGStore(pool, 0, logging.Discard())

	n, err := s.Save(context.Background(), "c1", nChunks(120, "x"))
	require.NoError(t, err)
	require.Equal(t, 120, n)
	require.Equal(t, 1, pool.begins)
	require.True(t, pool.tx.committed)

	require.Len(t, pool.tx.execs, 3)
	var sizes []int
	for _, e := range pool.tx.execs {
		sizes = append(sizes, len(e.args)/upsertColumns)
	}
	require.Equal(t, []int{50, 50, 20}, sizes)
}

func TestPGStoreSaveEmptyTouchesNothing(t *testing.T) {
	pool := &fakePool{tx: &fakeTx{}}
	s := NewPGStore(pool, 0, logging.Discard())

	n, err := s.Save(context.Background(), "c1", nil)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, pool.begins)
	require.Empty(t, pool.execs)
	require.Empty(t, pool.queries)
}

func TestPGStoreReplaceCourseOneTransaction(t *testing.T) {
	pool := &fakePool{tx: &fakeTx{}}
	s := NewPGStore(pool, 0, logging.Discard())

	res, err := s.ReplaceCourse(context.Background(), "c1", nChunks(60, "x"))
	require.NoError(t, err)
	require.Equal(t, ReplaceResult{Deleted: 4, Saved: 60}, res)
	require.True(t, pool.tx.committed)
	require.Empty(t, pool.execs)

	require.Len(t, pool.tx.execs, 3)
	require.True(t, strings.HasPrefix(pool.tx.execs[0].sql, "DELETE FROM course_embeddings"))
	require.Equal(t, []any{"c1"}, pool.tx.execs[0].args)
}

func TestPGStoreReplaceCourseFailedBatchRollsBack(t *testing.T) {
	// delete, first batch, then the second batch fails
	pool := &fakePool{tx: &fakeTx{failOnExec: 3}}
	s := NewPGStore(pool, 0, logging.Discard())

	_, err := s.ReplaceCourse(context.Background(), "c1", nChunks(120, "x"))
	require.ErrorIs(t, err, util.ErrPersistence)
	require.False(t, pool.tx.committed)
	require.True(t, pool.tx.rolledBack)
	require.Len(t, pool.tx.execs, 3)
}

func TestPGStoreSearchScansRows(t *testing.T) {
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	pool := &fakePool{rows: &fakeRows{rows: [][]any{
		{int64(7), "c1", "Intro text", "course:c1:info", 0, []byte(`{"source":"course:c1:info","sectionType":"course-info"}`), 0.91, created},
		{int64(8), "c1", "Lesson text", "course:c1:lessons", 1, []byte(nil), 0.72, created},
	}}}
	s := NewPGStore(pool, 0, logging.Discard())

	got, err := s.Search(context.Background(), "c1", []float32{1, 0}, SearchOptions{TopK: 3, Threshold: 0.7})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, int64(7), got[0].ID)
	require.Equal(t, "course-info", string(got[0].Metadata.SectionType))
	require.InDelta(t, 0.72, got[1].Similarity, 1e-9)
	require.True(t, pool.rows.closed)

	require.Len(t, pool.queries, 1)
	q := pool.queries[0]
	require.Contains(t, q.sql, ">= $4")
	require.Len(t, q.args, 4)
	require.Equal(t, 3, q.args[2])
	require.Equal(t, 0.7, q.args[3])

	_, err = s.Search(context.Background(), " ", []float32{1}, SearchOptions{})
	require.ErrorIs(t, err, util.ErrValidation)
}

func TestPGStoreStatsEmptyCourse(t *testing.T) {
	pool := &fakePool{row: fakeRow{scan: func(dest ...any) error {
		require.Len(t, dest, 4)
		*dest[0].(*int) = 0
		*dest[1].(*int) = 0
		// NULL MIN/MAX
		*dest[2].(**time.Time) = nil
		*dest[3].(**time.Time) = nil
		return nil
	}}}
	s := NewPGStore(pool, 0, logging.Discard())

	st, err := s.Stats(context.Background(), "empty")
	require.NoError(t, err)
	require.Zero(t, st.TotalChunks)
	require.Nil(t, st.FirstCreatedAt)
	require.Nil(t, st.LastUpdatedAt)
}

func TestPGStoreDeleteAndPrune(t *testing.T) {
	pool := &fakePool{}
	s := NewPGStore(pool, 0, logging.Discard())

	n, err := s.DeleteByCourse(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = s.PruneOlderThan(context.Background(), 30)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Len(t, pool.execs, 2)
	require.Contains(t, pool.execs[1].sql, "make_interval(days => $1)")
	require.Equal(t, []any{30}, pool.execs[1].args)

	_, err = s.PruneOlderThan(context.Background(), 0)
	require.ErrorIs(t, err, util.ErrValidation)
	require.Len(t, pool.execs, 2)
}
