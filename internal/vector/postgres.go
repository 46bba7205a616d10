package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"coursesearch/internal/models"
	"coursesearch/internal/util"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

type Queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is satisfied by *pgxpool.Pool.
type Pool interface {
	Queryer
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PGStore struct {
	pool      Pool
	batchSize int
	logger    *slog.Logger
}

func NewPGStore(pool Pool, batchSize int, logger *slog.Logger) *PGStore {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PGStore{pool: pool, batchSize: batchSize, logger: logger.With("component", "vector-store")}
}

const upsertColumns = 7

// buildUpsert renders one multi-row INSERT ... ON CONFLICT for a batch that has
// already been deduplicated.
func buildUpsert(courseID string, batch []models.EmbeddedChunk) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO course_embeddings (course_id, content, content_hash, chunk_index, source, metadata, embedding)
VALUES `)
	args := make([]any, 0, len(batch)*upsertColumns)
	for i, c := range batch {
		meta, err := json.Marshal(c.VectorMetadata())
		if err != nil {
			return "", nil, fmt.Errorf("encode metadata for chunk %d: %w", c.ChunkIndex, err)
		}
		if i > 0 {
			sb.WriteString(",\n       ")
		}
		base := i * upsertColumns
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d::jsonb, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args,
			courseID,
			c.Content,
			util.SHA256Hex([]byte(c.Content)),
			c.ChunkIndex,
			c.Metadata.Source,
			string(meta),
			pgvector.NewVector(c.Embedding),
		)
	}
	sb.WriteString(`
ON CONFLICT (course_id, content_hash, chunk_index)
DO UPDATE SET
  embedding = EXCLUDED.embedding,
  metadata = EXCLUDED.metadata,
  source = EXCLUDED.source,
  updated_at = NOW()`)
	return sb.String(), args, nil
}

func (s *PGStore) saveTx(ctx context.Context, tx pgx.Tx, courseID string, chunks []models.EmbeddedChunk) (int, error) {
	chunks = dedupeChunks(chunks)
	saved := 0
	for start := 0; start < len(chunks); start += s.batchSize {
		end := min(start+s.batchSize, len(chunks))
		query, args, err := buildUpsert(courseID, chunks[start:end])
		if err != nil {
			return saved, err
		}
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return saved, fmt.Errorf("upsert vectors %d-%d: %w", start, end-1, err)
		}
		saved += int(tag.RowsAffected())
	}
	return saved, nil
}

func (s *PGStore) Save(ctx context.Context, courseID string, chunks []models.EmbeddedChunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	if err := validateChunks(courseID, chunks); err != nil {
		return 0, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: begin tx save vectors: %w", util.ErrPersistence, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	n, err := s.saveTx(ctx, tx, courseID, chunks)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", util.ErrPersistence, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: commit save vectors: %w", util.ErrPersistence, err)
	}
	return n, nil
}

func (s *PGStore) ReplaceCourse(ctx context.Context, courseID string, chunks []models.EmbeddedChunk) (ReplaceResult, error) {
	if err := validateChunks(courseID, chunks); err != nil {
		return ReplaceResult{}, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ReplaceResult{}, fmt.Errorf("%w: begin tx replace vectors: %w", util.ErrPersistence, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	tag, err := tx.Exec(ctx, `DELETE FROM course_embeddings WHERE course_id = $1`, courseID)
	if err != nil {
		return ReplaceResult{}, fmt.Errorf("%w: delete vectors for %s: %w", util.ErrPersistence, courseID, err)
	}
	res := ReplaceResult{Deleted: int(tag.RowsAffected())}
	if res.Saved, err = s.saveTx(ctx, tx, courseID, chunks); err != nil {
		return ReplaceResult{}, fmt.Errorf("%w: %w", util.ErrPersistence, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ReplaceResult{}, fmt.Errorf("%w: commit replace vectors: %w", util.ErrPersistence, err)
	}
	s.logger.Debug("course vectors replaced", "course", courseID, "deleted", res.Deleted, "saved", res.Saved)
	return res, nil
}

// searchSQL ranks by cosine distance; similarity is reported as 1 - distance.
func searchSQL(withThreshold bool) string {
	filter := ""
	if withThreshold {
		filter = "\n  AND 1 - (embedding <=> $2) >= $4"
	}
	return `
SELECT id, course_id, content, source, chunk_index, metadata,
       1 - (embedding <=> $2) AS similarity,
       created_at
FROM course_embeddings
WHERE course_id = $1` + filter + `
ORDER BY embedding <=> $2, chunk_index ASC, id ASC
LIMIT $3`
}

func (s *PGStore) Search(ctx context.Context, courseID string, query []float32, opts SearchOptions) ([]models.SearchResult, error) {
	if strings.TrimSpace(courseID) == "" {
		return nil, fmt.Errorf("%w: course id is required", util.ErrValidation)
	}
	opts = opts.withDefaults()
	args := []any{courseID, pgvector.NewVector(query), opts.TopK}
	if opts.Threshold > 0 {
		args = append(args, opts.Threshold)
	}
	rows, err := s.pool.Query(ctx, searchSQL(opts.Threshold > 0), args...)
	if err != nil {
		return nil, fmt.Errorf("query vector search: %w", err)
	}
	defer rows.Close()

	results := make([]models.SearchResult, 0, opts.TopK)
	for rows.Next() {
		var (
			r    models.SearchResult
			meta []byte
		)
		if err := rows.Scan(&r.ID, &r.CourseID, &r.Content, &r.Source, &r.ChunkIndex, &meta, &r.Similarity, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of vector %d: %w", r.ID, err)
			}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return results, nil
}

func (s *PGStore) DeleteByCourse(ctx context.Context, courseID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM course_embeddings WHERE course_id = $1`, courseID)
	if err != nil {
		return 0, fmt.Errorf("%w: delete vectors for %s: %w", util.ErrPersistence, courseID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) Stats(ctx context.Context, courseID string) (models.VectorStats, error) {
	var st models.VectorStats
	err := s.pool.QueryRow(ctx, `
SELECT COUNT(*), COUNT(DISTINCT source), MIN(created_at), MAX(updated_at)
FROM course_embeddings
WHERE course_id = $1`, courseID).Scan(&st.TotalChunks, &st.DistinctSources, &st.FirstCreatedAt, &st.LastUpdatedAt)
	if err != nil {
		return models.VectorStats{}, fmt.Errorf("query vector stats: %w", err)
	}
	return st, nil
}

func (s *PGStore) PruneOlderThan(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		return 0, fmt.Errorf("%w: prune days must be positive, got %d", util.ErrValidation, days)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM course_embeddings WHERE created_at < NOW() - make_interval(days => $1)`, days)
	if err != nil {
		return 0, fmt.Errorf("%w: prune vectors: %w", util.ErrPersistence, err)
	}
	return int(tag.RowsAffected()), nil
}
