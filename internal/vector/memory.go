package vector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"coursesearch/internal/models"
	"coursesearch/internal/util"
)

// MemoryStore keeps vectors in process. It backs tests, dry runs and the
// COURSESEARCH_VECTOR_BACKEND=memory mode.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[string]map[naturalKey]*models.StoredVector
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[string]map[naturalKey]*models.StoredVector{}, now: time.Now}
}

// SetClock replaces the time source used for created_at and updated_at.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) Save(ctx context.Context, courseID string, chunks []models.EmbeddedChunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: save vectors: %w", util.ErrPersistence, err)
	}
	if err := validateChunks(courseID, chunks); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(courseID, dedupeChunks(chunks)), nil
}

func (m *MemoryStore) saveLocked(courseID string, chunks []models.EmbeddedChunk) int {
	course := m.rows[courseID]
	if course == nil {
		course = map[naturalKey]*models.StoredVector{}
		m.rows[courseID] = course
	}
	now := m.now().UTC()
	for _, c := range chunks {
		key := naturalKey{c.Content, c.ChunkIndex}
		emb := append([]float32(nil), c.Embedding...)
		if row, ok := course[key]; ok {
			row.Embedding = emb
			row.Metadata = c.VectorMetadata()
			row.Source = c.Metadata.Source
			row.UpdatedAt = now
			continue
		}
		m.nextID++
		course[key] = &models.StoredVector{
			ID:         m.nextID,
			CourseID:   courseID,
			Content:    c.Content,
			Embedding:  emb,
			Metadata:   c.VectorMetadata(),
			Source:     c.Metadata.Source,
			ChunkIndex: c.ChunkIndex,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}
	return len(chunks)
}

func (m *MemoryStore) Search(ctx context.Context, courseID string, query []float32, opts SearchOptions) ([]models.SearchResult, error) {
	if strings.TrimSpace(courseID) == "" {
		return nil, fmt.Errorf("%w: course id is required", util.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]models.SearchResult, 0, len(m.rows[courseID]))
	for _, row := range m.rows[courseID] {
		sim, err := CosineSimilarity(query, row.Embedding)
		if err != nil {
			return nil, fmt.Errorf("score vector %d: %w", row.ID, err)
		}
		if opts.Threshold > 0 && sim < opts.Threshold {
			continue
		}
		results = append(results, models.SearchResult{
			ID:         row.ID,
			CourseID:   row.CourseID,
			Content:    row.Content,
			Source:     row.Source,
			ChunkIndex: row.ChunkIndex,
			Metadata:   row.Metadata,
			Similarity: sim,
			CreatedAt:  row.CreatedAt,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.ChunkIndex != b.ChunkIndex {
			return a.ChunkIndex < b.ChunkIndex
		}
		return a.ID < b.ID
	})
	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	return results, nil
}

func (m *MemoryStore) DeleteByCourse(ctx context.Context, courseID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: delete vectors: %w", util.ErrPersistence, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.rows[courseID])
	delete(m.rows, courseID)
	return n, nil
}

func (m *MemoryStore) Stats(ctx context.Context, courseID string) (models.VectorStats, error) {
	if err := ctx.Err(); err != nil {
		return models.VectorStats{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var st models.VectorStats
	sources := map[string]struct{}{}
	for _, row := range m.rows[courseID] {
		st.TotalChunks++
		sources[row.Source] = struct{}{}
		if st.FirstCreatedAt == nil || row.CreatedAt.Before(*st.FirstCreatedAt) {
			t := row.CreatedAt
			st.FirstCreatedAt = &t
		}
		if st.LastUpdatedAt == nil || row.UpdatedAt.After(*st.LastUpdatedAt) {
			t := row.UpdatedAt
			st.LastUpdatedAt = &t
		}
	}
	st.DistinctSources = len(sources)
	return st, nil
}

func (m *MemoryStore) PruneOlderThan(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		return 0, fmt.Errorf("%w: prune days must be positive, got %d", util.ErrValidation, days)
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: prune vectors: %w", util.ErrPersistence, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	removed := 0
	for courseID, course := range m.rows {
		for key, row := range course {
			if row.CreatedAt.Before(cutoff) {
				delete(course, key)
				removed++
			}
		}
		if len(course) == 0 {
			delete(m.rows, courseID)
		}
	}
	return removed, nil
}

func (m *MemoryStore) ReplaceCourse(ctx context.Context, courseID string, chunks []models.EmbeddedChunk) (ReplaceResult, error) {
	if err := ctx.Err(); err != nil {
		return ReplaceResult{}, fmt.Errorf("%w: replace vectors: %w", util.ErrPersistence, err)
	}
	if err := validateChunks(courseID, chunks); err != nil {
		return ReplaceResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	res := ReplaceResult{Deleted: len(m.rows[courseID])}
	delete(m.rows, courseID)
	if len(chunks) > 0 {
		res.Saved = m.saveLocked(courseID, dedupeChunks(chunks))
	}
	return res, nil
}
