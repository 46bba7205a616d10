// Package vector persists embedded chunks per course and ranks them by cosine
// similarity against a query vector.
package vector

import (
	"context"
	"fmt"
	"math"

	"coursesearch/internal/models"
	"coursesearch/internal/util"
)

const (
	DefaultTopK      = 5
	DefaultThreshold = 0.5
	DefaultBatchSize = 50
	DefaultMaxTopK   = 50
)

type SearchOptions struct {
	TopK int `json:"top_k"`
	// Threshold drops results whose similarity is below it. Values <= 0 disable the filter.
	Threshold float64 `json:"threshold"`
}

func DefaultSearchOptions() SearchOptions {
	return SearchOptions{TopK: DefaultTopK, Threshold: DefaultThreshold}
}

func (o SearchOptions) withDefaults() SearchOptions {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	return o
}

type ReplaceResult struct {
	Deleted int `json:"deleted"`
	Saved   int `json:"saved"`
}

// Store is keyed by (course id, chunk content, chunk index). Saving an existing
// key overwrites its embedding, metadata and source and bumps updated_at.
type Store interface {
	Save(ctx context.Context, courseID string, chunks []models.EmbeddedChunk) (int, error)
	Search(ctx context.Context, courseID string, query []float32, opts SearchOptions) ([]models.SearchResult, error)
	DeleteByCourse(ctx context.Context, courseID string) (int, error)
	Stats(ctx context.Context, courseID string) (models.VectorStats, error)
	PruneOlderThan(ctx context.Context, days int) (int, error)
	// ReplaceCourse deletes every vector of the course and saves chunks as one unit.
	ReplaceCourse(ctx context.Context, courseID string, chunks []models.EmbeddedChunk) (ReplaceResult, error)
}

// CosineSimilarity returns 0 when either vector has zero norm.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", util.ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

type naturalKey struct {
	content    string
	chunkIndex int
}

// dedupeChunks collapses chunks that share a natural key, keeping the last
// occurrence. Postgres rejects one INSERT that touches the same row twice.
func dedupeChunks(chunks []models.EmbeddedChunk) []models.EmbeddedChunk {
	last := make(map[naturalKey]int, len(chunks))
	for i, c := range chunks {
		last[naturalKey{c.Content, c.ChunkIndex}] = i
	}
	if len(last) == len(chunks) {
		return chunks
	}
	out := make([]models.EmbeddedChunk, 0, len(last))
	for i, c := range chunks {
		if last[naturalKey{c.Content, c.ChunkIndex}] == i {
			out = append(out, c)
		}
	}
	return out
}

func validateChunks(courseID string, chunks []models.EmbeddedChunk) error {
	for _, c := range chunks {
		_, err := models.NewStoredVector(models.StoredVector{
			CourseID:   courseID,
			Content:    c.Content,
			ChunkIndex: c.ChunkIndex,
			Metadata:   c.VectorMetadata(),
		})
		if err != nil {
			return fmt.Errorf("%w: %w", util.ErrValidation, err)
		}
		if len(c.Embedding) == 0 {
			return fmt.Errorf("%w: chunk %d of %s has no embedding", util.ErrValidation, c.ChunkIndex, c.Metadata.Source)
		}
	}
	return nil
}
