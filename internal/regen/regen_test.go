package regen

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"coursesearch/internal/aggregator"
	"coursesearch/internal/logging"
	"coursesearch/internal/models"
	"coursesearch/internal/processor"
	"coursesearch/internal/util"
	"coursesearch/internal/vector"

	"github.com/stretchr/testify/require"
)

type fakeAggregator struct {
	sections map[string][]models.Section
}

func (f *fakeAggregator) Aggregate(_ context.Context, courseID string) (aggregator.Result, error) {
	s, ok := f.sections[courseID]
	if !ok {
		return aggregator.Result{}, fmt.Errorf("course %s: %w", courseID, util.ErrNotFound)
	}
	return aggregator.Result{Course: models.Course{CourseID: courseID}, Sections: s}, nil
}

func (f *fakeAggregator) ListCourseIDs(context.Context) ([]string, error) {
	return []string{"c1", "c2", "c3"}, nil
}

type fakeEmbedder struct {
	fail error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return []float32{1, float32(len(text))}, nil
}

type failingSaveStore struct {
	*vector.MemoryStore
}

func (s failingSaveStore) Save(context.Context, string, []models.EmbeddedChunk) (int, error) {
	return 0, fmt.Errorf("%w: disk full", util.ErrPersistence)
}

func sections(courseID string, n int) []models.Section {
	out := make([]models.Section, n)
	for i := range out {
		out[i] = models.Section{
			Title:   fmt.Sprintf("Lesson %d", i+1),
			Content: fmt.Sprintf("Lesson %d covers topic %d.", i+1, i+1),
			Type:    models.SectionLesson,
			Source:  fmt.Sprintf("course:%s:lesson:l%d", courseID, i+1),
		}
	}
	return out
}

func oldChunks(n int) []models.EmbeddedChunk {
	out := make([]models.EmbeddedChunk, n)
	for i := range out {
		out[i] = models.EmbeddedChunk{
			Chunk:     models.Chunk{Content: fmt.Sprintf("stale %d", i), ChunkIndex: i, Metadata: models.ChunkMetadata{Source: "course:c1:old"}},
			Embedding: []float32{0, 1},
		}
	}
	return out
}

func newRegenerator(agg *fakeAggregator, emb processor.Embedder, store vector.Store, opts Options) *Regenerator {
	opts.Logger = logging.Discard()
	proc := processor.New(emb, processor.Options{Delay: -1, Logger: logging.Discard()})
	return New(agg, proc, store, agg, opts)
}

func TestRegenerateCourseReplacesOldRows(t *testing.T) {
	ctx := context.Background()
	store := vector.NewMemoryStore()
	_, err := store.Save(ctx, "c1", oldChunks(10))
	require.NoError(t, err)

	var states []State
	agg := &fakeAggregator{sections: map[string][]models.Section{"c1": sections("c1", 7)}}
	r := newRegenerator(agg, &fakeEmbedder{}, store, Options{Observer: func(e Event) {
		if len(states) == 0 || states[len(states)-1] != e.State {
			states = append(states, e.State)
		}
	}})

	res, err := r.RegenerateCourse(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 10, res.Deleted)
	require.Equal(t, 7, res.Saved)
	require.Equal(t, 7, res.Sections)
	require.Equal(t, 7, res.Stats.ChunkCount)

	stats, err := store.Stats(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 7, stats.TotalChunks)
	require.Equal(t, 7, stats.DistinctSources)

	require.Equal(t, []State{StateFetching, StateProcessing, StateDeleting, StateSaving, StateDone}, states)
}

func TestRegenerateCourseProviderFailureKeepsOldRows(t *testing.T) {
	ctx := context.Background()
	store := vector.NewMemoryStore()
	_, err := store.Save(ctx, "c1", oldChunks(10))
	require.NoError(t, err)

	var last Event
	agg := &fakeAggregator{sections: map[string][]models.Section{"c1": sections("c1", 3)}}
	r := newRegenerator(agg, &fakeEmbedder{fail: util.ErrProvider}, store, Options{Observer: func(e Event) { last = e }})

	_, err = r.RegenerateCourse(ctx, "c1")
	require.ErrorIs(t, err, util.ErrProvider)
	require.Equal(t, StateFailed, last.State)

	stats, err := store.Stats(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 10, stats.TotalChunks)
}

func TestRegenerateCourseNonAtomicSurfacesEmptiedCourse(t *testing.T) {
	ctx := context.Background()
	mem := vector.NewMemoryStore()
	_, err := mem.Save(ctx, "c1", oldChunks(4))
	require.NoError(t, err)

	agg := &fakeAggregator{sections: map[string][]models.Section{"c1": sections("c1", 2)}}
	r := newRegenerator(agg, &fakeEmbedder{}, failingSaveStore{mem}, Options{NonAtomic: true})

	_, err = r.RegenerateCourse(ctx, "c1")
	require.ErrorIs(t, err, util.ErrCourseEmptied)
	require.ErrorIs(t, err, util.ErrPersistence)

	stats, err := mem.Stats(ctx, "c1")
	require.NoError(t, err)
	require.Zero(t, stats.TotalChunks)
}

func TestRegenerateCourseCancelledBeforeProcessing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	agg := &fakeAggregator{sections: map[string][]models.Section{"c1": sections("c1", 1)}}
	r := newRegenerator(agg, &fakeEmbedder{}, vector.NewMemoryStore(), Options{})
	_, err := r.RegenerateCourse(ctx, "c1")
	require.True(t, errors.Is(err, context.Canceled))
}

func TestRegenerateAllIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	store := vector.NewMemoryStore()
	agg := &fakeAggregator{sections: map[string][]models.Section{
		"c1": sections("c1", 2),
		"c3": sections("c3", 1),
	}}
	r := newRegenerator(agg, &fakeEmbedder{}, store, Options{})

	batch, err := r.RegenerateAll(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, batch.RunID)
	require.Equal(t, 2, batch.SuccessCount)
	require.Equal(t, 1, batch.FailCount)
	require.Len(t, batch.Courses, 3)
	require.Equal(t, StatusSucceeded, batch.Courses[0].Status)
	require.Equal(t, StatusFailed, batch.Courses[1].Status)
	require.Contains(t, batch.Courses[1].Error, "not found")
	require.Equal(t, StatusSucceeded, batch.Courses[2].Status)

	stats, err := store.Stats(ctx, "c3")
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalChunks)
}

func TestPruneValidatesDays(t *testing.T) {
	r := newRegenerator(&fakeAggregator{}, &fakeEmbedder{}, vector.NewMemoryStore(), Options{})
	_, err := r.Prune(context.Background(), 0)
	require.ErrorIs(t, err, util.ErrValidation)
	n, err := r.Prune(context.Background(), 30)
	require.NoError(t, err)
	require.Zero(t, n)
}
