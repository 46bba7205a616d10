// Package regen rebuilds a course's stored vectors from its current content.
package regen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"coursesearch/internal/aggregator"
	"coursesearch/internal/models"
	"coursesearch/internal/processor"
	"coursesearch/internal/util"
	"coursesearch/internal/vector"

	"github.com/google/uuid"
)

type State string

const (
	StateFetching   State = "fetching"
	StateProcessing State = "processing"
	StateDeleting   State = "deleting"
	StateSaving     State = "saving"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Event reports a state transition or, while processing, per-chunk progress.
type Event struct {
	CourseID string
	State    State
	Source   string
	Current  int
	Total    int
	Err      error
}

type Observer func(Event)

type Aggregator interface {
	Aggregate(ctx context.Context, courseID string) (aggregator.Result, error)
}

type Processor interface {
	ProcessSection(ctx context.Context, s models.Section, chunkSize, overlap int, onProgress processor.ProgressFunc) ([]models.EmbeddedChunk, error)
}

type CourseLister interface {
	ListCourseIDs(ctx context.Context) ([]string, error)
}

type Options struct {
	ChunkSize      int
	ChunkOverlap   int
	CostPerMillion float64
	// NonAtomic runs delete and save as two separate store calls instead of
	// one ReplaceCourse unit. A failed save then leaves the course empty.
	NonAtomic bool
	Observer  Observer
	Logger    *slog.Logger
}

type Regenerator struct {
	agg     Aggregator
	proc    Processor
	store   vector.Store
	courses CourseLister
	opts    Options
	logger  *slog.Logger
}

func New(agg Aggregator, proc Processor, store vector.Store, courses CourseLister, opts Options) *Regenerator {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = util.DefaultChunkSize
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = util.DefaultChunkOverlap
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Regenerator{
		agg:     agg,
		proc:    proc,
		store:   store,
		courses: courses,
		opts:    opts,
		logger:  logger.With("component", "regen"),
	}
}

// WithObserver returns a copy of r that reports events to o.
func (r *Regenerator) WithObserver(o Observer) *Regenerator {
	cp := *r
	cp.opts.Observer = o
	return &cp
}

type CourseResult struct {
	CourseID string          `json:"course_id"`
	Sections int             `json:"sections"`
	Skipped  int             `json:"skipped"`
	Deleted  int             `json:"deleted"`
	Saved    int             `json:"saved"`
	Stats    processor.Stats `json:"stats"`
	Duration time.Duration   `json:"duration_ns"`
}

func (r *Regenerator) notify(e Event) {
	if r.opts.Observer != nil {
		r.opts.Observer(e)
	}
}

func (r *Regenerator) fail(courseID string, state State, err error) error {
	r.notify(Event{CourseID: courseID, State: StateFailed, Err: err})
	r.logger.Error("course regeneration failed", "course", courseID, "state", state, "err", err)
	return fmt.Errorf("regenerate %s (%s): %w", courseID, state, err)
}

// RegenerateCourse aggregates, embeds and stores one course. Old vectors stay in
// place unless every section embedded successfully.
func (r *Regenerator) RegenerateCourse(ctx context.Context, courseID string) (CourseResult, error) {
	started := time.Now()
	res := CourseResult{CourseID: courseID}

	r.notify(Event{CourseID: courseID, State: StateFetching})
	agg, err := r.agg.Aggregate(ctx, courseID)
	if err != nil {
		return res, r.fail(courseID, StateFetching, err)
	}
	res.Sections = len(agg.Sections)
	res.Skipped = len(agg.Skipped)

	// last point at which a caller can stop this course
	if err := ctx.Err(); err != nil {
		return res, r.fail(courseID, StateFetching, err)
	}

	r.notify(Event{CourseID: courseID, State: StateProcessing, Total: len(agg.Sections)})
	var chunks []models.EmbeddedChunk
	for _, s := range agg.Sections {
		src := s.Source
		out, err := r.proc.ProcessSection(ctx, s, r.opts.ChunkSize, r.opts.ChunkOverlap, func(p processor.Progress) {
			r.notify(Event{CourseID: courseID, State: StateProcessing, Source: src, Current: p.Current, Total: p.Total})
		})
		if err != nil {
			return res, r.fail(courseID, StateProcessing, err)
		}
		chunks = append(chunks, out...)
	}
	res.Stats = processor.ComputeStats(chunks, r.opts.CostPerMillion)

	if r.opts.NonAtomic {
		if err := r.deleteThenSave(ctx, courseID, chunks, &res); err != nil {
			return res, err
		}
	} else {
		r.notify(Event{CourseID: courseID, State: StateDeleting})
		r.notify(Event{CourseID: courseID, State: StateSaving, Total: len(chunks)})
		rr, err := r.store.ReplaceCourse(ctx, courseID, chunks)
		if err != nil {
			return res, r.fail(courseID, StateSaving, err)
		}
		res.Deleted, res.Saved = rr.Deleted, rr.Saved
	}

	res.Duration = time.Since(started)
	r.notify(Event{CourseID: courseID, State: StateDone, Current: res.Saved, Total: res.Saved})
	r.logger.Info("course regenerated",
		"course", courseID, "sections", res.Sections, "skipped", res.Skipped,
		"deleted", res.Deleted, "saved", res.Saved, "tokens", res.Stats.TotalTokens,
		"cost_usd", res.Stats.EstimatedCostUSD, "duration", res.Duration)
	return res, nil
}

func (r *Regenerator) deleteThenSave(ctx context.Context, courseID string, chunks []models.EmbeddedChunk, res *CourseResult) error {
	r.notify(Event{CourseID: courseID, State: StateDeleting})
	deleted, err := r.store.DeleteByCourse(ctx, courseID)
	if err != nil {
		return r.fail(courseID, StateDeleting, err)
	}
	res.Deleted = deleted

	r.notify(Event{CourseID: courseID, State: StateSaving, Total: len(chunks)})
	saved, err := r.store.Save(ctx, courseID, chunks)
	if err != nil {
		if deleted > 0 {
			err = fmt.Errorf("%w: %d old vectors removed: %w", util.ErrCourseEmptied, deleted, err)
		}
		return r.fail(courseID, StateSaving, err)
	}
	res.Saved = saved
	return nil
}

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

type CourseOutcome struct {
	CourseID string        `json:"course_id"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Result   *CourseResult `json:"result,omitempty"`
}

type BatchResult struct {
	RunID        string          `json:"run_id"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	SuccessCount int             `json:"success_count"`
	FailCount    int             `json:"fail_count"`
	Courses      []CourseOutcome `json:"courses"`
}

// Add records one course outcome and updates the tallies.
func (b *BatchResult) Add(courseID string, res CourseResult, err error) {
	o := CourseOutcome{CourseID: courseID}
	if err != nil {
		o.Status = StatusFailed
		o.Error = err.Error()
		b.FailCount++
	} else {
		o.Status = StatusSucceeded
		o.Result = &res
		b.SuccessCount++
	}
	b.Courses = append(b.Courses, o)
}

func NewBatchResult() BatchResult {
	return BatchResult{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
}

// RegenerateAll runs every course in turn. Per-course failures are counted,
// never returned; the error is reserved for an unreadable course list or a
// cancelled context.
func (r *Regenerator) RegenerateAll(ctx context.Context) (BatchResult, error) {
	if r.courses == nil {
		return BatchResult{}, errors.New("regenerate all: no course lister configured")
	}
	ids, err := r.courses.ListCourseIDs(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("list courses: %w", err)
	}
	return r.RegenerateCourses(ctx, ids)
}

func (r *Regenerator) RegenerateCourses(ctx context.Context, ids []string) (BatchResult, error) {
	batch := NewBatchResult()
	r.logger.Info("batch regeneration started", "run_id", batch.RunID, "courses", len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			batch.FinishedAt = time.Now().UTC()
			return batch, fmt.Errorf("batch %s stopped after %d courses: %w", batch.RunID, len(batch.Courses), err)
		}
		res, err := r.RegenerateCourse(ctx, id)
		batch.Add(id, res, err)
	}
	batch.FinishedAt = time.Now().UTC()
	r.logger.Info("batch regeneration finished",
		"run_id", batch.RunID, "succeeded", batch.SuccessCount, "failed", batch.FailCount)
	return batch, nil
}

// Prune removes vectors created more than days ago across all courses.
func (r *Regenerator) Prune(ctx context.Context, days int) (int, error) {
	n, err := r.store.PruneOlderThan(ctx, days)
	if err != nil {
		return 0, fmt.Errorf("prune embeddings: %w", err)
	}
	r.logger.Info("embeddings pruned", "days", days, "removed", n)
	return n, nil
}
