package activities

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"coursesearch/internal/config"
	"coursesearch/internal/regen"
	"coursesearch/internal/util"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

const (
	errTypeNotFound   = "NotFound"
	errTypeValidation = "Validation"
)

type Activities struct {
	cfg     config.Config
	regen   *regen.Regenerator
	courses regen.CourseLister
	logger  *slog.Logger
}

func New(cfg config.Config, r *regen.Regenerator, courses regen.CourseLister, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{cfg: cfg, regen: r, courses: courses, logger: logger.With("component", "activities")}
}

// nonRetryable stops Temporal from retrying errors that a retry cannot fix.
func nonRetryable(err error) error {
	switch {
	case errors.Is(err, util.ErrNotFound):
		return temporal.NewNonRetryableApplicationError(err.Error(), errTypeNotFound, err)
	case errors.Is(err, util.ErrValidation):
		return temporal.NewNonRetryableApplicationError(err.Error(), errTypeValidation, err)
	}
	return err
}

func (a *Activities) ListCourseIDsActivity(ctx context.Context) (ListCourseIDsOutput, error) {
	ids, err := a.courses.ListCourseIDs(ctx)
	if err != nil {
		return ListCourseIDsOutput{}, fmt.Errorf("list courses: %w", err)
	}
	return ListCourseIDsOutput{CourseIDs: ids}, nil
}

func (a *Activities) RegenerateCourseActivity(ctx context.Context, in RegenerateCourseInput) (RegenerateCourseOutput, error) {
	r := a.regen.WithObserver(func(e regen.Event) {
		activity.RecordHeartbeat(ctx, Progress{
			CourseID: e.CourseID,
			State:    e.State,
			Source:   e.Source,
			Current:  e.Current,
			Total:    e.Total,
		})
	})
	res, err := r.RegenerateCourse(ctx, in.CourseID)
	if err != nil {
		return RegenerateCourseOutput{}, nonRetryable(err)
	}
	return RegenerateCourseOutput{Result: res}, nil
}

func (a *Activities) PruneEmbeddingsActivity(ctx context.Context, in PruneEmbeddingsInput) (PruneEmbeddingsOutput, error) {
	n, err := a.regen.Prune(ctx, in.Days)
	if err != nil {
		return PruneEmbeddingsOutput{}, nonRetryable(err)
	}
	return PruneEmbeddingsOutput{Removed: n}, nil
}

func (a *Activities) WriteBatchSummaryActivity(ctx context.Context, in WriteBatchSummaryInput) error {
	_ = ctx
	outPath := filepath.Join(a.cfg.DataOutRoot, "runs", in.Batch.RunID, "summary.json")
	if err := util.WriteJSONAtomic(outPath, in.Batch); err != nil {
		return fmt.Errorf("write batch summary: %w", err)
	}
	a.logger.Info("batch summary written", "path", outPath)
	return nil
}
