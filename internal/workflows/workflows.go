package workflows

import (
	"time"

	"coursesearch/internal/activities"
	"coursesearch/internal/regen"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	QueryGetCourseState = "GetCourseState"
	QueryGetProgress    = "GetProgress"

	defaultTimeoutMinutes = 60
)

// regenerateOptions pins a single attempt: a failed regeneration is re-run by
// an operator, never retried automatically.
func regenerateOptions(timeoutMinutes int) workflow.ActivityOptions {
	if timeoutMinutes <= 0 {
		timeoutMinutes = defaultTimeoutMinutes
	}
	return workflow.ActivityOptions{
		StartToCloseTimeout: time.Duration(timeoutMinutes) * time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
}

func shortOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
}

// CourseRegenerateWorkflow answers QueryGetCourseState with fetching while the
// activity runs, then done or failed. Finer phases are in the activity heartbeat.
func CourseRegenerateWorkflow(ctx workflow.Context, input CourseRegenerateInput) (regen.CourseResult, error) {
	state := regen.StateFetching
	if err := workflow.SetQueryHandler(ctx, QueryGetCourseState, func() (regen.State, error) {
		return state, nil
	}); err != nil {
		return regen.CourseResult{}, err
	}

	ctx = workflow.WithActivityOptions(ctx, regenerateOptions(input.TimeoutMinutes))
	var out activities.RegenerateCourseOutput
	if err := workflow.ExecuteActivity(ctx, activities.RegenerateCourseActivityName, activities.RegenerateCourseInput{CourseID: input.CourseID}).Get(ctx, &out); err != nil {
		state = regen.StateFailed
		return regen.CourseResult{}, err
	}
	state = regen.StateDone
	return out.Result, nil
}

// AllCoursesRegenerateWorkflow regenerates courses one at a time and never
// fails because a single course failed.
func AllCoursesRegenerateWorkflow(ctx workflow.Context, input AllCoursesRegenerateInput) (AllCoursesRegenerateOutput, error) {
	progress := BatchProgress{PerCourse: map[string]string{}}
	if err := workflow.SetQueryHandler(ctx, QueryGetProgress, func() (BatchProgress, error) {
		return progress, nil
	}); err != nil {
		return AllCoursesRegenerateOutput{}, err
	}
	logger := workflow.GetLogger(ctx)
	shortCtx := workflow.WithActivityOptions(ctx, shortOptions())

	ids := input.CourseIDs
	if len(ids) == 0 {
		var listOut activities.ListCourseIDsOutput
		if err := workflow.ExecuteActivity(shortCtx, "ListCourseIDsActivity").Get(ctx, &listOut); err != nil {
			return AllCoursesRegenerateOutput{}, err
		}
		ids = listOut.CourseIDs
	}
	progress.Total = len(ids)

	batch := regen.BatchResult{
		RunID:     workflow.GetInfo(ctx).WorkflowExecution.RunID,
		StartedAt: workflow.Now(ctx),
	}
	regenCtx := workflow.WithActivityOptions(ctx, regenerateOptions(input.TimeoutMinutes))
	for _, id := range ids {
		progress.Current = id
		progress.PerCourse[id] = "processing"
		var out activities.RegenerateCourseOutput
		err := workflow.ExecuteActivity(regenCtx, activities.RegenerateCourseActivityName, activities.RegenerateCourseInput{CourseID: id}).Get(ctx, &out)
		batch.Add(id, out.Result, err)
		if err != nil {
			logger.Warn("course regeneration failed", "course", id, "error", err)
			progress.Failed++
			progress.PerCourse[id] = string(regen.StatusFailed)
		} else {
			progress.PerCourse[id] = string(regen.StatusSucceeded)
		}
		progress.Done++
	}
	progress.Current = ""
	batch.FinishedAt = workflow.Now(ctx)

	result := AllCoursesRegenerateOutput{Batch: batch}
	if input.PruneDays > 0 {
		var pruneOut activities.PruneEmbeddingsOutput
		if err := workflow.ExecuteActivity(shortCtx, "PruneEmbeddingsActivity", activities.PruneEmbeddingsInput{Days: input.PruneDays}).Get(ctx, &pruneOut); err != nil {
			logger.Warn("prune after batch failed", "error", err)
		}
		result.Pruned = pruneOut.Removed
	}
	if input.WriteSummary {
		if err := workflow.ExecuteActivity(shortCtx, "WriteBatchSummaryActivity", activities.WriteBatchSummaryInput{Batch: batch}).Get(ctx, nil); err != nil {
			logger.Warn("write batch summary failed", "run_id", batch.RunID, "error", err)
		}
	}
	return result, nil
}

func PruneEmbeddingsWorkflow(ctx workflow.Context, input PruneEmbeddingsInput) (int, error) {
	ctx = workflow.WithActivityOptions(ctx, shortOptions())
	var out activities.PruneEmbeddingsOutput
	if err := workflow.ExecuteActivity(ctx, "PruneEmbeddingsActivity", activities.PruneEmbeddingsInput{Days: input.Days}).Get(ctx, &out); err != nil {
		return 0, err
	}
	return out.Removed, nil
}
