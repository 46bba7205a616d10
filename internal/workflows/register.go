package workflows

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker) {
	w.RegisterWorkflow(CourseRegenerateWorkflow)
	w.RegisterWorkflow(AllCoursesRegenerateWorkflow)
	w.RegisterWorkflow(PruneEmbeddingsWorkflow)
}
