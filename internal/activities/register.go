package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.ListCourseIDsActivity)
	w.RegisterActivity(a.RegenerateCourseActivity)
	w.RegisterActivity(a.PruneEmbeddingsActivity)
	w.RegisterActivity(a.WriteBatchSummaryActivity)
}
