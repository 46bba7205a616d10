package activities

import "coursesearch/internal/regen"

// RegenerateCourseActivityName is the registered name of
// Activities.RegenerateCourseActivity. Its heartbeats carry a Progress.
const RegenerateCourseActivityName = "RegenerateCourseActivity"

type ListCourseIDsOutput struct {
	CourseIDs []string `json:"course_ids"`
}

type RegenerateCourseInput struct {
	CourseID string `json:"course_id"`
}

type RegenerateCourseOutput struct {
	Result regen.CourseResult `json:"result"`
}

type PruneEmbeddingsInput struct {
	Days int `json:"days"`
}

type PruneEmbeddingsOutput struct {
	Removed int `json:"removed"`
}

type WriteBatchSummaryInput struct {
	Batch regen.BatchResult `json:"batch"`
}

// Progress is the heartbeat payload of RegenerateCourseActivity.
type Progress struct {
	CourseID string      `json:"course_id"`
	State    regen.State `json:"state"`
	Source   string      `json:"source,omitempty"`
	Current  int         `json:"current"`
	Total    int         `json:"total"`
}
