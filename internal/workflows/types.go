package workflows

import "coursesearch/internal/regen"

type CourseRegenerateInput struct {
	CourseID       string `json:"course_id"`
	TimeoutMinutes int    `json:"timeout_minutes,omitempty"`
}

type AllCoursesRegenerateInput struct {
	// CourseIDs restricts the run; empty means every course in the content store.
	CourseIDs      []string `json:"course_ids,omitempty"`
	PruneDays      int      `json:"prune_days,omitempty"`
	TimeoutMinutes int      `json:"timeout_minutes,omitempty"`
	WriteSummary   bool     `json:"write_summary,omitempty"`
}

type PruneEmbeddingsInput struct {
	Days int `json:"days"`
}

type BatchProgress struct {
	Total     int               `json:"total"`
	Done      int               `json:"done"`
	Failed    int               `json:"failed"`
	Current   string            `json:"current,omitempty"`
	PerCourse map[string]string `json:"per_course"`
}

type AllCoursesRegenerateOutput struct {
	Batch  regen.BatchResult `json:"batch"`
	Pruned int               `json:"pruned"`
}
