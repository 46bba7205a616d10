package aggregator

import (
	"fmt"
	"math"
	"strings"

	"coursesearch/internal/models"
)

func courseInfoSection(c models.Course) (models.Section, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Course: %s", c.Title)
	for _, f := range []struct{ label, value string }{
		{"Description", c.Description},
		{"Category", c.Category},
		{"Level", c.Level},
		{"Instructor", c.Instructor},
	} {
		if v := strings.TrimSpace(f.value); v != "" {
			fmt.Fprintf(&b, "\n%s: %s", f.label, v)
		}
	}
	return models.NewSection("Course Information", b.String(), models.SectionCourseInfo, source(c.CourseID, "info"))
}

func lessonTitle(l models.Lesson) string {
	if l.Position > 0 {
		return fmt.Sprintf("Lesson %d: %s", l.Position, l.Title)
	}
	return "Lesson: " + l.Title
}

func lessonSection(courseID string, l models.Lesson, activities []models.Activity) (models.Section, error) {
	var b strings.Builder
	b.WriteString(l.Title)
	if d := strings.TrimSpace(l.Description); d != "" {
		fmt.Fprintf(&b, "\n%s", d)
	}
	if l.DurationMinutes > 0 {
		fmt.Fprintf(&b, "\nDuration: %d minutes", l.DurationMinutes)
	}
	if len(activities) > 0 {
		b.WriteString("\nActivities:")
		for _, a := range activities {
			fmt.Fprintf(&b, "\n- %s", activityLine(a))
		}
	}
	return models.NewSection(lessonTitle(l), b.String(), models.SectionLesson, source(courseID, "lesson", l.LessonID))
}

func activityLine(a models.Activity) string {
	line := a.Title
	if k := strings.TrimSpace(a.Kind); k != "" {
		line += " (" + k + ")"
	}
	if d := strings.TrimSpace(a.Description); d != "" {
		line += ": " + d
	}
	return line
}

func activitiesSection(courseID string, lessons []models.Lesson, byLesson map[string][]models.Activity) (models.Section, bool) {
	var b strings.Builder
	n := 0
	for _, l := range lessons {
		for _, a := range byLesson[l.LessonID] {
			if n > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "- [%s] %s", l.Title, activityLine(a))
			n++
		}
	}
	if n == 0 {
		return models.Section{}, false
	}
	content := fmt.Sprintf("The course contains %d activities:\n%s", n, b.String())
	s, err := models.NewSection("Course Activities", content, models.SectionActivities, source(courseID, "activities"))
	return s, err == nil
}

// durationSection is only produced for courses with more than one lesson and
// a positive total duration.
func durationSection(courseID string, lessons []models.Lesson) (models.Section, bool) {
	if len(lessons) < 2 {
		return models.Section{}, false
	}
	total := 0
	for _, l := range lessons {
		total += l.DurationMinutes
	}
	if total <= 0 {
		return models.Section{}, false
	}
	avg := int(math.Round(float64(total) / float64(len(lessons))))
	var b strings.Builder
	fmt.Fprintf(&b, "Total duration: %d minutes\nLessons: %d\nAverage per lesson: %d minutes\nBreakdown:", total, len(lessons), avg)
	for _, l := range lessons {
		fmt.Fprintf(&b, "\n- %s: %d minutes", l.Title, l.DurationMinutes)
	}
	s, err := models.NewSection("Course Duration", b.String(), models.SectionDuration, source(courseID, "duration"))
	return s, err == nil
}

type EnrollmentStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Permanent int `json:"permanent"`
	// CompletionRate is completed/total as a whole percentage, rounded half away from zero.
	CompletionRate int `json:"completion_rate"`
}

func ComputeEnrollmentStats(list []models.Enrollment) EnrollmentStats {
	st := EnrollmentStats{Total: len(list)}
	for _, e := range list {
		if e.Completed {
			st.Completed++
		}
		if e.Permanent {
			st.Permanent++
		}
	}
	if st.Total > 0 {
		st.CompletionRate = int(math.Round(float64(st.Completed) / float64(st.Total) * 100))
	}
	return st
}
