// Package aggregator reads a course's entities and renders them as ordered,
// labelled text sections ready for chunking.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"coursesearch/internal/extract"
	"coursesearch/internal/models"
	"coursesearch/internal/util"
)

// MaxPostsPerForum bounds how many posts represent one forum.
const MaxPostsPerForum = 5

type ContentStore interface {
	GetCourse(ctx context.Context, courseID string) (models.Course, error)
	ListCourseIDs(ctx context.Context) ([]string, error)
	ListLessons(ctx context.Context, courseID string) ([]models.Lesson, error)
	ListActivities(ctx context.Context, lessonID string) ([]models.Activity, error)
	ListForums(ctx context.Context, courseID string) ([]models.Forum, error)
	ListPosts(ctx context.Context, forumID string) ([]models.Post, error)
	ListSubjects(ctx context.Context, courseID string) ([]models.Subject, error)
	ListEnrollments(ctx context.Context, courseID string) ([]models.Enrollment, error)
	ListFiles(ctx context.Context, courseID string) ([]models.CourseFile, error)
}

type BlobStore interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Skip records a section that was left out because fetching or rendering it failed.
type Skip struct {
	Type   models.SectionType `json:"type"`
	Source string             `json:"source"`
	Reason string             `json:"reason"`
}

type Result struct {
	Course   models.Course    `json:"course"`
	Sections []models.Section `json:"sections"`
	Skipped  []Skip           `json:"skipped,omitempty"`
}

type Options struct {
	// Blobs may be nil, in which case attached files are not read.
	Blobs        BlobStore
	Extractor    *extract.Extractor
	MaxFileBytes int64
	Logger       *slog.Logger
}

type Aggregator struct {
	store        ContentStore
	blobs        BlobStore
	extractor    *extract.Extractor
	maxFileBytes int64
	logger       *slog.Logger
}

func New(store ContentStore, opts Options) *Aggregator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ex := opts.Extractor
	if ex == nil {
		ex = extract.New(logger)
	}
	return &Aggregator{
		store:        store,
		blobs:        opts.Blobs,
		extractor:    ex,
		maxFileBytes: opts.MaxFileBytes,
		logger:       logger.With("component", "aggregator"),
	}
}

// outcome is what one section builder produced: a section, a skip, or nothing
// when the course simply has no such content.
type outcome struct {
	section *models.Section
	skip    *Skip
}

func emit(s models.Section, err error) outcome {
	if err != nil {
		return outcome{skip: &Skip{Type: s.Type, Source: s.Source, Reason: err.Error()}}
	}
	return outcome{section: &s}
}

func skipped(typ models.SectionType, source string, err error) outcome {
	return outcome{skip: &Skip{Type: typ, Source: source, Reason: err.Error()}}
}

func source(courseID string, parts ...string) string {
	return "course:" + courseID + ":" + strings.Join(parts, ":")
}

// Aggregate returns the course's sections in a fixed order: course info,
// lessons, activities, forums, materials, enrollments, duration, files.
// Only a course that does not resolve is an error; every other failing fetch
// drops the affected section and is reported in Result.Skipped.
func (a *Aggregator) Aggregate(ctx context.Context, courseID string) (Result, error) {
	course, err := a.store.GetCourse(ctx, courseID)
	if err != nil {
		return Result{}, fmt.Errorf("aggregate course %s: %w", courseID, err)
	}
	res := Result{Course: course}
	var outcomes []outcome
	outcomes = append(outcomes, emit(courseInfoSection(course)))

	lessons, lessonsErr := a.store.ListLessons(ctx, courseID)
	var lessonActivities map[string][]models.Activity
	if lessonsErr != nil {
		outcomes = append(outcomes, skipped(models.SectionLesson, source(courseID, "lessons"), lessonsErr))
	} else {
		var activityOutcomes []outcome
		lessonActivities, activityOutcomes = a.fetchActivities(ctx, courseID, lessons)
		outcomes = append(outcomes, activityOutcomes...)
		for _, l := range lessons {
			outcomes = append(outcomes, emit(lessonSection(courseID, l, lessonActivities[l.LessonID])))
		}
		if s, ok := activitiesSection(courseID, lessons, lessonActivities); ok {
			outcomes = append(outcomes, emit(s, nil))
		}
	}

	outcomes = append(outcomes, a.forums(ctx, courseID)...)
	outcomes = append(outcomes, a.materials(ctx, courseID))
	outcomes = append(outcomes, a.enrollments(ctx, courseID))
	if lessonsErr == nil {
		if s, ok := durationSection(courseID, lessons); ok {
			outcomes = append(outcomes, emit(s, nil))
		}
	}
	outcomes = append(outcomes, a.files(ctx, courseID)...)

	for _, o := range outcomes {
		switch {
		case o.section != nil:
			res.Sections = append(res.Sections, *o.section)
		case o.skip != nil:
			a.logger.Warn("section skipped", "course", courseID, "type", o.skip.Type, "source", o.skip.Source, "reason", o.skip.Reason)
			res.Skipped = append(res.Skipped, *o.skip)
		}
	}
	return res, nil
}

// AggregateFull renders every section into one markdown document for
// administrative display. It is not used for embedding.
func (a *Aggregator) AggregateFull(ctx context.Context, courseID string) (string, error) {
	res, err := a.Aggregate(ctx, courseID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", res.Course.Title)
	for _, s := range res.Sections {
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", s.Title, strings.TrimSpace(s.Content))
	}
	return b.String(), nil
}

func (a *Aggregator) fetchActivities(ctx context.Context, courseID string, lessons []models.Lesson) (map[string][]models.Activity, []outcome) {
	out := make(map[string][]models.Activity, len(lessons))
	var skips []outcome
	for _, l := range lessons {
		acts, err := a.store.ListActivities(ctx, l.LessonID)
		if err != nil {
			skips = append(skips, skipped(models.SectionActivities, source(courseID, "lesson", l.LessonID, "activities"), err))
			continue
		}
		out[l.LessonID] = acts
	}
	return out, skips
}

func (a *Aggregator) forums(ctx context.Context, courseID string) []outcome {
	src := source(courseID, "forums")
	forums, err := a.store.ListForums(ctx, courseID)
	if err != nil {
		return []outcome{skipped(models.SectionForums, src, err)}
	}
	if len(forums) == 0 {
		return nil
	}
	var out []outcome
	var b strings.Builder
	for i, f := range forums {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Forum: %s", f.Title)
		if d := strings.TrimSpace(f.Description); d != "" {
			fmt.Fprintf(&b, "\n%s", d)
		}
		posts, err := a.store.ListPosts(ctx, f.ForumID)
		if err != nil {
			out = append(out, skipped(models.SectionForums, source(courseID, "forum", f.ForumID, "posts"), err))
			continue
		}
		writePosts(&b, posts)
	}
	out = append(out, emit(models.NewSection("Discussion Forums", b.String(), models.SectionForums, src)))
	return out
}

func writePosts(b *strings.Builder, posts []models.Post) {
	if len(posts) == 0 {
		return
	}
	b.WriteString("\nPosts:")
	shown := posts
	if len(shown) > MaxPostsPerForum {
		shown = shown[:MaxPostsPerForum]
	}
	for _, p := range shown {
		content := util.NormalizeText(p.Content)
		if author := strings.TrimSpace(p.Author); author != "" {
			fmt.Fprintf(b, "\n- %s: %s", author, content)
		} else {
			fmt.Fprintf(b, "\n- %s", content)
		}
	}
	if extra := len(posts) - len(shown); extra > 0 {
		fmt.Fprintf(b, "\n+%d more posts", extra)
	}
}

func (a *Aggregator) materials(ctx context.Context, courseID string) outcome {
	src := source(courseID, "materials")
	subjects, err := a.store.ListSubjects(ctx, courseID)
	if err != nil {
		return skipped(models.SectionMaterials, src, err)
	}
	if len(subjects) == 0 {
		return outcome{}
	}
	var b strings.Builder
	b.WriteString("Subjects covered:")
	for _, s := range subjects {
		if d := strings.TrimSpace(s.Description); d != "" {
			fmt.Fprintf(&b, "\n- %s: %s", s.Name, d)
		} else {
			fmt.Fprintf(&b, "\n- %s", s.Name)
		}
	}
	return emit(models.NewSection("Course Materials", b.String(), models.SectionMaterials, src))
}

func (a *Aggregator) enrollments(ctx context.Context, courseID string) outcome {
	src := source(courseID, "enrollments")
	list, err := a.store.ListEnrollments(ctx, courseID)
	if err != nil {
		return skipped(models.SectionEnrollments, src, err)
	}
	if len(list) == 0 {
		return outcome{}
	}
	st := ComputeEnrollmentStats(list)
	content := fmt.Sprintf("Total enrollments: %d\nCompleted: %d\nPermanent: %d\nCompletion rate: %d%%",
		st.Total, st.Completed, st.Permanent, st.CompletionRate)
	return emit(models.NewSection("Enrollment Statistics", content, models.SectionEnrollments, src))
}

func (a *Aggregator) files(ctx context.Context, courseID string) []outcome {
	files, err := a.store.ListFiles(ctx, courseID)
	if err != nil {
		return []outcome{skipped(models.SectionFile, source(courseID, "files"), err)}
	}
	if len(files) > 0 && a.blobs == nil {
		a.logger.Debug("no blob store configured, attachments ignored", "course", courseID, "files", len(files))
		return nil
	}
	out := make([]outcome, 0, len(files))
	for _, f := range files {
		src := source(courseID, "file", f.FileID)
		v := extract.ValidateFile(extract.FileInfo{Name: f.FileName, Size: f.SizeBytes}, a.maxFileBytes)
		if !v.Valid {
			out = append(out, skipped(models.SectionFile, src, errors.New(v.Error)))
			continue
		}
		data, err := a.blobs.Fetch(ctx, f.StorageKey)
		if err != nil {
			out = append(out, skipped(models.SectionFile, src, err))
			continue
		}
		text := a.extractor.ExtractTextFromFile(data, f.FileName)
		if text == "" {
			out = append(out, skipped(models.SectionFile, src, util.ErrNoExtractableText))
			continue
		}
		out = append(out, emit(models.NewSection("File: "+f.FileName, text, models.SectionFile, src)))
	}
	return out
}
