package storage

import (
	"context"
	"errors"
	"fmt"

	"coursesearch/internal/models"
	"coursesearch/internal/util"

	"github.com/jackc/pgx/v5"
)

// ContentRepo reads the course entities that the aggregator turns into sections.
type ContentRepo struct {
	db *DB
}

func NewContentRepo(db *DB) *ContentRepo {
	return &ContentRepo{db: db}
}

func (r *ContentRepo) GetCourse(ctx context.Context, courseID string) (models.Course, error) {
	var c models.Course
	err := r.db.Pool.QueryRow(ctx, `
SELECT course_id, title, description, category, level, instructor, status, created_at, updated_at
FROM courses
WHERE course_id = $1`, courseID).Scan(
		&c.CourseID, &c.Title, &c.Description, &c.Category, &c.Level, &c.Instructor, &c.Status, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Course{}, fmt.Errorf("course %s: %w", courseID, util.ErrNotFound)
	}
	if err != nil {
		return models.Course{}, fmt.Errorf("get course: %w", err)
	}
	return c, nil
}

func (r *ContentRepo) ListCourseIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT course_id FROM courses ORDER BY created_at ASC, course_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list course ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan course ids: %w", err)
	}
	return ids, nil
}

func (r *ContentRepo) ListLessons(ctx context.Context, courseID string) ([]models.Lesson, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT lesson_id, course_id, title, description, duration_minutes, position
FROM lessons
WHERE course_id = $1
ORDER BY position ASC, lesson_id ASC`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	defer rows.Close()
	out := make([]models.Lesson, 0, 16)
	for rows.Next() {
		var l models.Lesson
		if err := rows.Scan(&l.LessonID, &l.CourseID, &l.Title, &l.Description, &l.DurationMinutes, &l.Position); err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lessons: %w", err)
	}
	return out, nil
}

func (r *ContentRepo) ListActivities(ctx context.Context, lessonID string) ([]models.Activity, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT activity_id, lesson_id, title, description, kind, position
FROM activities
WHERE lesson_id = $1
ORDER BY position ASC, activity_id ASC`, lessonID)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()
	out := make([]models.Activity, 0, 8)
	for rows.Next() {
		var a models.Activity
		if err := rows.Scan(&a.ActivityID, &a.LessonID, &a.Title, &a.Description, &a.Kind, &a.Position); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return out, nil
}

func (r *ContentRepo) ListForums(ctx context.Context, courseID string) ([]models.Forum, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT forum_id, course_id, title, description
FROM forums
WHERE course_id = $1
ORDER BY title ASC, forum_id ASC`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list forums: %w", err)
	}
	defer rows.Close()
	out := make([]models.Forum, 0, 4)
	for rows.Next() {
		var f models.Forum
		if err := rows.Scan(&f.ForumID, &f.CourseID, &f.Title, &f.Description); err != nil {
			return nil, fmt.Errorf("scan forum: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate forums: %w", err)
	}
	return out, nil
}

// ListPosts returns every post of a forum, oldest first.
func (r *ContentRepo) ListPosts(ctx context.Context, forumID string) ([]models.Post, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT post_id, forum_id, author, content, created_at
FROM forum_posts
WHERE forum_id = $1
ORDER BY created_at ASC, post_id ASC`, forumID)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()
	out := make([]models.Post, 0, 16)
	for rows.Next() {
		var p models.Post
		if err := rows.Scan(&p.PostID, &p.ForumID, &p.Author, &p.Content, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return out, nil
}

func (r *ContentRepo) ListSubjects(ctx context.Context, courseID string) ([]models.Subject, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT subject_id, course_id, name, description
FROM subjects
WHERE course_id = $1
ORDER BY name ASC, subject_id ASC`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()
	out := make([]models.Subject, 0, 8)
	for rows.Next() {
		var s models.Subject
		if err := rows.Scan(&s.SubjectID, &s.CourseID, &s.Name, &s.Description); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subjects: %w", err)
	}
	return out, nil
}

func (r *ContentRepo) ListEnrollments(ctx context.Context, courseID string) ([]models.Enrollment, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT enrollment_id, course_id, user_id, completed, permanent, enrolled_at
FROM enrollments
WHERE course_id = $1
ORDER BY enrolled_at ASC, enrollment_id ASC`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()
	out := make([]models.Enrollment, 0, 32)
	for rows.Next() {
		var e models.Enrollment
		if err := rows.Scan(&e.EnrollmentID, &e.CourseID, &e.UserID, &e.Completed, &e.Permanent, &e.EnrolledAt); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrollments: %w", err)
	}
	return out, nil
}

func (r *ContentRepo) ListFiles(ctx context.Context, courseID string) ([]models.CourseFile, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT file_id, course_id, COALESCE(lesson_id, ''), file_name, storage_key, size_bytes
FROM course_files
WHERE course_id = $1
ORDER BY file_name ASC, file_id ASC`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()
	out := make([]models.CourseFile, 0, 8)
	for rows.Next() {
		var f models.CourseFile
		if err := rows.Scan(&f.FileID, &f.CourseID, &f.LessonID, &f.FileName, &f.StorageKey, &f.SizeBytes); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return out, nil
}
