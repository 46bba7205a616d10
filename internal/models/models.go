package models

import (
	"fmt"
	"strings"
	"time"
)

type Course struct {
	CourseID    string    `json:"course_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Level       string    `json:"level,omitempty"`
	Instructor  string    `json:"instructor,omitempty"`
	Status      string    `json:"status,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Lesson struct {
	LessonID        string `json:"lesson_id"`
	CourseID        string `json:"course_id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	DurationMinutes int    `json:"duration_minutes"`
	Position        int    `json:"position"`
}

type Activity struct {
	ActivityID  string `json:"activity_id"`
	LessonID    string `json:"lesson_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Position    int    `json:"position"`
}

type Forum struct {
	ForumID     string `json:"forum_id"`
	CourseID    string `json:"course_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type Post struct {
	PostID    string    `json:"post_id"`
	ForumID   string    `json:"forum_id"`
	Author    string    `json:"author,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Subject struct {
	SubjectID   string `json:"subject_id"`
	CourseID    string `json:"course_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Enrollment struct {
	EnrollmentID string    `json:"enrollment_id"`
	CourseID     string    `json:"course_id"`
	UserID       string    `json:"user_id"`
	Completed    bool      `json:"completed"`
	Permanent    bool      `json:"permanent"`
	EnrolledAt   time.Time `json:"enrolled_at"`
}

// CourseFile is an attachment whose bytes live in the blob store under StorageKey.
type CourseFile struct {
	FileID     string `json:"file_id"`
	CourseID   string `json:"course_id"`
	LessonID   string `json:"lesson_id,omitempty"`
	FileName   string `json:"file_name"`
	StorageKey string `json:"storage_key"`
	SizeBytes  int64  `json:"size_bytes"`
}

type SectionType string

const (
	SectionCourseInfo  SectionType = "course-info"
	SectionLesson      SectionType = "lesson"
	SectionActivities  SectionType = "activities"
	SectionForums      SectionType = "forums"
	SectionMaterials   SectionType = "materials"
	SectionEnrollments SectionType = "enrollments"
	SectionDuration    SectionType = "duration"
	SectionFile        SectionType = "file"
)

func (t SectionType) Valid() bool {
	switch t {
	case SectionCourseInfo, SectionLesson, SectionActivities, SectionForums,
		SectionMaterials, SectionEnrollments, SectionDuration, SectionFile:
		return true
	}
	return false
}

// Section is one labelled slice of a course's text. Source is unique per course+entity.
type Section struct {
	Title   string      `json:"title"`
	Content string      `json:"content"`
	Type    SectionType `json:"type"`
	Source  string      `json:"source"`
}

func NewSection(title, content string, typ SectionType, source string) (Section, error) {
	if strings.TrimSpace(title) == "" {
		return Section{}, fmt.Errorf("section title is required")
	}
	if strings.TrimSpace(source) == "" {
		return Section{}, fmt.Errorf("section source is required")
	}
	if !typ.Valid() {
		return Section{}, fmt.Errorf("unknown section type %q", typ)
	}
	return Section{Title: title, Content: content, Type: typ, Source: source}, nil
}

type ChunkMetadata struct {
	Source      string `json:"source"`
	TotalChunks int    `json:"totalChunks"`
	ChunkSize   int    `json:"chunkSize"`
	Overlap     int    `json:"overlap"`
	// OverlapChars is the byte length of the leading text repeated from the previous chunk.
	OverlapChars int `json:"overlapChars"`
}

type Chunk struct {
	Content    string        `json:"content"`
	ChunkIndex int           `json:"chunk_index"`
	Metadata   ChunkMetadata `json:"metadata"`
}

type EmbeddedChunk struct {
	Chunk
	Embedding    []float32   `json:"embedding"`
	SectionTitle string      `json:"section_title,omitempty"`
	SectionType  SectionType `json:"section_type,omitempty"`
}

// VectorMetadata is the JSON document persisted next to every stored vector.
type VectorMetadata struct {
	ChunkMetadata
	SectionTitle string      `json:"sectionTitle,omitempty"`
	SectionType  SectionType `json:"sectionType,omitempty"`
}

func (c EmbeddedChunk) VectorMetadata() VectorMetadata {
	return VectorMetadata{
		ChunkMetadata: c.Metadata,
		SectionTitle:  c.SectionTitle,
		SectionType:   c.SectionType,
	}
}

type StoredVector struct {
	ID         int64          `json:"id"`
	CourseID   string         `json:"course_id"`
	Content    string         `json:"content"`
	Embedding  []float32      `json:"-"`
	Metadata   VectorMetadata `json:"metadata"`
	Source     string         `json:"source"`
	ChunkIndex int            `json:"chunk_index"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// NewStoredVector validates a row read from or written to the vector store.
func NewStoredVector(v StoredVector) (StoredVector, error) {
	if strings.TrimSpace(v.CourseID) == "" {
		return StoredVector{}, fmt.Errorf("stored vector: course id is required")
	}
	if v.Content == "" {
		return StoredVector{}, fmt.Errorf("stored vector: content is required")
	}
	if v.ChunkIndex < 0 {
		return StoredVector{}, fmt.Errorf("stored vector: negative chunk index %d", v.ChunkIndex)
	}
	if v.Source == "" {
		v.Source = v.Metadata.Source
	}
	return v, nil
}

type SearchResult struct {
	ID         int64          `json:"id"`
	CourseID   string         `json:"course_id"`
	Content    string         `json:"content"`
	Source     string         `json:"source"`
	ChunkIndex int            `json:"chunk_index"`
	Metadata   VectorMetadata `json:"metadata"`
	Similarity float64        `json:"similarity"`
	CreatedAt  time.Time      `json:"created_at"`
}

type VectorStats struct {
	TotalChunks     int        `json:"total_chunks"`
	DistinctSources int        `json:"distinct_sources"`
	FirstCreatedAt  *time.Time `json:"first_created_at"`
	LastUpdatedAt   *time.Time `json:"last_updated_at"`
}
