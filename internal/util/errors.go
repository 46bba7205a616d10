package util

import "errors"

var (
	// ErrNotFound is returned when a course (or a blob) does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrExtraction marks an attachment that could not be converted to text.
	ErrExtraction = errors.New("text extraction failed")
	// ErrProvider marks a failed or malformed embedding provider call.
	ErrProvider = errors.New("embedding provider error")
	// ErrThrottled marks a provider failure caused by rate limits or exhausted
	// quota. It is always wrapped together with ErrProvider.
	ErrThrottled = errors.New("embedding provider throttled")
	// ErrPersistence marks a failed vector store write or delete.
	ErrPersistence = errors.New("vector persistence error")
	// ErrValidation marks input rejected before any work was attempted.
	ErrValidation = errors.New("validation error")
	// ErrDimensionMismatch is returned when two vectors of different length are compared.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrCourseEmptied means old vectors were removed but the new set was not saved.
	ErrCourseEmptied = errors.New("course left without vectors")

	ErrNoExtractableText = errors.New("no extractable text found")
)
