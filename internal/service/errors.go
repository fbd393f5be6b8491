package service

import "errors"

var (
	ErrSyllabusNotFound = errors.New("syllabus not found")
	ErrLessonNotFound   = errors.New("lesson not found")
	ErrForbidden        = errors.New("forbidden")
	ErrLessonBusy       = errors.New("lesson is already being generated")
	ErrLessonNotReady   = errors.New("lesson has no content to revise yet")
	ErrInvalidCount     = errors.New("count must be a non-negative integer")
	ErrInvalidInput     = errors.New("brief and level are required")
	ErrGenerationFailed = errors.New("lesson generation failed")
	ErrOutlineFailed    = errors.New("outline generation failed")
	ErrSlugExhausted    = errors.New("could not allocate a unique slug")
)
