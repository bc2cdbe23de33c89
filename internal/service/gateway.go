// Package service defines the contracts the progression core depends on:
// the remote curriculum service (outline and block generation) and the
// remote progress service (completion confirmation). Wire formats are
// opaque to the core; implementations return the typed entities.
package service

import (
	"context"
	"errors"

	"github.com/p-n-ai/pai-learn/internal/outline"
)

// ErrUnavailable indicates the remote service could not be reached or
// returned a server error. Callers treat it as a sync failure, never as
// data loss.
var ErrUnavailable = errors.New("remote service unavailable")

// CourseSummary is the server's aggregate view of course progress.
type CourseSummary struct {
	Progress         int `json:"progress"`
	LessonsCompleted int `json:"lessons_completed"`
	TotalLessons     int `json:"total_lessons"`
}

// LessonResult is the server's verdict on a lesson completion. The server
// is the source of truth for unlocking: it may apply adaptive-sequencing
// rules the client does not know, so NextLesson can differ from the
// client's own document-order computation.
type LessonResult struct {
	Completed  bool              `json:"completed"`
	NextLesson *outline.Position `json:"next_lesson,omitempty"`
	Summary    CourseSummary     `json:"summary"`

	// CompletedLessons, when present, is the server's full set of
	// confirmed lesson completions. It replaces the client's confirmed
	// base wholesale; optimistic local completions survive the merge.
	CompletedLessons []string `json:"completed_lessons,omitempty"`
}

// Curriculum is the remote content-generation service.
type Curriculum interface {
	// FetchOutline returns the course outline, or pending=true when
	// generation has been requested but not finished.
	FetchOutline(ctx context.Context, courseID string) (o *outline.Outline, pending bool, err error)

	// GenerateBlocks generates the content blocks for a lesson.
	GenerateBlocks(ctx context.Context, lessonID string) ([]outline.Block, error)

	// RegenerateOutline replaces a course's outline with a fresh one.
	RegenerateOutline(ctx context.Context, courseID string) (*outline.Outline, error)
}

// Progress is the remote progress-confirmation service.
type Progress interface {
	ConfirmBlockComplete(ctx context.Context, lessonID, blockID string) error
	ConfirmLessonComplete(ctx context.Context, lessonID string) (LessonResult, error)
}
