package outline

import "errors"

var (
	// ErrMalformedOutline rejects outlines with missing or duplicate ids.
	// The previous valid tree is kept.
	ErrMalformedOutline = errors.New("malformed outline")

	// ErrNoOutline is returned when a course has no generated outline yet.
	ErrNoOutline = errors.New("no outline available")

	// ErrUnknownLesson is returned for lookups of ids not in the tree.
	ErrUnknownLesson = errors.New("lesson not found in outline")
)
