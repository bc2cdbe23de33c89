// Package progress derives learner-facing state from the curriculum tree
// and reconciles optimistic local completion with the server's verdicts.
package progress

import "github.com/p-n-ai/pai-learn/internal/outline"

// SectionState is the derived state of a section.
type SectionState string

const (
	SectionPending    SectionState = "pending"
	SectionInProgress SectionState = "in_progress"
	SectionCompleted  SectionState = "completed"
)

// LessonStateOf computes a lesson's state from the tree, the completed
// set, the current position, and the course's unlock policy. Deterministic
// and side-effect free.
func LessonStateOf(o *outline.Outline, lessonID string, completed map[string]bool, pos *outline.Position, sequential bool) outline.LessonState {
	if completed[lessonID] {
		return outline.LessonCompleted
	}
	if pos != nil && pos.LessonID == lessonID {
		return outline.LessonInProgress
	}
	if sequential && !allEarlierCompleted(o, lessonID, completed) {
		return outline.LessonLocked
	}
	return outline.LessonAvailable
}

// allEarlierCompleted reports whether every lesson before lessonID in
// document order across the whole course is completed.
func allEarlierCompleted(o *outline.Outline, lessonID string, completed map[string]bool) bool {
	if o == nil {
		return false
	}
	for _, sec := range o.Sections {
		for _, l := range sec.Lessons {
			if l.ID == lessonID {
				return true
			}
			if !completed[l.ID] {
				return false
			}
		}
	}
	// Lesson not in the tree; nothing is "earlier".
	return true
}

// SectionStateOf computes a section's state: completed iff every lesson is
// completed, in_progress if it holds the position or mixes completed and
// incomplete lessons, otherwise pending. Empty sections are pending.
func SectionStateOf(sec outline.Section, completed map[string]bool, pos *outline.Position) SectionState {
	if len(sec.Lessons) == 0 {
		return SectionPending
	}

	done, total := 0, len(sec.Lessons)
	holdsPosition := false
	for _, l := range sec.Lessons {
		if completed[l.ID] {
			done++
		}
		if pos != nil && pos.LessonID == l.ID {
			holdsPosition = true
		}
	}

	switch {
	case done == total:
		return SectionCompleted
	case holdsPosition || done > 0:
		return SectionInProgress
	default:
		return SectionPending
	}
}

// Percent computes overall completion as round(100 * completed / total).
// A course with no lessons reports 0; empty sections contribute nothing.
// 100 is reported only when every lesson is completed.
func Percent(o *outline.Outline, completed map[string]bool) int {
	if o == nil {
		return 0
	}
	done, total := 0, 0
	for _, sec := range o.Sections {
		for _, l := range sec.Lessons {
			total++
			if completed[l.ID] {
				done++
			}
		}
	}
	if total == 0 {
		return 0
	}
	if done == total {
		return 100
	}
	pct := (100*done + total/2) / total
	if pct == 100 {
		pct = 99
	}
	return pct
}

// CompletedLessonCount counts completed lessons that exist in the tree.
// Stale ids left over from an outline regeneration are not counted.
func CompletedLessonCount(o *outline.Outline, completed map[string]bool) int {
	if o == nil {
		return 0
	}
	done := 0
	for _, sec := range o.Sections {
		for _, l := range sec.Lessons {
			if completed[l.ID] {
				done++
			}
		}
	}
	return done
}
