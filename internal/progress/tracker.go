package progress

import (
	"fmt"

	"github.com/p-n-ai/pai-learn/internal/outline"
)

// Tracker owns "where the learner currently is", independent of how the
// tree is rendered. Positions are id-based; the tracker refuses to point
// at locked or nonexistent lessons.
type Tracker struct {
	model *outline.Model
	cache *Cache
}

// NewTracker creates a tracker over a course model and its progress cache.
func NewTracker(model *outline.Model, cache *Cache) *Tracker {
	return &Tracker{model: model, cache: cache}
}

// Current returns the learner's position, or nil when unset (fresh course
// or position invalidated by an outline regeneration).
func (t *Tracker) Current() *outline.Position {
	return t.model.Position()
}

// AdvanceTo moves the position to the given lesson. Fails with
// ErrInvalidPosition if the lesson does not exist, lives in a different
// section than claimed, or is locked; the position is left unchanged.
func (t *Tracker) AdvanceTo(sectionID, lessonID string) error {
	course := t.model.Course()
	sec, _, ok := course.Outline.Lesson(lessonID)
	if !ok {
		return fmt.Errorf("%w: lesson %s not in outline", ErrInvalidPosition, lessonID)
	}
	if sectionID != "" && sec.ID != sectionID {
		return fmt.Errorf("%w: lesson %s is not in section %s", ErrInvalidPosition, lessonID, sectionID)
	}

	state := LessonStateOf(course.Outline, lessonID, t.cache.CompletedLessons(), course.Position, course.SequentialUnlock)
	if state == outline.LessonLocked {
		return fmt.Errorf("%w: lesson %s is locked", ErrInvalidPosition, lessonID)
	}

	t.model.SetPosition(&outline.Position{SectionID: sec.ID, LessonID: lessonID})
	return nil
}

// NextAfter returns the lesson following pos in document order: the next
// lesson in the same section, else the first lesson of the next non-empty
// section, else nil when the course is finished. Lessons are ordered by
// their place in the section's sequence, never by id or title.
func (t *Tracker) NextAfter(pos outline.Position) *outline.Position {
	sections := t.model.Sections()

	for si, sec := range sections {
		if sec.ID != pos.SectionID {
			continue
		}
		for li, l := range sec.Lessons {
			if l.ID != pos.LessonID {
				continue
			}
			if li+1 < len(sec.Lessons) {
				return &outline.Position{SectionID: sec.ID, LessonID: sec.Lessons[li+1].ID}
			}
			for _, next := range sections[si+1:] {
				if len(next.Lessons) > 0 {
					return &outline.Position{SectionID: next.ID, LessonID: next.Lessons[0].ID}
				}
			}
			return nil
		}
	}
	return nil
}
