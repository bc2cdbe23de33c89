package outline

import (
	"fmt"
	"log/slog"
	"sync"
)

// Model owns the canonical tree and position for a single course. All
// mutations go through ReplaceOutline or the setters below; callers get
// copies or read-only views, never shared mutable nodes.
type Model struct {
	mu     sync.RWMutex
	course Course
}

// NewModel wraps a course in a model. The outline, if present, must
// already be valid.
func NewModel(course Course) (*Model, error) {
	if course.Outline != nil {
		if err := Validate(course.Outline); err != nil {
			return nil, err
		}
	}
	return &Model{course: course}, nil
}

// Course returns a snapshot of the course.
func (m *Model) Course() Course {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.course
}

// Sections returns the section list, or nil when no outline exists.
func (m *Model) Sections() []Section {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.course.Outline == nil {
		return nil
	}
	return m.course.Outline.Sections
}

// LessonsOf returns the lessons of a section.
func (m *Model) LessonsOf(sectionID string) ([]Lesson, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sec, ok := m.course.Outline.SectionByID(sectionID)
	if !ok {
		return nil, fmt.Errorf("%w: section %s", ErrUnknownLesson, sectionID)
	}
	return sec.Lessons, nil
}

// BlocksOf returns the blocks of a lesson, which may be empty until the
// lesson's content has been generated.
func (m *Model) BlocksOf(lessonID string) ([]Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, lesson, ok := m.course.Outline.Lesson(lessonID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLesson, lessonID)
	}
	return lesson.Blocks, nil
}

// FindLesson resolves a lesson id to its section and lesson.
func (m *Model) FindLesson(lessonID string) (Section, Lesson, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sec, lesson, ok := m.course.Outline.Lesson(lessonID)
	if !ok {
		return Section{}, Lesson{}, false
	}
	return *sec, *lesson, true
}

// Position returns the current position, or nil when unset.
func (m *Model) Position() *Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.course.Position == nil {
		return nil
	}
	p := *m.course.Position
	return &p
}

// SetPosition stores a position that has already been validated by the
// tracker.
func (m *Model) SetPosition(p *Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p == nil {
		m.course.Position = nil
		return
	}
	cp := *p
	m.course.Position = &cp
}

// ReplaceOutline installs a freshly generated or regenerated outline. The
// new tree is validated first; a malformed tree is rejected and the
// previous valid tree kept. The boolean reports whether the current
// position survived: a position whose lesson id still resolves in the new
// tree is preserved (re-homed if the lesson moved sections), anything else
// is cleared.
func (m *Model) ReplaceOutline(newOutline *Outline) (positionKept bool, err error) {
	if err := Validate(newOutline); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.course.Outline = newOutline
	m.course.OutlineStatus = GenReady
	m.course.TotalLessons = newOutline.TotalLessonCount()

	if m.course.Position == nil {
		return false, nil
	}

	sec, _, ok := newOutline.Lesson(m.course.Position.LessonID)
	if !ok {
		slog.Info("position invalidated by outline replacement",
			"course_id", m.course.ID,
			"lesson_id", m.course.Position.LessonID,
		)
		m.course.Position = nil
		return false, nil
	}

	// Lesson survived; re-home the section id in case it moved. The
	// position is reallocated so snapshots keep the old one.
	p := *m.course.Position
	p.SectionID = sec.ID
	m.course.Position = &p
	return true, nil
}

// UpdateLessonBlocks swaps in a lesson's generated blocks. Used only by
// the generation coordinator's merge path. The update is copy-on-write:
// the containing section and lesson list are rebuilt and the outline
// pointer swapped, so Course snapshots handed out earlier keep reading
// the tree they were taken from.
func (m *Model) UpdateLessonBlocks(lessonID string, blocks []Block, status GenStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.course.Outline == nil {
		return fmt.Errorf("%w: %s", ErrUnknownLesson, lessonID)
	}
	next, ok := m.course.Outline.withLessonBlocks(lessonID, blocks, status)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLesson, lessonID)
	}
	m.course.Outline = next
	return nil
}

// withLessonBlocks returns a copy of the outline with one lesson's blocks
// and status replaced. Sections and the affected lesson list are fresh
// slices; unaffected lessons and block slices are shared, which is safe
// because they are never mutated in place.
func (o *Outline) withLessonBlocks(lessonID string, blocks []Block, status GenStatus) (*Outline, bool) {
	for si := range o.Sections {
		for li := range o.Sections[si].Lessons {
			if o.Sections[si].Lessons[li].ID != lessonID {
				continue
			}
			next := &Outline{Sections: make([]Section, len(o.Sections))}
			copy(next.Sections, o.Sections)
			lessons := make([]Lesson, len(o.Sections[si].Lessons))
			copy(lessons, o.Sections[si].Lessons)
			lessons[li].Blocks = blocks
			lessons[li].BlocksStatus = status
			next.Sections[si].Lessons = lessons
			return next, true
		}
	}
	return nil, false
}

// SetSummary records server-reported aggregate progress on the course.
func (m *Model) SetSummary(progress, lessonsCompleted, totalLessons int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.course.Progress = progress
	m.course.LessonsCompleted = lessonsCompleted
	if totalLessons > 0 {
		m.course.TotalLessons = totalLessons
	}
	if totalLessons > 0 && lessonsCompleted >= totalLessons {
		m.course.Status = CourseCompleted
	}
}
