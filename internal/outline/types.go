// Package outline holds the canonical curriculum tree for a course and the
// single mutation entry point that replaces it when the content service
// returns a freshly generated outline.
package outline

import "encoding/json"

// CourseStatus is the lifecycle state of a whole course.
type CourseStatus string

const (
	CourseActive    CourseStatus = "active"
	CourseCompleted CourseStatus = "completed"
	CourseArchived  CourseStatus = "archived"
)

// LessonState is the derived learner-facing state of a lesson.
type LessonState string

const (
	LessonLocked      LessonState = "locked"
	LessonAvailable   LessonState = "available"
	LessonInProgress  LessonState = "in_progress"
	LessonCompleted   LessonState = "completed"
	LessonSkipped     LessonState = "skipped"
	LessonNeedsReview LessonState = "needs_review"
)

// LessonType distinguishes the kinds of lessons a section can contain.
type LessonType string

const (
	TypeLesson   LessonType = "lesson"
	TypeQuiz     LessonType = "quiz"
	TypePractice LessonType = "practice"
	TypeReview   LessonType = "review"
	TypeSummary  LessonType = "summary"
)

// GenStatus tracks on-demand generation of outlines and lesson blocks.
type GenStatus string

const (
	GenPending    GenStatus = "pending"
	GenGenerating GenStatus = "generating"
	GenReady      GenStatus = "ready"
	GenError      GenStatus = "error"
)

// ContentStatus tracks generation of a single block's content payload.
type ContentStatus string

const (
	ContentPending ContentStatus = "pending"
	ContentReady   ContentStatus = "ready"
	ContentError   ContentStatus = "error"
)

// Block is one content unit inside a lesson. The content payload is opaque
// to the progression core; only identity, order and status matter here.
type Block struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Title         string          `json:"title"`
	Order         int             `json:"order"`
	ContentStatus ContentStatus   `json:"content_status"`
	Content       json.RawMessage `json:"content,omitempty"`
}

// Lesson is one teachable unit inside a section. Blocks is empty until the
// content service generates them.
type Lesson struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Type             LessonType `json:"type"`
	EstimatedMinutes int        `json:"estimated_minutes"`
	BlocksStatus     GenStatus  `json:"blocks_status"`
	Blocks           []Block    `json:"blocks,omitempty"`
}

// Section is an ordered group of lessons. Section order is fixed once
// generated; sections are only ever appended, never reordered.
type Section struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	EstimatedMinutes int      `json:"estimated_minutes"`
	Lessons          []Lesson `json:"lessons"`
}

// Outline is the generated curriculum tree for a course.
type Outline struct {
	Sections []Section `json:"sections"`
}

// Position points at the learner's current lesson. Section and lesson ids
// are canonical; index-based positions from older clients are resolved to
// ids at the wire boundary and never stored.
type Position struct {
	SectionID  string `json:"section_id"`
	LessonID   string `json:"lesson_id"`
	BlockIndex int    `json:"block_index"`
}

// Course is the top-level entity owned by the client-side store.
type Course struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	Emoji            string       `json:"emoji,omitempty"`
	Status           CourseStatus `json:"status"`
	Progress         int          `json:"progress"` // percent, 0-100
	LessonsCompleted int          `json:"lessons_completed"`
	TotalLessons     int          `json:"total_lessons"`
	Outline          *Outline     `json:"outline,omitempty"`
	OutlineStatus    GenStatus    `json:"outline_status"`
	Position         *Position    `json:"position,omitempty"`
	SequentialUnlock bool         `json:"sequential_unlock"`
}

// TotalLessonCount returns the number of lessons across all sections.
func (o *Outline) TotalLessonCount() int {
	if o == nil {
		return 0
	}
	n := 0
	for _, s := range o.Sections {
		n += len(s.Lessons)
	}
	return n
}

// Lesson looks up a lesson by id and returns its section.
func (o *Outline) Lesson(lessonID string) (*Section, *Lesson, bool) {
	if o == nil {
		return nil, nil, false
	}
	for si := range o.Sections {
		sec := &o.Sections[si]
		for li := range sec.Lessons {
			if sec.Lessons[li].ID == lessonID {
				return sec, &sec.Lessons[li], true
			}
		}
	}
	return nil, nil, false
}

// SectionByID looks up a section by id.
func (o *Outline) SectionByID(id string) (*Section, bool) {
	if o == nil {
		return nil, false
	}
	for i := range o.Sections {
		if o.Sections[i].ID == id {
			return &o.Sections[i], true
		}
	}
	return nil, false
}
