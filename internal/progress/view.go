package progress

import "github.com/p-n-ai/pai-learn/internal/outline"

// The view types are the read-only derived state the UI layer consumes.
// They are computed on demand from the tree and the progress cache and
// carry no authority of their own.

type BlockView struct {
	ID            string                `json:"id"`
	Type          string                `json:"type"`
	Title         string                `json:"title"`
	Order         int                   `json:"order"`
	ContentStatus outline.ContentStatus `json:"content_status"`
	Completed     bool                  `json:"completed"`
}

type LessonView struct {
	ID               string              `json:"id"`
	Title            string              `json:"title"`
	Type             outline.LessonType  `json:"type"`
	EstimatedMinutes int                 `json:"estimated_minutes"`
	State            outline.LessonState `json:"state"`
	BlocksStatus     outline.GenStatus   `json:"blocks_status"`
	BlocksError      string              `json:"blocks_error,omitempty"`
	Blocks           []BlockView         `json:"blocks,omitempty"`
}

type SectionView struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	EstimatedMinutes int          `json:"estimated_minutes"`
	State            SectionState `json:"state"`
	Lessons          []LessonView `json:"lessons"`
}

type CourseView struct {
	ID               string               `json:"id"`
	Title            string               `json:"title"`
	Emoji            string               `json:"emoji,omitempty"`
	Status           outline.CourseStatus `json:"status"`
	OutlineStatus    outline.GenStatus    `json:"outline_status"`
	Percent          int                  `json:"percent"`
	LessonsCompleted int                  `json:"lessons_completed"`
	TotalLessons     int                  `json:"total_lessons"`
	Position         *outline.Position    `json:"position,omitempty"`
	PendingSyncs     int                  `json:"pending_syncs"`
	Sections         []SectionView        `json:"sections"`
}

// BuildView derives the full course view from a session. A course with no
// outline reports zero sections and 0%; callers treat that as "no outline
// available".
func BuildView(sess *Session) CourseView {
	course := sess.Model.Course()
	completed := sess.Cache.CompletedLessons()
	pos := sess.Model.Position()

	view := CourseView{
		ID:               course.ID,
		Title:            course.Title,
		Emoji:            course.Emoji,
		Status:           course.Status,
		OutlineStatus:    course.OutlineStatus,
		Percent:          Percent(course.Outline, completed),
		LessonsCompleted: CompletedLessonCount(course.Outline, completed),
		TotalLessons:     course.Outline.TotalLessonCount(),
		Position:         pos,
		PendingSyncs:     sess.Cache.PendingCount(),
	}

	if course.Outline == nil {
		return view
	}

	for _, sec := range course.Outline.Sections {
		secView := SectionView{
			ID:               sec.ID,
			Title:            sec.Title,
			EstimatedMinutes: sec.EstimatedMinutes,
			State:            SectionStateOf(sec, completed, pos),
		}
		for _, l := range sec.Lessons {
			secView.Lessons = append(secView.Lessons, buildLessonView(sess, course, l, completed, pos))
		}
		view.Sections = append(view.Sections, secView)
	}
	return view
}

func buildLessonView(sess *Session, course outline.Course, l outline.Lesson, completed map[string]bool, pos *outline.Position) LessonView {
	lv := LessonView{
		ID:               l.ID,
		Title:            l.Title,
		Type:             l.Type,
		EstimatedMinutes: l.EstimatedMinutes,
		State:            LessonStateOf(course.Outline, l.ID, completed, pos, course.SequentialUnlock),
		BlocksStatus:     l.BlocksStatus,
	}
	if sess.Generator != nil {
		if status, reason := sess.Generator.Status(l.ID); status != outline.GenPending {
			lv.BlocksStatus = status
			lv.BlocksError = reason
		}
	}
	for _, b := range l.Blocks {
		lv.Blocks = append(lv.Blocks, BlockView{
			ID:            b.ID,
			Type:          b.Type,
			Title:         b.Title,
			Order:         b.Order,
			ContentStatus: b.ContentStatus,
			Completed:     sess.Cache.BlockDone(l.ID, b.ID),
		})
	}
	return lv
}
