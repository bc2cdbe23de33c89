package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/p-n-ai/pai-learn/internal/generation"
	"github.com/p-n-ai/pai-learn/internal/outline"
	"github.com/p-n-ai/pai-learn/internal/service"
)

// Session bundles the live state machine parts for one course: the model,
// the progress cache, and the single mutation paths the UI layer may call.
type Session struct {
	CourseID   string
	Model      *outline.Model
	Cache      *Cache
	Tracker    *Tracker
	Reconciler *Reconciler
	Generator  *generation.Coordinator
}

// ManagerConfig holds dependencies for the Manager.
type ManagerConfig struct {
	Store             CourseStore
	Snapshots         *SnapshotCache // optional read-through cache
	Curriculum        service.Curriculum
	Progress          service.Progress
	Events            EventLogger
	GenerationTimeout time.Duration
}

// Manager owns the per-course sessions. It loads courses from the
// snapshot cache or durable store, builds the session lazily, and
// persists after every mutation. All tree and position mutations flow
// through the session's reconciler and model entry points.
type Manager struct {
	store      CourseStore
	snapshots  *SnapshotCache
	curriculum service.Curriculum
	progress   service.Progress
	events     EventLogger
	genTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager.
func NewManager(cfg ManagerConfig) *Manager {
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	return &Manager{
		store:      store,
		snapshots:  cfg.Snapshots,
		curriculum: cfg.Curriculum,
		progress:   cfg.Progress,
		events:     events,
		genTimeout: cfg.GenerationTimeout,
		sessions:   make(map[string]*Session),
	}
}

// StartCourse creates a course for a new learning goal and requests its
// outline from the content service.
func (m *Manager) StartCourse(ctx context.Context, title, emoji string, sequential bool) (outline.Course, error) {
	course := outline.Course{
		Title:            title,
		Emoji:            emoji,
		Status:           outline.CourseActive,
		OutlineStatus:    outline.GenPending,
		SequentialUnlock: sequential,
	}

	id, err := m.store.SaveCourse(ctx, course)
	if err != nil {
		return outline.Course{}, fmt.Errorf("create course: %w", err)
	}
	course.ID = id

	o, pending, err := m.curriculum.FetchOutline(ctx, id)
	switch {
	case err != nil:
		course.OutlineStatus = outline.GenError
		slog.Warn("outline fetch failed", "course_id", id, "error", err)
	case pending:
		course.OutlineStatus = outline.GenGenerating
	default:
		course.Outline = o
		course.OutlineStatus = outline.GenReady
		course.TotalLessons = o.TotalLessonCount()
	}

	if _, err := m.store.SaveCourse(ctx, course); err != nil {
		return outline.Course{}, fmt.Errorf("save course: %w", err)
	}
	m.cacheSnapshot(ctx, course)
	return course, nil
}

// Session returns the live session for a course, building it on first
// use from the snapshot cache or the durable store.
func (m *Manager) Session(ctx context.Context, courseID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[courseID]; ok {
		return sess, nil
	}

	course, err := m.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	cache, err := m.store.GetProgress(ctx, courseID)
	if err != nil {
		return nil, err
	}

	model, err := outline.NewModel(course)
	if err != nil {
		return nil, err
	}

	tracker := NewTracker(model, cache)
	sess := &Session{
		CourseID: courseID,
		Model:    model,
		Cache:    cache,
		Tracker:  tracker,
		Reconciler: NewReconciler(ReconcilerConfig{
			Model:   model,
			Cache:   cache,
			Tracker: tracker,
			Service: m.progress,
			Events:  m.events,
		}),
	}
	sess.Generator = generation.NewCoordinator(generation.Config{
		Service: m.curriculum,
		Timeout: m.genTimeout,
		Apply: func(lessonID string, blocks []outline.Block) error {
			existing, err := model.BlocksOf(lessonID)
			if err != nil {
				return err
			}
			merged := generation.Merge(existing, blocks)
			return model.UpdateLessonBlocks(lessonID, merged, outline.GenReady)
		},
		Viewing: func() string {
			if pos := model.Position(); pos != nil {
				return pos.LessonID
			}
			return ""
		},
		Notify: func(lessonID string) {
			slog.Debug("generated blocks ready for current lesson", "lesson_id", lessonID)
		},
		OnError: func(lessonID, reason string) {
			m.logEvent(Event{
				CourseID:  courseID,
				LessonID:  lessonID,
				EventType: EventGenerationFailed,
				Data:      map[string]any{"error": reason},
			})
		},
	})

	// Lessons whose blocks were generated before this load must not be
	// requested again.
	for _, sec := range model.Sections() {
		for _, lesson := range sec.Lessons {
			if lesson.BlocksStatus == outline.GenReady {
				sess.Generator.Seed(lesson.ID, outline.GenReady)
			}
		}
	}

	m.sessions[courseID] = sess
	return sess, nil
}

// Save persists a session's course snapshot and progress cache.
func (m *Manager) Save(ctx context.Context, sess *Session) error {
	course := sess.Model.Course()
	completed := sess.Cache.CompletedLessons()
	course.LessonsCompleted = CompletedLessonCount(course.Outline, completed)
	course.Progress = Percent(course.Outline, completed)

	if _, err := m.store.SaveCourse(ctx, course); err != nil {
		return fmt.Errorf("save course: %w", err)
	}
	if err := m.store.SaveProgress(ctx, sess.CourseID, sess.Cache); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	m.cacheSnapshot(ctx, course)
	return nil
}

// RegenerateOutline asks the content service for a fresh outline and
// installs it. A position whose lesson no longer exists is cleared and a
// position_invalidated notice raised; the UI routes the learner back to
// outline selection.
func (m *Manager) RegenerateOutline(ctx context.Context, sess *Session) error {
	newOutline, err := m.curriculum.RegenerateOutline(ctx, sess.CourseID)
	if err != nil {
		return fmt.Errorf("regenerate outline: %w", err)
	}

	kept, err := sess.Model.ReplaceOutline(newOutline)
	if err != nil {
		return err
	}

	m.logEvent(Event{
		CourseID:  sess.CourseID,
		EventType: EventOutlineReplaced,
		Data:      map[string]any{"position_kept": kept},
	})
	if !kept {
		m.logEvent(Event{
			CourseID:  sess.CourseID,
			EventType: EventPositionInvalidated,
		})
	}

	if m.snapshots != nil {
		if err := m.snapshots.Invalidate(ctx, sess.CourseID); err != nil {
			slog.Warn("snapshot invalidation failed", "course_id", sess.CourseID, "error", err)
		}
	}
	return m.Save(ctx, sess)
}

// RefreshOutline polls the content service for a course whose outline was
// still pending at creation time.
func (m *Manager) RefreshOutline(ctx context.Context, sess *Session) (ready bool, err error) {
	course := sess.Model.Course()
	if course.OutlineStatus == outline.GenReady {
		return true, nil
	}

	o, pending, err := m.curriculum.FetchOutline(ctx, sess.CourseID)
	if err != nil {
		return false, fmt.Errorf("fetch outline: %w", err)
	}
	if pending {
		return false, nil
	}

	if _, err := sess.Model.ReplaceOutline(o); err != nil {
		return false, err
	}
	return true, m.Save(ctx, sess)
}

// ApplyPushedBlocks merges a block update pushed over the update feed
// into the owning course. Updates for lessons no longer in the outline
// (e.g. after a regeneration) are dropped silently; the content service
// caches them server-side.
func (m *Manager) ApplyPushedBlocks(ctx context.Context, update generation.BlockUpdate) error {
	sess, err := m.Session(ctx, update.CourseID)
	if err != nil {
		return err
	}
	if err := sess.Generator.ApplyExternal(update.LessonID, update.Blocks); err != nil {
		if errors.Is(err, outline.ErrUnknownLesson) {
			return nil
		}
		return err
	}
	return m.Save(ctx, sess)
}

func (m *Manager) loadCourse(ctx context.Context, courseID string) (outline.Course, error) {
	if m.snapshots != nil {
		course, found, err := m.snapshots.Get(ctx, courseID)
		if err != nil {
			slog.Warn("snapshot cache read failed, falling back to store", "course_id", courseID, "error", err)
		} else if found {
			return course, nil
		}
	}
	return m.store.GetCourse(ctx, courseID)
}

func (m *Manager) cacheSnapshot(ctx context.Context, course outline.Course) {
	if m.snapshots == nil {
		return
	}
	if err := m.snapshots.Set(ctx, course); err != nil {
		slog.Warn("snapshot cache write failed", "course_id", course.ID, "error", err)
	}
}

func (m *Manager) logEvent(event Event) {
	if err := m.events.LogEvent(event); err != nil {
		slog.Warn("failed to log progress event", "type", event.EventType, "error", err)
	}
}
