package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/p-n-ai/pai-learn/internal/outline"
	"github.com/p-n-ai/pai-learn/internal/service"
)

// ReconcilerConfig holds dependencies for a course's reconciler.
type ReconcilerConfig struct {
	Model   *outline.Model
	Cache   *Cache
	Tracker *Tracker
	Service service.Progress
	Events  EventLogger
}

// Reconciler is the single place where "the user finished X" is recorded.
// It applies completions optimistically, confirms them with the progress
// service, and resolves disagreements with a server-wins overwrite. One
// reconciler exists per course; its mutex gives the course a single
// writer.
type Reconciler struct {
	model   *outline.Model
	cache   *Cache
	tracker *Tracker
	svc     service.Progress
	events  EventLogger
	mu      sync.Mutex
}

// NewReconciler creates a reconciler for one course.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}
	tracker := cfg.Tracker
	if tracker == nil {
		tracker = NewTracker(cfg.Model, cfg.Cache)
	}
	return &Reconciler{
		model:   cfg.Model,
		cache:   cfg.Cache,
		tracker: tracker,
		svc:     cfg.Service,
		events:  events,
	}
}

// CompleteBlock marks a block complete: locally first, then confirmed with
// the progress service. When the last block of a lesson completes, the
// lesson is marked complete locally as well (the remote lesson verdict
// comes from FinishLesson). Repeat calls for an already-completed block
// are a no-op and issue no remote call. A failed confirmation keeps the
// local mark, queues a retry, and returns ErrSyncFailed.
func (r *Reconciler) CompleteBlock(ctx context.Context, lessonID, blockID string) (lessonDone bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, lesson, ok := r.model.FindLesson(lessonID)
	if !ok {
		return false, fmt.Errorf("%w: %s", outline.ErrUnknownLesson, lessonID)
	}

	if !r.cache.MarkBlock(lessonID, blockID) {
		return r.cache.LessonDone(lessonID), nil
	}

	r.logEvent(Event{
		LessonID:  lessonID,
		EventType: EventBlockCompleted,
		Data:      map[string]any{"block_id": blockID},
	})

	if r.allBlocksDone(lesson) && r.cache.MarkLessonLocal(lessonID) {
		lessonDone = true
		r.logEvent(Event{
			LessonID:  lessonID,
			EventType: EventLessonCompleted,
			Data:      map[string]any{"optimistic": true},
		})
	}

	if err := r.svc.ConfirmBlockComplete(ctx, lessonID, blockID); err != nil {
		r.cache.QueuePending(PendingOp{Kind: PendingBlock, LessonID: lessonID, BlockID: blockID})
		r.logEvent(Event{
			LessonID:  lessonID,
			EventType: EventSyncFailed,
			Data:      map[string]any{"block_id": blockID, "error": err.Error()},
		})
		return lessonDone, fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}

	return lessonDone, nil
}

// FinishLesson records a lesson completion and returns the position to
// navigate to. The client's document-order computation is applied
// optimistically; the server's verdict, when it arrives, wins. A remote
// failure keeps the optimistic state, queues a retry, and still returns
// the optimistic position together with ErrSyncFailed.
func (r *Reconciler) FinishLesson(ctx context.Context, lessonID string) (*outline.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sec, _, ok := r.model.FindLesson(lessonID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", outline.ErrUnknownLesson, lessonID)
	}

	if r.cache.MarkLessonLocal(lessonID) {
		r.logEvent(Event{
			LessonID:  lessonID,
			EventType: EventLessonCompleted,
			Data:      map[string]any{"optimistic": true},
		})
	}

	// Optimistic fallback: next lesson in document order.
	optimistic := r.tracker.NextAfter(outline.Position{SectionID: sec.ID, LessonID: lessonID})
	if optimistic != nil {
		r.model.SetPosition(optimistic)
	}

	result, err := r.svc.ConfirmLessonComplete(ctx, lessonID)
	if err != nil {
		r.cache.QueuePending(PendingOp{Kind: PendingLesson, LessonID: lessonID})
		r.logEvent(Event{
			LessonID:  lessonID,
			EventType: EventSyncFailed,
			Data:      map[string]any{"error": err.Error()},
		})
		return optimistic, fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}

	return r.applyLessonResult(lessonID, optimistic, result), nil
}

// applyLessonResult reconciles the server's verdict with the optimistic
// state recorded by FinishLesson. Server wins on every disagreement;
// discrepancies are logged as sync_conflict notices.
func (r *Reconciler) applyLessonResult(lessonID string, optimistic *outline.Position, result service.LessonResult) *outline.Position {
	if !result.Completed {
		// A dependent quiz failed or similar: the lesson is not done.
		r.cache.RevokeLesson(lessonID)
		sec, _, ok := r.model.FindLesson(lessonID)
		pos := (*outline.Position)(nil)
		if ok {
			pos = &outline.Position{SectionID: sec.ID, LessonID: lessonID}
		}
		r.model.SetPosition(pos)
		r.logEvent(Event{
			LessonID:  lessonID,
			EventType: EventSyncConflict,
			Data:      map[string]any{"reason": "server reports lesson incomplete"},
		})
		slog.Info("lesson completion rejected by server", "lesson_id", lessonID)
		return pos
	}

	if result.CompletedLessons != nil {
		r.cache.MergeConfirmed(result.CompletedLessons)
	}
	r.cache.ConfirmLesson(lessonID)
	r.model.SetSummary(result.Summary.Progress, result.Summary.LessonsCompleted, result.Summary.TotalLessons)

	// The server's choice must resolve in the local outline before it can
	// become the position. A known lesson is re-homed to its local
	// section; an unknown one (stale outline on either side) falls back
	// to the optimistic position with a notice.
	next := result.NextLesson
	if next != nil {
		if sec, _, ok := r.model.FindLesson(next.LessonID); ok {
			cp := *next
			cp.SectionID = sec.ID
			next = &cp
		} else {
			r.logEvent(Event{
				LessonID:  lessonID,
				EventType: EventSyncConflict,
				Data: map[string]any{
					"reason":      "server next lesson not in local outline",
					"server_next": next.LessonID,
				},
			})
			next = nil
		}
	}
	if next == nil {
		next = optimistic
	} else if optimistic == nil || next.LessonID != optimistic.LessonID {
		r.logEvent(Event{
			LessonID:  lessonID,
			EventType: EventSyncConflict,
			Data: map[string]any{
				"reason":      "server chose a different next lesson",
				"server_next": next.LessonID,
			},
		})
	}
	r.model.SetPosition(next)
	return next
}

// ResolvePending replays a late ConfirmLessonComplete result, e.g. one
// that timed out in FinishLesson and resolved afterwards. The position is
// corrected to the server's choice and a notice raised if it differs from
// where the learner was optimistically routed.
func (r *Reconciler) ResolvePending(lessonID string, result service.LessonResult) *outline.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyLessonResult(lessonID, r.model.Position(), result)
}

// FlushPending retries queued confirmations. Ops that fail again are
// re-queued; the first error is returned.
func (r *Reconciler) FlushPending(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ops := r.cache.TakePending()
	var firstErr error
	for _, op := range ops {
		var err error
		switch op.Kind {
		case PendingBlock:
			err = r.svc.ConfirmBlockComplete(ctx, op.LessonID, op.BlockID)
		case PendingLesson:
			var result service.LessonResult
			result, err = r.svc.ConfirmLessonComplete(ctx, op.LessonID)
			if err == nil {
				r.applyLessonResult(op.LessonID, r.model.Position(), result)
			}
		}
		if err != nil {
			r.cache.QueuePending(op)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		return fmt.Errorf("%w: %v", ErrSyncFailed, firstErr)
	}
	return nil
}

// allBlocksDone reports whether every generated block of the lesson is
// marked complete. Lessons whose blocks are not generated yet never
// roll up.
func (r *Reconciler) allBlocksDone(lesson outline.Lesson) bool {
	if lesson.BlocksStatus != outline.GenReady || len(lesson.Blocks) == 0 {
		return false
	}
	done := r.cache.BlocksDone(lesson.ID)
	for _, b := range lesson.Blocks {
		if !done[b.ID] {
			return false
		}
	}
	return true
}

func (r *Reconciler) logEvent(event Event) {
	event.CourseID = r.model.Course().ID
	if err := r.events.LogEvent(event); err != nil {
		slog.Warn("failed to log progress event", "type", event.EventType, "error", err)
	}
}
