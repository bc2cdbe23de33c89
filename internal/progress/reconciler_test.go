package progress_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/p-n-ai/pai-learn/internal/outline"
	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/service"
)

// blockedOutline has one section with two lessons; the first lesson has
// two ready blocks.
func blockedOutline() *outline.Outline {
	return &outline.Outline{Sections: []outline.Section{
		{ID: "s1", Title: "One", Lessons: []outline.Lesson{
			{ID: "l1", Title: "1.1", BlocksStatus: outline.GenReady, Blocks: []outline.Block{
				{ID: "b1", Type: "text", Order: 0, ContentStatus: outline.ContentReady},
				{ID: "b2", Type: "quiz", Order: 1, ContentStatus: outline.ContentReady},
			}},
			{ID: "l2", Title: "1.2"},
		}},
	}}
}

type reconcilerFixture struct {
	model  *outline.Model
	cache  *progress.Cache
	svc    *service.MockProgress
	events *progress.MemoryEventLogger
	rec    *progress.Reconciler
}

func newReconcilerFixture(t *testing.T, o *outline.Outline) *reconcilerFixture {
	t.Helper()
	f := &reconcilerFixture{
		model:  newTestModel(t, o, false),
		cache:  progress.NewCache(),
		svc:    &service.MockProgress{Result: service.LessonResult{Completed: true}},
		events: progress.NewMemoryEventLogger(),
	}
	f.rec = progress.NewReconciler(progress.ReconcilerConfig{
		Model:   f.model,
		Cache:   f.cache,
		Service: f.svc,
		Events:  f.events,
	})
	return f
}

func TestReconciler_CompleteBlock(t *testing.T) {
	f := newReconcilerFixture(t, blockedOutline())

	lessonDone, err := f.rec.CompleteBlock(context.Background(), "l1", "b1")
	if err != nil {
		t.Fatalf("CompleteBlock() error = %v", err)
	}
	if lessonDone {
		t.Error("lessonDone = true with one of two blocks complete")
	}
	if !f.cache.BlockDone("l1", "b1") {
		t.Error("block not recorded locally")
	}
	if got := f.svc.BlockCalls(); len(got) != 1 || got[0] != "l1/b1" {
		t.Errorf("BlockCalls() = %v, want [l1/b1]", got)
	}
}

func TestReconciler_CompleteBlockRepeatIsNoOp(t *testing.T) {
	f := newReconcilerFixture(t, blockedOutline())

	if _, err := f.rec.CompleteBlock(context.Background(), "l1", "b1"); err != nil {
		t.Fatalf("CompleteBlock() error = %v", err)
	}
	if _, err := f.rec.CompleteBlock(context.Background(), "l1", "b1"); err != nil {
		t.Fatalf("repeat CompleteBlock() error = %v", err)
	}

	if got := f.svc.BlockCalls(); len(got) != 1 {
		t.Errorf("BlockCalls() = %v, want a single confirmation", got)
	}
	if got := f.events.EventsOfType(progress.EventBlockCompleted); len(got) != 1 {
		t.Errorf("block_completed events = %d, want 1", len(got))
	}
}

func TestReconciler_LastBlockRollsUpLesson(t *testing.T) {
	f := newReconcilerFixture(t, blockedOutline())
	ctx := context.Background()

	if _, err := f.rec.CompleteBlock(ctx, "l1", "b1"); err != nil {
		t.Fatalf("CompleteBlock(b1) error = %v", err)
	}
	lessonDone, err := f.rec.CompleteBlock(ctx, "l1", "b2")
	if err != nil {
		t.Fatalf("CompleteBlock(b2) error = %v", err)
	}
	if !lessonDone {
		t.Fatal("lessonDone = false after last block")
	}
	if !f.cache.LessonDone("l1") {
		t.Error("lesson not marked complete locally")
	}
	if got := f.events.EventsOfType(progress.EventLessonCompleted); len(got) != 1 {
		t.Errorf("lesson_completed events = %d, want 1", len(got))
	}
}

func TestReconciler_CompleteBlockUnknownLesson(t *testing.T) {
	f := newReconcilerFixture(t, blockedOutline())

	_, err := f.rec.CompleteBlock(context.Background(), "nope", "b1")
	if !errors.Is(err, outline.ErrUnknownLesson) {
		t.Errorf("CompleteBlock() error = %v, want ErrUnknownLesson", err)
	}
	if len(f.svc.BlockCalls()) != 0 {
		t.Error("remote call issued for unknown lesson")
	}
}

func TestReconciler_CompleteBlockSyncFailure(t *testing.T) {
	f := newReconcilerFixture(t, blockedOutline())
	f.svc.BlockErr = errors.New("backend down")

	_, err := f.rec.CompleteBlock(context.Background(), "l1", "b1")
	if !errors.Is(err, progress.ErrSyncFailed) {
		t.Fatalf("CompleteBlock() error = %v, want ErrSyncFailed", err)
	}

	// Local mark survives and a retry is queued.
	if !f.cache.BlockDone("l1", "b1") {
		t.Error("local block mark lost on sync failure")
	}
	if got := f.cache.PendingCount(); got != 1 {
		t.Errorf("PendingCount() = %d, want 1", got)
	}
	if got := f.events.EventsOfType(progress.EventSyncFailed); len(got) != 1 {
		t.Errorf("sync_failed events = %d, want 1", len(got))
	}
}

func TestReconciler_FinishLessonOptimisticAdvance(t *testing.T) {
	f := newReconcilerFixture(t, blockedOutline())

	next, err := f.rec.FinishLesson(context.Background(), "l1")
	if err != nil {
		t.Fatalf("FinishLesson() error = %v", err)
	}
	want := &outline.Position{SectionID: "s1", LessonID: "l2"}
	if next == nil || *next != *want {
		t.Errorf("FinishLesson() next = %+v, want %+v", next, want)
	}
	if diff := cmp.Diff(want, f.model.Position()); diff != "" {
		t.Errorf("position mismatch (-want +got):\n%s", diff)
	}
	if !f.cache.LessonDone("l1") {
		t.Error("lesson not recorded complete")
	}
	if got := f.svc.LessonCalls(); len(got) != 1 || got[0] != "l1" {
		t.Errorf("LessonCalls() = %v, want [l1]", got)
	}
}

func TestReconciler_FinishLessonServerRejects(t *testing.T) {
	f := newReconcilerFixture(t, blockedOutline())
	f.svc.Result = service.LessonResult{Completed: false}

	next, err := f.rec.FinishLesson(context.Background(), "l1")
	if err != nil {
		t.Fatalf("FinishLesson() error = %v", err)
	}

	// Server wins: completion revoked, position back on the lesson.
	if f.cache.LessonDone("l1") {
		t.Error("lesson still complete after server rejection")
	}
	want := &outline.Position{SectionID: "s1", LessonID: "l1"}
	if next == nil || *next != *want {
		t.Errorf("next = %+v, want %+v", next, want)
	}
	if got := f.events.EventsOfType(progress.EventSyncConflict); len(got) != 1 {
		t.Errorf("sync_conflict events = %d, want 1", len(got))
	}
}

func TestReconciler_FinishLessonServerPicksDifferentNext(t *testing.T) {
	o := &outline.Outline{Sections: []outline.Section{
		{ID: "s1", Title: "One", Lessons: []outline.Lesson{
			{ID: "l1"}, {ID: "l2"}, {ID: "review"},
		}},
	}}
	f := newReconcilerFixture(t, o)
	f.svc.Result = service.LessonResult{
		Completed:  true,
		NextLesson: &outline.Position{SectionID: "s1", LessonID: "review"},
	}

	next, err := f.rec.FinishLesson(context.Background(), "l1")
	if err != nil {
		t.Fatalf("FinishLesson() error = %v", err)
	}
	if next == nil || next.LessonID != "review" {
		t.Errorf("next = %+v, want server's choice review", next)
	}
	if got := f.events.EventsOfType(progress.EventSyncConflict); len(got) != 1 {
		t.Errorf("sync_conflict events = %d, want 1", len(got))
	}
}

func TestReconciler_FinishLessonServerNextUnknownLocally(t *testing.T) {
	f := newReconcilerFixture(t, blockedOutline())
	f.svc.Result = service.LessonResult{
		Completed:  true,
		NextLesson: &outline.Position{SectionID: "s9", LessonID: "ghost"},
	}

	next, err := f.rec.FinishLesson(context.Background(), "l1")
	if err != nil {
		t.Fatalf("FinishLesson() error = %v", err)
	}

	// The server's lesson does not resolve here; the optimistic position
	// stands and a notice is raised.
	if next == nil || next.LessonID != "l2" {
		t.Errorf("next = %+v, want optimistic l2", next)
	}
	if pos := f.model.Position(); pos == nil || pos.LessonID != "l2" {
		t.Errorf("position = %+v, want l2", pos)
	}
	if got := f.events.EventsOfType(progress.EventSyncConflict); len(got) != 1 {
		t.Errorf("sync_conflict events = %d, want 1", len(got))
	}
}

func TestReconciler_FinishLessonMergesServerCompletedSet(t *testing.T) {
	f := newReconcilerFixture(t, blockedOutline())

	// "stale" was confirmed in an earlier sync the server has since
	// walked back; l2 is a local completion still awaiting confirmation.
	f.cache.ConfirmLesson("stale")
	f.cache.MarkLessonLocal("l2")
	f.svc.Result = service.LessonResult{
		Completed:        true,
		CompletedLessons: []string{"l1"},
	}

	if _, err := f.rec.FinishLesson(context.Background(), "l1"); err != nil {
		t.Fatalf("FinishLesson() error = %v", err)
	}

	if !f.cache.LessonDone("l1") {
		t.Error("l1 not confirmed after server verdict")
	}
	if f.cache.LessonDone("stale") {
		t.Error("entry absent from the server set survived the merge")
	}
	if !f.cache.LessonDone("l2") {
		t.Error("unconfirmed local completion lost in the merge")
	}
}

func TestReconciler_FinishLessonSyncFailure(t *testing.T) {
	f := newReconcilerFixture(t, blockedOutline())
	f.svc.LessonErr = errors.New("timeout")

	next, err := f.rec.FinishLesson(context.Background(), "l1")
	if !errors.Is(err, progress.ErrSyncFailed) {
		t.Fatalf("FinishLesson() error = %v, want ErrSyncFailed", err)
	}

	// Optimistic state holds until the retry resolves.
	if next == nil || next.LessonID != "l2" {
		t.Errorf("next = %+v, want optimistic l2", next)
	}
	if !f.cache.LessonDone("l1") {
		t.Error("optimistic completion lost on sync failure")
	}
	if got := f.cache.PendingCount(); got != 1 {
		t.Errorf("PendingCount() = %d, want 1", got)
	}
}

func TestReconciler_ResolvePendingCorrectsPosition(t *testing.T) {
	f := newReconcilerFixture(t, blockedOutline())
	f.svc.LessonErr = errors.New("timeout")

	if _, err := f.rec.FinishLesson(context.Background(), "l1"); !errors.Is(err, progress.ErrSyncFailed) {
		t.Fatalf("FinishLesson() error = %v, want ErrSyncFailed", err)
	}

	// The late server verdict rejects the completion.
	got := f.rec.ResolvePending("l1", service.LessonResult{Completed: false})
	if got == nil || got.LessonID != "l1" {
		t.Errorf("ResolvePending() = %+v, want position back on l1", got)
	}
	if f.cache.LessonDone("l1") {
		t.Error("completion survived the late rejection")
	}
}

func TestReconciler_FlushPending(t *testing.T) {
	f := newReconcilerFixture(t, blockedOutline())
	f.svc.BlockErr = errors.New("backend down")

	if _, err := f.rec.CompleteBlock(context.Background(), "l1", "b1"); !errors.Is(err, progress.ErrSyncFailed) {
		t.Fatalf("CompleteBlock() error = %v, want ErrSyncFailed", err)
	}

	// Backend recovers; the retry drains the queue.
	f.svc.BlockErr = nil
	if err := f.rec.FlushPending(context.Background()); err != nil {
		t.Fatalf("FlushPending() error = %v", err)
	}
	if got := f.cache.PendingCount(); got != 0 {
		t.Errorf("PendingCount() = %d, want 0", got)
	}
	if got := f.svc.BlockCalls(); len(got) != 2 {
		t.Errorf("BlockCalls() = %v, want 2 calls", got)
	}
}

func TestReconciler_FlushPendingRequeuesFailures(t *testing.T) {
	f := newReconcilerFixture(t, blockedOutline())
	f.svc.BlockErr = errors.New("backend down")

	if _, err := f.rec.CompleteBlock(context.Background(), "l1", "b1"); err == nil {
		t.Fatal("CompleteBlock() error = nil, want sync failure")
	}

	if err := f.rec.FlushPending(context.Background()); !errors.Is(err, progress.ErrSyncFailed) {
		t.Fatalf("FlushPending() error = %v, want ErrSyncFailed", err)
	}
	if got := f.cache.PendingCount(); got != 1 {
		t.Errorf("PendingCount() = %d, want 1 (failed op re-queued)", got)
	}
}
