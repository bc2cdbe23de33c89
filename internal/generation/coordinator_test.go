package generation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/p-n-ai/pai-learn/internal/outline"
	"github.com/p-n-ai/pai-learn/internal/service"
)

// applyRecorder captures merged blocks per lesson.
type applyRecorder struct {
	mu     sync.Mutex
	calls  int
	blocks map[string][]outline.Block
	err    error
}

func newApplyRecorder() *applyRecorder {
	return &applyRecorder{blocks: make(map[string][]outline.Block)}
}

func (a *applyRecorder) apply(lessonID string, blocks []outline.Block) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.calls++
	a.blocks[lessonID] = blocks
	return nil
}

func (a *applyRecorder) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func waitStatus(t *testing.T, c *Coordinator, lessonID string, want outline.GenStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := c.Status(lessonID); got == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	got, reason := c.Status(lessonID)
	t.Fatalf("status = %q (reason %q), want %q", got, reason, want)
}

func genBlocks() []outline.Block {
	return []outline.Block{
		{ID: "b1", Type: "text", Order: 0, ContentStatus: outline.ContentReady, Content: json.RawMessage(`{"text":"hi"}`)},
		{ID: "b2", Type: "quiz", Order: 1, ContentStatus: outline.ContentReady},
	}
}

func TestGenerateIfNeeded_ConcurrentCallsIssueOneRequest(t *testing.T) {
	svc := &service.MockCurriculum{Blocks: genBlocks(), Delay: 20 * time.Millisecond}
	rec := newApplyRecorder()
	c := NewCoordinator(Config{Service: svc, Apply: rec.apply})

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.GenerateIfNeeded(context.Background(), "l1")
		}()
	}
	wg.Wait()
	waitStatus(t, c, "l1", outline.GenReady)

	if got := svc.GenerateCalls(); got != 1 {
		t.Errorf("GenerateCalls() = %d, want 1", got)
	}
	if got := rec.callCount(); got != 1 {
		t.Errorf("apply calls = %d, want 1", got)
	}
}

func TestSeed_ReadyLessonIssuesNoRequest(t *testing.T) {
	svc := &service.MockCurriculum{Blocks: genBlocks()}
	rec := newApplyRecorder()
	c := NewCoordinator(Config{Service: svc, Apply: rec.apply})

	c.Seed("l1", outline.GenReady)
	c.GenerateIfNeeded(context.Background(), "l1")

	if status, _ := c.Status("l1"); status != outline.GenReady {
		t.Fatalf("Status(l1) = %q, want ready", status)
	}
	if got := svc.GenerateCalls(); got != 0 {
		t.Errorf("GenerateCalls() = %d, want 0", got)
	}
}

func TestSeed_DoesNotOverrideLiveState(t *testing.T) {
	svc := &service.MockCurriculum{Blocks: genBlocks()}
	rec := newApplyRecorder()
	c := NewCoordinator(Config{Service: svc, Apply: rec.apply})

	c.GenerateIfNeeded(context.Background(), "l1")
	waitStatus(t, c, "l1", outline.GenReady)

	c.Seed("l1", outline.GenPending)
	if status, _ := c.Status("l1"); status != outline.GenReady {
		t.Errorf("Status(l1) = %q after seed, want ready", status)
	}
}

func TestGenerateIfNeeded_ReadyLessonIsNoOp(t *testing.T) {
	svc := &service.MockCurriculum{Blocks: genBlocks()}
	rec := newApplyRecorder()
	c := NewCoordinator(Config{Service: svc, Apply: rec.apply})

	c.GenerateIfNeeded(context.Background(), "l1")
	waitStatus(t, c, "l1", outline.GenReady)

	c.GenerateIfNeeded(context.Background(), "l1")
	if got := svc.GenerateCalls(); got != 1 {
		t.Errorf("GenerateCalls() = %d after repeat, want 1", got)
	}
}

func TestGenerateIfNeeded_IndependentLessons(t *testing.T) {
	svc := &service.MockCurriculum{Blocks: genBlocks()}
	rec := newApplyRecorder()
	c := NewCoordinator(Config{Service: svc, Apply: rec.apply})

	c.GenerateIfNeeded(context.Background(), "l1")
	c.GenerateIfNeeded(context.Background(), "l2")
	waitStatus(t, c, "l1", outline.GenReady)
	waitStatus(t, c, "l2", outline.GenReady)

	if got := svc.GenerateCalls(); got != 2 {
		t.Errorf("GenerateCalls() = %d, want 2", got)
	}
}

func TestStaleResponseDropped(t *testing.T) {
	rec := newApplyRecorder()
	c := NewCoordinator(Config{Service: &service.MockCurriculum{}, Apply: rec.apply})

	// A newer request (seq 2) is in flight when the seq 1 response lands.
	c.mu.Lock()
	c.seq = 2
	c.lessons["l1"] = &lessonState{status: outline.GenGenerating, issuedSeq: 2}
	c.mu.Unlock()

	c.succeed("l1", 1, genBlocks())
	if got := rec.callCount(); got != 0 {
		t.Errorf("stale response applied, apply calls = %d", got)
	}
	if got, _ := c.Status("l1"); got != outline.GenGenerating {
		t.Errorf("status = %q, want generating", got)
	}

	c.fail("l1", 1, errors.New("late failure"))
	if got, _ := c.Status("l1"); got != outline.GenGenerating {
		t.Errorf("status after stale failure = %q, want generating", got)
	}

	// The current response still applies.
	c.succeed("l1", 2, genBlocks())
	if got, _ := c.Status("l1"); got != outline.GenReady {
		t.Errorf("status = %q, want ready", got)
	}
}

func TestGenerationFailureAndRetry(t *testing.T) {
	svc := &service.MockCurriculum{Err: errors.New("model overloaded")}
	rec := newApplyRecorder()
	c := NewCoordinator(Config{Service: svc, Apply: rec.apply})
	ctx := context.Background()

	c.GenerateIfNeeded(ctx, "l1")
	waitStatus(t, c, "l1", outline.GenError)
	if _, reason := c.Status("l1"); reason == "" {
		t.Error("error state lost its reason")
	}

	// Errored lessons are not regenerated implicitly.
	c.GenerateIfNeeded(ctx, "l1")
	waitStatus(t, c, "l1", outline.GenError)
	if got := svc.GenerateCalls(); got != 1 {
		t.Errorf("GenerateCalls() = %d after implicit repeat, want 1", got)
	}

	svc.Err = nil
	if err := c.Retry(ctx, "l1"); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	waitStatus(t, c, "l1", outline.GenReady)

	if err := c.Retry(ctx, "l1"); err == nil {
		t.Error("Retry() from ready state succeeded, want error")
	}
}

func TestGenerationTimeout(t *testing.T) {
	svc := &service.MockCurriculum{Blocks: genBlocks(), Delay: time.Second}
	rec := newApplyRecorder()
	c := NewCoordinator(Config{Service: svc, Apply: rec.apply, Timeout: 20 * time.Millisecond})

	c.GenerateIfNeeded(context.Background(), "l1")
	waitStatus(t, c, "l1", outline.GenError)
	if got := rec.callCount(); got != 0 {
		t.Errorf("apply calls = %d after timeout, want 0", got)
	}
}

func TestOnErrorHookFiresOnFailure(t *testing.T) {
	var mu sync.Mutex
	var reported []string

	svc := &service.MockCurriculum{Err: errors.New("model overloaded")}
	rec := newApplyRecorder()
	c := NewCoordinator(Config{
		Service: svc,
		Apply:   rec.apply,
		OnError: func(lessonID, reason string) {
			mu.Lock()
			reported = append(reported, lessonID+": "+reason)
			mu.Unlock()
		},
	})

	c.GenerateIfNeeded(context.Background(), "l1")
	waitStatus(t, c, "l1", outline.GenError)

	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 {
		t.Fatalf("OnError fired %d times, want 1", len(reported))
	}
	if want := "l1: model overloaded"; reported[0] != want {
		t.Errorf("OnError report = %q, want %q", reported[0], want)
	}
}

func TestApplyFailureEntersErrorState(t *testing.T) {
	rec := newApplyRecorder()
	rec.err = errors.New("unknown lesson")
	c := NewCoordinator(Config{Service: &service.MockCurriculum{Blocks: genBlocks()}, Apply: rec.apply})

	c.GenerateIfNeeded(context.Background(), "l1")
	waitStatus(t, c, "l1", outline.GenError)
}

func TestNotifyOnlyForViewedLesson(t *testing.T) {
	var mu sync.Mutex
	var notified []string

	svc := &service.MockCurriculum{Blocks: genBlocks()}
	rec := newApplyRecorder()
	c := NewCoordinator(Config{
		Service: svc,
		Apply:   rec.apply,
		Viewing: func() string { return "l1" },
		Notify: func(lessonID string) {
			mu.Lock()
			notified = append(notified, lessonID)
			mu.Unlock()
		},
	})

	c.GenerateIfNeeded(context.Background(), "l1")
	c.GenerateIfNeeded(context.Background(), "l2")
	waitStatus(t, c, "l1", outline.GenReady)
	waitStatus(t, c, "l2", outline.GenReady)

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 1 || notified[0] != "l1" {
		t.Errorf("notified = %v, want [l1] only", notified)
	}
}

func TestApplyExternal(t *testing.T) {
	rec := newApplyRecorder()
	c := NewCoordinator(Config{Service: &service.MockCurriculum{}, Apply: rec.apply})

	if err := c.ApplyExternal("l1", genBlocks()); err != nil {
		t.Fatalf("ApplyExternal() error = %v", err)
	}
	if got, _ := c.Status("l1"); got != outline.GenReady {
		t.Errorf("status = %q, want ready", got)
	}
	if got := rec.callCount(); got != 1 {
		t.Errorf("apply calls = %d, want 1", got)
	}
}

func TestMerge_ReplacesByIDWithoutDuplicating(t *testing.T) {
	existing := []outline.Block{
		{ID: "b1", Type: "text", Order: 0, Content: json.RawMessage(`{"v":1}`)},
		{ID: "b2", Type: "quiz", Order: 1},
	}
	generated := []outline.Block{
		{ID: "b1", Type: "text", Order: 5, Content: json.RawMessage(`{"v":2}`)},
		{ID: "b3", Type: "text", Order: 2},
	}

	merged := Merge(existing, generated)
	if len(merged) != 3 {
		t.Fatalf("len(merged) = %d, want 3", len(merged))
	}

	// b1 was replaced in place: new content, original order slot.
	want := []outline.Block{
		{ID: "b1", Type: "text", Order: 0, Content: json.RawMessage(`{"v":2}`)},
		{ID: "b2", Type: "quiz", Order: 1},
		{ID: "b3", Type: "text", Order: 2},
	}
	if diff := cmp.Diff(want, merged); diff != "" {
		t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_SkipsUnchangedFingerprint(t *testing.T) {
	existing := []outline.Block{
		{ID: "b1", Type: "text", Title: "Original", Order: 0, Content: json.RawMessage(`{"v":1}`)},
	}
	// Same id, type and content; the fingerprint matches even though the
	// title differs, so the existing block is kept untouched.
	generated := []outline.Block{
		{ID: "b1", Type: "text", Title: "Regenerated", Order: 0, Content: json.RawMessage(`{"v":1}`)},
	}

	merged := Merge(existing, generated)
	if len(merged) != 1 || merged[0].Title != "Original" {
		t.Errorf("Merge() = %+v, want untouched original block", merged)
	}
}

func TestMerge_AppendsInOrder(t *testing.T) {
	existing := []outline.Block{
		{ID: "b1", Order: 0},
		{ID: "b3", Order: 4},
	}
	generated := []outline.Block{
		{ID: "b2", Order: 2},
		{ID: "b4", Order: 6},
	}

	merged := Merge(existing, generated)
	ids := make([]string, len(merged))
	for i, b := range merged {
		ids[i] = b.ID
	}
	want := []string{"b1", "b2", "b3", "b4"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("merged order mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_OrderTieKeepsExistingFirst(t *testing.T) {
	existing := []outline.Block{{ID: "b1", Order: 1}}
	generated := []outline.Block{{ID: "b2", Order: 1}}

	merged := Merge(existing, generated)
	if len(merged) != 2 || merged[0].ID != "b1" {
		t.Errorf("Merge() = %+v, want existing block first on tie", merged)
	}
}

func TestMerge_EmptyInputs(t *testing.T) {
	if got := Merge(nil, nil); len(got) != 0 {
		t.Errorf("Merge(nil, nil) = %+v, want empty", got)
	}
	blocks := genBlocks()
	if got := Merge(nil, blocks); len(got) != len(blocks) {
		t.Errorf("Merge(nil, blocks) = %+v, want all generated blocks", got)
	}
}
