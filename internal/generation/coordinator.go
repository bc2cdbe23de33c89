// Package generation manages on-demand content generation for lesson
// blocks: one small state machine per lesson, request de-duplication,
// and ordered application of responses.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/p-n-ai/pai-learn/internal/outline"
	"github.com/p-n-ai/pai-learn/internal/service"
)

// ErrGenerationFailed marks a failed or timed-out generation request. The
// lesson stays in the error state until the learner retries.
var ErrGenerationFailed = errors.New("content generation failed")

const defaultTimeout = 90 * time.Second

// lessonState is the per-lesson generation state machine:
// pending -> generating -> ready | error. Each lesson is independent.
type lessonState struct {
	status    outline.GenStatus
	issuedSeq uint64 // sequence of the newest request issued
	reason    string // last error, for display
}

// Config holds dependencies for a Coordinator.
type Config struct {
	Service service.Curriculum
	// Apply merges generated blocks into the curriculum tree. Called
	// under the coordinator lock, exactly once per applied response.
	Apply func(lessonID string, blocks []outline.Block) error
	// Notify, if set, fires after a successful merge for the lesson the
	// learner is currently viewing. Merges for other lessons are cached
	// silently.
	Notify func(lessonID string)
	// Viewing reports the lesson the learner currently has open.
	Viewing func() string
	// OnError, if set, fires when a lesson enters the error state.
	OnError func(lessonID, reason string)
	Timeout time.Duration
}

// Coordinator runs the generation state machines for one course.
type Coordinator struct {
	svc     service.Curriculum
	apply   func(string, []outline.Block) error
	notify  func(string)
	viewing func() string
	onError func(string, string)
	timeout time.Duration

	mu      sync.Mutex
	lessons map[string]*lessonState
	seq     uint64
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Coordinator{
		svc:     cfg.Service,
		apply:   cfg.Apply,
		notify:  cfg.Notify,
		viewing: cfg.Viewing,
		onError: cfg.OnError,
		timeout: timeout,
		lessons: make(map[string]*lessonState),
	}
}

// Status returns a lesson's generation status and, in the error state,
// the retained failure reason.
func (c *Coordinator) Status(lessonID string) (outline.GenStatus, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.lessons[lessonID]
	if !ok {
		return outline.GenPending, ""
	}
	return st.status, st.reason
}

// Seed primes a lesson's state from a persisted outline, so a course
// reloaded from the store does not re-request content it already has.
// Lessons the coordinator has live state for are left alone.
func (c *Coordinator) Seed(lessonID string, status outline.GenStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lessons[lessonID]; ok {
		return
	}
	c.lessons[lessonID] = &lessonState{status: status}
}

// GenerateIfNeeded requests block generation for a pending lesson.
// Concurrent calls for the same lesson issue exactly one request; lessons
// that are generating or ready are left alone, and errored lessons wait
// for an explicit Retry. The request runs on its own goroutine; the
// result is applied under the coordinator lock with a sequence check so
// stale responses are dropped.
func (c *Coordinator) GenerateIfNeeded(ctx context.Context, lessonID string) {
	c.mu.Lock()
	st, ok := c.lessons[lessonID]
	if !ok {
		st = &lessonState{status: outline.GenPending}
		c.lessons[lessonID] = st
	}
	if st.status != outline.GenPending {
		c.mu.Unlock()
		return
	}
	st.status = outline.GenGenerating
	st.reason = ""
	c.seq++
	seq := c.seq
	st.issuedSeq = seq
	c.mu.Unlock()

	go c.run(ctx, lessonID, seq)
}

// Retry re-enters generating from the error state. A no-op otherwise.
func (c *Coordinator) Retry(ctx context.Context, lessonID string) error {
	c.mu.Lock()
	st, ok := c.lessons[lessonID]
	if !ok || st.status != outline.GenError {
		c.mu.Unlock()
		return fmt.Errorf("lesson %s is not in the error state", lessonID)
	}
	st.status = outline.GenGenerating
	st.reason = ""
	c.seq++
	seq := c.seq
	st.issuedSeq = seq
	c.mu.Unlock()

	go c.run(ctx, lessonID, seq)
	return nil
}

func (c *Coordinator) run(ctx context.Context, lessonID string, seq uint64) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	blocks, err := c.svc.GenerateBlocks(reqCtx, lessonID)
	if err != nil {
		c.fail(lessonID, seq, err)
		return
	}
	c.succeed(lessonID, seq, blocks)
}

func (c *Coordinator) fail(lessonID string, seq uint64, cause error) {
	c.mu.Lock()
	st := c.lessons[lessonID]
	if st == nil || seq < st.issuedSeq {
		c.mu.Unlock()
		return // superseded by a newer request
	}
	st.status = outline.GenError
	st.reason = cause.Error()
	c.mu.Unlock()

	slog.Warn("block generation failed", "lesson_id", lessonID, "error", cause)
	if c.onError != nil {
		c.onError(lessonID, cause.Error())
	}
}

func (c *Coordinator) succeed(lessonID string, seq uint64, blocks []outline.Block) {
	c.mu.Lock()
	st := c.lessons[lessonID]
	if st == nil || seq < st.issuedSeq {
		c.mu.Unlock()
		return // stale response, a newer request was issued
	}

	if err := c.apply(lessonID, blocks); err != nil {
		st.status = outline.GenError
		st.reason = err.Error()
		c.mu.Unlock()
		slog.Warn("failed to merge generated blocks", "lesson_id", lessonID, "error", err)
		if c.onError != nil {
			c.onError(lessonID, err.Error())
		}
		return
	}
	st.status = outline.GenReady
	st.reason = ""
	c.mu.Unlock()

	slog.Info("lesson blocks generated", "lesson_id", lessonID, "blocks", len(blocks))

	// Content is always merged; UI side effects fire only for the lesson
	// the learner is still looking at.
	if c.notify != nil && c.viewing != nil && c.viewing() == lessonID {
		c.notify(lessonID)
	}
}

// ApplyExternal merges blocks that arrived outside the request path, such
// as pushes from the update feed. A feed sequence older than the newest
// request issued for the lesson is dropped.
func (c *Coordinator) ApplyExternal(lessonID string, blocks []outline.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.lessons[lessonID]
	if !ok {
		st = &lessonState{status: outline.GenPending}
		c.lessons[lessonID] = st
	}
	if err := c.apply(lessonID, blocks); err != nil {
		return err
	}
	st.status = outline.GenReady
	st.reason = ""
	return nil
}

// Merge folds newly generated blocks into the existing list. Append-only
// by order: a block whose id already exists is replaced in place (skipped
// entirely when its content fingerprint is unchanged), never duplicated.
// Ties on order keep the block that was there first.
func Merge(existing, generated []outline.Block) []outline.Block {
	merged := make([]outline.Block, len(existing))
	copy(merged, existing)

	index := make(map[string]int, len(merged))
	for i, b := range merged {
		index[b.ID] = i
	}

	for _, b := range generated {
		if i, ok := index[b.ID]; ok {
			if outline.Fingerprint(merged[i]) == outline.Fingerprint(b) {
				continue
			}
			b.Order = merged[i].Order
			merged[i] = b
			continue
		}
		index[b.ID] = len(merged)
		merged = append(merged, b)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Order < merged[j].Order
	})
	return merged
}
