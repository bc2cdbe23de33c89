package progress

import (
	"encoding/json"
	"sort"
	"sync"
)

// PendingKind distinguishes queued confirmation retries.
type PendingKind string

const (
	PendingBlock  PendingKind = "block"
	PendingLesson PendingKind = "lesson"
)

// PendingOp is a completion whose remote confirmation has not succeeded
// yet. Queued on sync failure, retried on demand, never silently dropped.
type PendingOp struct {
	Kind     PendingKind `json:"kind"`
	LessonID string      `json:"lesson_id"`
	BlockID  string      `json:"block_id,omitempty"`
}

// Cache is the local progress overlay: a confirmed base (what the server
// has acknowledged) plus a local layer (optimistic completions awaiting
// confirmation). The merge with server state is deterministic; the server
// always wins on disagreement.
type Cache struct {
	mu        sync.RWMutex
	confirmed map[string]bool            // lesson id -> server-confirmed complete
	local     map[string]bool            // lesson id -> locally complete, unconfirmed
	blocks    map[string]map[string]bool // lesson id -> block id -> complete
	pending   []PendingOp
}

// NewCache creates an empty progress cache.
func NewCache() *Cache {
	return &Cache{
		confirmed: make(map[string]bool),
		local:     make(map[string]bool),
		blocks:    make(map[string]map[string]bool),
	}
}

// MarkBlock records a block completion. Returns false if the block was
// already marked, making repeat calls a no-op.
func (c *Cache) MarkBlock(lessonID, blockID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blocks[lessonID][blockID] {
		return false
	}
	if c.blocks[lessonID] == nil {
		c.blocks[lessonID] = make(map[string]bool)
	}
	c.blocks[lessonID][blockID] = true
	return true
}

// BlockDone reports whether a block is marked complete.
func (c *Cache) BlockDone(lessonID, blockID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocks[lessonID][blockID]
}

// BlocksDone returns the completed block ids of a lesson.
func (c *Cache) BlocksDone(lessonID string) map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]bool, len(c.blocks[lessonID]))
	for id := range c.blocks[lessonID] {
		out[id] = true
	}
	return out
}

// MarkLessonLocal records an optimistic lesson completion. Returns false
// if the lesson was already complete in either layer.
func (c *Cache) MarkLessonLocal(lessonID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.confirmed[lessonID] || c.local[lessonID] {
		return false
	}
	c.local[lessonID] = true
	return true
}

// ConfirmLesson promotes a lesson completion to the confirmed base.
func (c *Cache) ConfirmLesson(lessonID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.local, lessonID)
	c.confirmed[lessonID] = true
}

// RevokeLesson removes a lesson completion from both layers. Used when the
// server reports the lesson incomplete (server wins).
func (c *Cache) RevokeLesson(lessonID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.local, lessonID)
	delete(c.confirmed, lessonID)
}

// LessonDone reports completion in either layer.
func (c *Cache) LessonDone(lessonID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.confirmed[lessonID] || c.local[lessonID]
}

// CompletedLessons returns the union of both layers.
func (c *Cache) CompletedLessons() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]bool, len(c.confirmed)+len(c.local))
	for id := range c.confirmed {
		out[id] = true
	}
	for id := range c.local {
		out[id] = true
	}
	return out
}

// MergeConfirmed replaces the confirmed base with the server's completed
// set. Local entries the server now confirms are promoted; the rest of
// the local layer is kept for retry.
func (c *Cache) MergeConfirmed(serverCompleted []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed = make(map[string]bool, len(serverCompleted))
	for _, id := range serverCompleted {
		c.confirmed[id] = true
		delete(c.local, id)
	}
}

// QueuePending schedules a confirmation retry. Duplicate ops collapse.
func (c *Cache) QueuePending(op PendingOp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pending {
		if p == op {
			return
		}
	}
	c.pending = append(c.pending, op)
}

// TakePending removes and returns all queued confirmations. Callers
// re-queue whatever still fails.
func (c *Cache) TakePending() []PendingOp {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

// PendingCount returns the number of queued confirmations.
func (c *Cache) PendingCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending)
}

// cacheSnapshot is the serialized form. Sets are stored as sorted slices
// so snapshots are byte-stable.
type cacheSnapshot struct {
	Confirmed []string            `json:"confirmed"`
	Local     []string            `json:"local"`
	Blocks    map[string][]string `json:"blocks"`
	Pending   []PendingOp         `json:"pending,omitempty"`
}

// MarshalJSON serializes the cache for persistence.
func (c *Cache) MarshalJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := cacheSnapshot{
		Confirmed: sortedKeys(c.confirmed),
		Local:     sortedKeys(c.local),
		Blocks:    make(map[string][]string, len(c.blocks)),
		Pending:   c.pending,
	}
	for lessonID, blocks := range c.blocks {
		if len(blocks) > 0 {
			snap.Blocks[lessonID] = sortedKeys(blocks)
		}
	}
	return json.Marshal(snap)
}

// UnmarshalJSON restores a persisted cache.
func (c *Cache) UnmarshalJSON(data []byte) error {
	var snap cacheSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.confirmed = make(map[string]bool, len(snap.Confirmed))
	for _, id := range snap.Confirmed {
		c.confirmed[id] = true
	}
	c.local = make(map[string]bool, len(snap.Local))
	for _, id := range snap.Local {
		c.local[id] = true
	}
	c.blocks = make(map[string]map[string]bool, len(snap.Blocks))
	for lessonID, ids := range snap.Blocks {
		set := make(map[string]bool, len(ids))
		for _, id := range ids {
			set[id] = true
		}
		c.blocks[lessonID] = set
	}
	c.pending = snap.Pending
	return nil
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
