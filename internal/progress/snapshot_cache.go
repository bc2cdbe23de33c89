package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/p-n-ai/pai-learn/internal/outline"
)

const defaultSnapshotTTL = 24 * time.Hour

// SnapshotCache is a redis read-through cache of course snapshots, keyed
// by course id. It sits in front of the durable store so outline drawers
// and progress screens can load without a database round trip. Misses and
// cache errors are never fatal; callers fall back to the store.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotCache creates a snapshot cache. A zero ttl selects the
// default of 24h.
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl == 0 {
		ttl = defaultSnapshotTTL
	}
	return &SnapshotCache{client: client, ttl: ttl}
}

func courseKey(courseID string) string {
	return "learn:course:" + courseID
}

// Get returns the cached course snapshot, or found=false on a miss.
func (c *SnapshotCache) Get(ctx context.Context, courseID string) (outline.Course, bool, error) {
	data, err := c.client.Get(ctx, courseKey(courseID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return outline.Course{}, false, nil
		}
		return outline.Course{}, false, fmt.Errorf("snapshot cache get: %w", err)
	}

	var course outline.Course
	if err := json.Unmarshal(data, &course); err != nil {
		// Corrupt entry: treat as a miss so the store refreshes it.
		return outline.Course{}, false, nil
	}
	return course, true, nil
}

// Set stores a course snapshot with the configured TTL.
func (c *SnapshotCache) Set(ctx context.Context, course outline.Course) error {
	data, err := json.Marshal(course)
	if err != nil {
		return fmt.Errorf("marshal course snapshot: %w", err)
	}
	if err := c.client.Set(ctx, courseKey(course.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("snapshot cache set: %w", err)
	}
	return nil
}

// Invalidate drops a cached snapshot, e.g. after an outline regeneration.
func (c *SnapshotCache) Invalidate(ctx context.Context, courseID string) error {
	if err := c.client.Del(ctx, courseKey(courseID)).Err(); err != nil {
		return fmt.Errorf("snapshot cache invalidate: %w", err)
	}
	return nil
}
