package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-learn/internal/outline"
)

// ErrCourseNotFound is returned for lookups of unknown course ids.
var ErrCourseNotFound = errors.New("course not found")

// CourseStore persists course snapshots and their progress caches, keyed
// by course id, surviving restarts.
type CourseStore interface {
	SaveCourse(ctx context.Context, course outline.Course) (string, error)
	GetCourse(ctx context.Context, id string) (outline.Course, error)
	ListCourses(ctx context.Context) ([]outline.Course, error)
	SaveProgress(ctx context.Context, courseID string, cache *Cache) error
	GetProgress(ctx context.Context, courseID string) (*Cache, error)
}

// MemoryStore is an in-memory CourseStore for development and tests.
type MemoryStore struct {
	courses   map[string]outline.Course
	snapshots map[string][]byte
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory course store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		courses:   make(map[string]outline.Course),
		snapshots: make(map[string][]byte),
	}
}

func (s *MemoryStore) SaveCourse(_ context.Context, course outline.Course) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	s.courses[course.ID] = course
	return course.ID, nil
}

func (s *MemoryStore) GetCourse(_ context.Context, id string) (outline.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	course, ok := s.courses[id]
	if !ok {
		return outline.Course{}, fmt.Errorf("%w: %s", ErrCourseNotFound, id)
	}
	return course, nil
}

func (s *MemoryStore) ListCourses(_ context.Context) ([]outline.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	courses := make([]outline.Course, 0, len(s.courses))
	for _, c := range s.courses {
		courses = append(courses, c)
	}
	return courses, nil
}

func (s *MemoryStore) SaveProgress(_ context.Context, courseID string, cache *Cache) error {
	data, err := json.Marshal(cache)
	if err != nil {
		return fmt.Errorf("marshal progress cache: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.courses[courseID]; !ok {
		return fmt.Errorf("%w: %s", ErrCourseNotFound, courseID)
	}
	s.snapshots[courseID] = data
	return nil
}

func (s *MemoryStore) GetProgress(_ context.Context, courseID string) (*Cache, error) {
	s.mu.RLock()
	data, ok := s.snapshots[courseID]
	s.mu.RUnlock()

	cache := NewCache()
	if !ok {
		return cache, nil
	}
	if err := json.Unmarshal(data, cache); err != nil {
		return nil, fmt.Errorf("unmarshal progress cache: %w", err)
	}
	return cache, nil
}
