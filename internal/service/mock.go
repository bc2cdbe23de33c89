package service

import (
	"context"
	"sync"
	"time"

	"github.com/p-n-ai/pai-learn/internal/outline"
)

// MockCurriculum is a test double for the curriculum service.
type MockCurriculum struct {
	Outline *outline.Outline
	Pending bool
	Blocks  []outline.Block
	Err     error
	Delay   time.Duration // optional artificial latency on GenerateBlocks

	mu            sync.Mutex
	generateCalls int
	lastLessonID  string
}

func (m *MockCurriculum) FetchOutline(_ context.Context, _ string) (*outline.Outline, bool, error) {
	if m.Err != nil {
		return nil, false, m.Err
	}
	return m.Outline, m.Pending, nil
}

func (m *MockCurriculum) GenerateBlocks(ctx context.Context, lessonID string) ([]outline.Block, error) {
	m.mu.Lock()
	m.generateCalls++
	m.lastLessonID = lessonID
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Blocks, nil
}

func (m *MockCurriculum) RegenerateOutline(_ context.Context, _ string) (*outline.Outline, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Outline, nil
}

// GenerateCalls returns how many generation requests were issued.
func (m *MockCurriculum) GenerateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateCalls
}

// LastLessonID returns the lesson id of the most recent generation request.
func (m *MockCurriculum) LastLessonID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastLessonID
}

// MockProgress is a test double for the progress service.
type MockProgress struct {
	Result    LessonResult
	BlockErr  error
	LessonErr error

	mu          sync.Mutex
	blockCalls  []string // "lessonID/blockID"
	lessonCalls []string
}

func (m *MockProgress) ConfirmBlockComplete(_ context.Context, lessonID, blockID string) error {
	m.mu.Lock()
	m.blockCalls = append(m.blockCalls, lessonID+"/"+blockID)
	m.mu.Unlock()
	return m.BlockErr
}

func (m *MockProgress) ConfirmLessonComplete(_ context.Context, lessonID string) (LessonResult, error) {
	m.mu.Lock()
	m.lessonCalls = append(m.lessonCalls, lessonID)
	m.mu.Unlock()
	if m.LessonErr != nil {
		return LessonResult{}, m.LessonErr
	}
	return m.Result, nil
}

// BlockCalls returns the recorded block confirmations.
func (m *MockProgress) BlockCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.blockCalls...)
}

// LessonCalls returns the recorded lesson confirmations.
func (m *MockProgress) LessonCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.lessonCalls...)
}

// FixtureCurriculum serves outlines and blocks from loaded fixtures.
// Used in offline/demo mode when no backend URL is configured.
type FixtureCurriculum struct {
	Loader *outline.Loader
}

func (f *FixtureCurriculum) FetchOutline(_ context.Context, courseID string) (*outline.Outline, bool, error) {
	course, ok := f.Loader.GetCourse(courseID)
	if !ok {
		return nil, false, outline.ErrNoOutline
	}
	return course.Outline, false, nil
}

func (f *FixtureCurriculum) GenerateBlocks(_ context.Context, lessonID string) ([]outline.Block, error) {
	for _, course := range f.Loader.AllCourses() {
		if _, lesson, ok := course.Outline.Lesson(lessonID); ok {
			blocks := make([]outline.Block, len(lesson.Blocks))
			copy(blocks, lesson.Blocks)
			for i := range blocks {
				blocks[i].ContentStatus = outline.ContentReady
			}
			return blocks, nil
		}
	}
	return nil, outline.ErrUnknownLesson
}

func (f *FixtureCurriculum) RegenerateOutline(_ context.Context, courseID string) (*outline.Outline, error) {
	course, ok := f.Loader.GetCourse(courseID)
	if !ok {
		return nil, outline.ErrNoOutline
	}
	return course.Outline, nil
}

// NopProgress accepts every confirmation without contacting anything.
// Pairs with FixtureCurriculum in offline/demo mode.
type NopProgress struct{}

func (NopProgress) ConfirmBlockComplete(_ context.Context, _, _ string) error {
	return nil
}

func (NopProgress) ConfirmLessonComplete(_ context.Context, _ string) (LessonResult, error) {
	return LessonResult{Completed: true}, nil
}
