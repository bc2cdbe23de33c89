package outline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Loader loads course outline fixtures from the filesystem. Fixtures back
// the offline/demo mode and the mock curriculum service; production
// outlines come from the remote content service instead.
type Loader struct {
	rootDir string
	courses map[string]Course
	mu      sync.RWMutex
}

type fixtureBlock struct {
	ID    string `yaml:"id"`
	Type  string `yaml:"type"`
	Title string `yaml:"title"`
	Order int    `yaml:"order"`
}

type fixtureLesson struct {
	ID               string         `yaml:"id"`
	Title            string         `yaml:"title"`
	Type             string         `yaml:"type"`
	EstimatedMinutes int            `yaml:"estimated_minutes"`
	Blocks           []fixtureBlock `yaml:"blocks"`
}

type fixtureSection struct {
	ID               string          `yaml:"id"`
	Title            string          `yaml:"title"`
	EstimatedMinutes int             `yaml:"estimated_minutes"`
	Lessons          []fixtureLesson `yaml:"lessons"`
}

type fixtureCourse struct {
	ID               string           `yaml:"id"`
	Title            string           `yaml:"title"`
	Emoji            string           `yaml:"emoji"`
	SequentialUnlock bool             `yaml:"sequential_unlock"`
	Sections         []fixtureSection `yaml:"sections"`
}

// NewLoader creates a loader and loads all fixtures under rootDir.
func NewLoader(rootDir string) (*Loader, error) {
	l := &Loader{
		rootDir: rootDir,
		courses: make(map[string]Course),
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading outline fixtures: %w", err)
	}

	slog.Info("outline fixtures loaded", "courses", len(l.courses))
	return l, nil
}

// GetCourse returns a fixture course by id.
func (l *Loader) GetCourse(id string) (Course, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.courses[id]
	return c, ok
}

// AllCourses returns all loaded fixture courses.
func (l *Loader) AllCourses() []Course {
	l.mu.RLock()
	defer l.mu.RUnlock()
	courses := make([]Course, 0, len(l.courses))
	for _, c := range l.courses {
		courses = append(courses, c)
	}
	return courses
}

func (l *Loader) loadAll() error {
	return filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			return l.loadCourse(path)
		}
		return nil
	})
}

func (l *Loader) loadCourse(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fixture fixtureCourse
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		slog.Warn("skipping invalid course fixture", "path", path, "error", err)
		return nil
	}

	if fixture.ID == "" {
		return nil // Not a course file
	}

	course := fixture.toCourse()
	if err := Validate(course.Outline); err != nil {
		slog.Warn("skipping malformed course fixture", "path", path, "error", err)
		return nil
	}

	l.mu.Lock()
	l.courses[course.ID] = course
	l.mu.Unlock()

	return nil
}

func (f fixtureCourse) toCourse() Course {
	out := &Outline{Sections: make([]Section, 0, len(f.Sections))}
	for _, fs := range f.Sections {
		sec := Section{
			ID:               fs.ID,
			Title:            fs.Title,
			EstimatedMinutes: fs.EstimatedMinutes,
		}
		for _, fl := range f.lessonsOf(fs) {
			sec.Lessons = append(sec.Lessons, fl)
		}
		out.Sections = append(out.Sections, sec)
	}

	return Course{
		ID:               f.ID,
		Title:            f.Title,
		Emoji:            f.Emoji,
		Status:           CourseActive,
		Outline:          out,
		OutlineStatus:    GenReady,
		TotalLessons:     out.TotalLessonCount(),
		SequentialUnlock: f.SequentialUnlock,
	}
}

func (f fixtureCourse) lessonsOf(fs fixtureSection) []Lesson {
	lessons := make([]Lesson, 0, len(fs.Lessons))
	for _, fl := range fs.Lessons {
		lessonType := LessonType(fl.Type)
		if lessonType == "" {
			lessonType = TypeLesson
		}
		lesson := Lesson{
			ID:               fl.ID,
			Title:            fl.Title,
			Type:             lessonType,
			EstimatedMinutes: fl.EstimatedMinutes,
			BlocksStatus:     GenPending,
		}
		for _, fb := range fl.Blocks {
			lesson.Blocks = append(lesson.Blocks, Block{
				ID:            fb.ID,
				Type:          fb.Type,
				Title:         fb.Title,
				Order:         fb.Order,
				ContentStatus: ContentPending,
			})
		}
		if len(lesson.Blocks) > 0 {
			lesson.BlocksStatus = GenReady
		}
		lessons = append(lessons, lesson)
	}
	return lessons
}
