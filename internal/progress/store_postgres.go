package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p-n-ai/pai-learn/internal/outline"
)

const dbTimeout = 5 * time.Second

// PostgresStore is a PostgreSQL-backed CourseStore. Course snapshots and
// progress caches are stored as jsonb; the outline tree is opaque to SQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed course store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

// Schema returns the DDL for the tables this store uses. Applied by
// migrations in production; tests apply it directly.
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS courses (
	id         uuid PRIMARY KEY,
	title      text NOT NULL,
	status     text NOT NULL,
	snapshot   jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS course_progress (
	course_id  uuid PRIMARY KEY REFERENCES courses(id) ON DELETE CASCADE,
	snapshot   jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS progress_events (
	id         uuid PRIMARY KEY,
	course_id  uuid NOT NULL,
	lesson_id  text,
	event_type text NOT NULL,
	data       jsonb NOT NULL DEFAULT '{}'::jsonb,
	created_at timestamptz NOT NULL DEFAULT NOW()
);`
}

func (s *PostgresStore) SaveCourse(ctx context.Context, course outline.Course) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if course.ID == "" {
		course.ID = uuid.NewString()
	}

	snapshot, err := json.Marshal(course)
	if err != nil {
		return "", fmt.Errorf("marshal course snapshot: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO courses (id, title, status, snapshot, updated_at)
		 VALUES ($1::uuid, $2, $3, $4::jsonb, NOW())
		 ON CONFLICT (id) DO UPDATE
		 SET title = EXCLUDED.title,
		     status = EXCLUDED.status,
		     snapshot = EXCLUDED.snapshot,
		     updated_at = NOW()`,
		course.ID,
		course.Title,
		string(course.Status),
		string(snapshot),
	)
	if err != nil {
		return "", fmt.Errorf("save course: %w", err)
	}

	return course.ID, nil
}

func (s *PostgresStore) GetCourse(ctx context.Context, id string) (outline.Course, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var snapshot []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM courses WHERE id = $1::uuid`,
		id,
	).Scan(&snapshot)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return outline.Course{}, fmt.Errorf("%w: %s", ErrCourseNotFound, id)
		}
		return outline.Course{}, fmt.Errorf("get course: %w", err)
	}

	var course outline.Course
	if err := json.Unmarshal(snapshot, &course); err != nil {
		return outline.Course{}, fmt.Errorf("unmarshal course snapshot: %w", err)
	}
	return course, nil
}

func (s *PostgresStore) ListCourses(ctx context.Context) ([]outline.Course, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT snapshot FROM courses ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	var courses []outline.Course
	for rows.Next() {
		var snapshot []byte
		if err := rows.Scan(&snapshot); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		var course outline.Course
		if err := json.Unmarshal(snapshot, &course); err != nil {
			return nil, fmt.Errorf("unmarshal course snapshot: %w", err)
		}
		courses = append(courses, course)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate courses: %w", err)
	}

	return courses, nil
}

func (s *PostgresStore) SaveProgress(ctx context.Context, courseID string, cache *Cache) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	snapshot, err := json.Marshal(cache)
	if err != nil {
		return fmt.Errorf("marshal progress cache: %w", err)
	}

	cmd, err := s.pool.Exec(ctx,
		`INSERT INTO course_progress (course_id, snapshot, updated_at)
		 SELECT c.id, $2::jsonb, NOW()
		 FROM courses c
		 WHERE c.id = $1::uuid
		 ON CONFLICT (course_id) DO UPDATE
		 SET snapshot = EXCLUDED.snapshot,
		     updated_at = NOW()`,
		courseID,
		string(snapshot),
	)
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrCourseNotFound, courseID)
	}

	return nil
}

func (s *PostgresStore) GetProgress(ctx context.Context, courseID string) (*Cache, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cache := NewCache()

	var snapshot []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM course_progress WHERE course_id = $1::uuid`,
		courseID,
	).Scan(&snapshot)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cache, nil
		}
		return nil, fmt.Errorf("get progress: %w", err)
	}

	if err := json.Unmarshal(snapshot, cache); err != nil {
		return nil, fmt.Errorf("unmarshal progress cache: %w", err)
	}
	return cache, nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
