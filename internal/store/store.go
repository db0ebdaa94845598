// Package store provides the SQLite-backed todo repository.
//
// The database runs embedded with WAL mode so readers proceed concurrently
// with the single writer. Conflicting writes are serialized by SQLite itself;
// no additional locking happens at this layer.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/todosync/todosync/internal/todo"
)

// Store wraps the SQLite connection with todo-specific queries.
type Store struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// Open creates (if needed) and opens the database at path.
//
// The caller must call Close when done.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path, now: time.Now}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	return s, nil
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the todos table and indexes. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS todos (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		priority TEXT NOT NULL DEFAULT 'medium',
		completed INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_todos_completed ON todos(completed);
	CREATE INDEX IF NOT EXISTS idx_todos_priority ON todos(priority);
	CREATE INDEX IF NOT EXISTS idx_todos_created ON todos(created_at);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Create inserts a new todo built from input and returns it. The id and both
// timestamps are assigned here; createdAt equals updatedAt at creation.
func (s *Store) Create(ctx context.Context, input todo.CreateInput) (*todo.Todo, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	t := &todo.Todo{
		ID:          todo.NewID(),
		Title:       input.Title,
		Description: input.Description,
		Priority:    input.Priority,
		Completed:   false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	query := `
	INSERT INTO todos (id, title, description, priority, completed, created_at, updated_at, completed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.conn.ExecContext(ctx, query,
		t.ID,
		t.Title,
		nullString(t.Description),
		string(t.Priority),
		boolToInt(t.Completed),
		t.CreatedAt.Format(time.RFC3339Nano),
		t.UpdatedAt.Format(time.RFC3339Nano),
		timeToNullString(t.CompletedAt),
	)
	if err != nil {
		return nil, todo.Internal("failed to create todo", err)
	}
	return t, nil
}

// GetByID returns the todo with the given id, or a not-found error.
func (s *Store) GetByID(ctx context.Context, id string) (*todo.Todo, error) {
	query := `
	SELECT id, title, description, priority, completed, created_at, updated_at, completed_at
	FROM todos WHERE id = ?
	`
	t, err := scanTodo(s.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, todo.NotFound(id)
	}
	if err != nil {
		return nil, todo.Internal("failed to get todo", err)
	}
	return t, nil
}

// Update applies the non-nil fields of input to the stored todo and returns
// the result. updated_at is always advanced; completed_at is set on a
// false-to-true transition and cleared on true-to-false. This is the only
// code path that writes completed_at.
func (s *Store) Update(ctx context.Context, input todo.UpdateInput) (*todo.Todo, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.GetByID(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	if !now.After(existing.UpdatedAt) {
		// Two writes within one clock tick must still keep updatedAt monotone.
		now = existing.UpdatedAt.Add(time.Millisecond)
	}

	var sets []string
	var args []any

	if input.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *input.Title)
		existing.Title = *input.Title
	}
	if input.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, nullString(*input.Description))
		existing.Description = *input.Description
	}
	if input.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, string(*input.Priority))
		existing.Priority = *input.Priority
	}
	if input.Completed != nil && *input.Completed != existing.Completed {
		sets = append(sets, "completed = ?", "completed_at = ?")
		if *input.Completed {
			completedAt := now
			existing.CompletedAt = &completedAt
		} else {
			existing.CompletedAt = nil
		}
		existing.Completed = *input.Completed
		args = append(args, boolToInt(existing.Completed), timeToNullString(existing.CompletedAt))
	}

	sets = append(sets, "updated_at = ?")
	existing.UpdatedAt = now
	args = append(args, now.Format(time.RFC3339Nano), input.ID)

	query := "UPDATE todos SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return nil, todo.Internal("failed to update todo", err)
	}
	return existing, nil
}

// Delete removes the todo with the given id. Returns not-found if absent.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM todos WHERE id = ?", id)
	if err != nil {
		return todo.Internal("failed to delete todo", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return todo.Internal("failed to delete todo", err)
	}
	if n == 0 {
		return todo.NotFound(id)
	}
	return nil
}

// List returns todos matching filter, newest first, plus the total count of
// matches ignoring limit/offset.
func (s *Store) List(ctx context.Context, filter todo.Filter) ([]*todo.Todo, int, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	where, args := buildWhere(filter)

	total, err := s.countWhere(ctx, where, args)
	if err != nil {
		return nil, 0, err
	}

	query := `
	SELECT id, title, description, priority, completed, created_at, updated_at, completed_at
	FROM todos` + where + ` ORDER BY created_at DESC, id DESC`

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, todo.Internal("failed to list todos", err)
	}
	defer rows.Close()

	var todos []*todo.Todo
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, 0, todo.Internal("failed to scan todo", err)
		}
		todos = append(todos, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, todo.Internal("error iterating todos", err)
	}
	return todos, total, nil
}

// Count returns the number of todos matching filter (limit/offset ignored).
func (s *Store) Count(ctx context.Context, filter todo.Filter) (int, error) {
	if err := filter.Validate(); err != nil {
		return 0, err
	}
	where, args := buildWhere(filter)
	return s.countWhere(ctx, where, args)
}

// DeleteCompleted removes all completed todos and returns how many went away.
func (s *Store) DeleteCompleted(ctx context.Context) (int, error) {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM todos WHERE completed = 1")
	if err != nil {
		return 0, todo.Internal("failed to clear completed todos", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, todo.Internal("failed to clear completed todos", err)
	}
	return int(n), nil
}

func (s *Store) countWhere(ctx context.Context, where string, args []any) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM todos"+where, args...).Scan(&count)
	if err != nil {
		return 0, todo.Internal("failed to count todos", err)
	}
	return count, nil
}

func buildWhere(filter todo.Filter) (string, []any) {
	var conditions []string
	var args []any

	if filter.Completed != nil {
		conditions = append(conditions, "completed = ?")
		args = append(args, boolToInt(*filter.Completed))
	}
	if filter.Priority != nil {
		conditions = append(conditions, "priority = ?")
		args = append(args, string(*filter.Priority))
	}
	if filter.Search != "" {
		conditions = append(conditions, "(title LIKE ? OR description LIKE ?)")
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTodo(row rowScanner) (*todo.Todo, error) {
	var t todo.Todo
	var description sql.NullString
	var priority string
	var completed int
	var createdAt, updatedAt string
	var completedAt sql.NullString

	err := row.Scan(&t.ID, &t.Title, &description, &priority, &completed,
		&createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	t.Description = description.String
	t.Priority = todo.Priority(priority)
	t.Completed = completed != 0

	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		t.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		t.UpdatedAt = ts
	}
	t.CompletedAt = nullStringToTime(completedAt)

	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
