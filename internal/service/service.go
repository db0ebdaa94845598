// Package service implements the business-rule layer between the interfaces
// and the store: input validation, existence checks, and idempotence rules.
package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/todosync/todosync/internal/store"
	"github.com/todosync/todosync/internal/todo"
)

// Config holds the tunable business rules.
type Config struct {
	// MaxTodos caps the store size. 0 means unlimited.
	MaxTodos int
}

// DefaultConfig matches the limits of the production deployment.
func DefaultConfig() Config {
	return Config{MaxTodos: 10000}
}

// Service wraps the store with business rules. All interfaces (CLI, REST,
// WebSocket broker, MCP tools) go through here; none touch the store directly.
type Service struct {
	store  *store.Store
	config Config
}

// New creates a Service over the given store.
func New(st *store.Store, config Config) *Service {
	return &Service{store: st, config: config}
}

// Create validates input, enforces the size cap, and inserts a new todo.
func (s *Service) Create(ctx context.Context, input todo.CreateInput) (*todo.Todo, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, todo.Validation("title cannot be empty", "title")
	}

	if s.config.MaxTodos > 0 {
		count, err := s.store.Count(ctx, todo.Filter{})
		if err != nil {
			return nil, err
		}
		if count >= s.config.MaxTodos {
			return nil, todo.NotAllowed(fmt.Sprintf("maximum number of todos (%d) reached", s.config.MaxTodos))
		}
	}

	return s.store.Create(ctx, input)
}

// Get returns the todo with the given id.
func (s *Service) Get(ctx context.Context, id string) (*todo.Todo, error) {
	if id == "" {
		return nil, todo.Validation("id is required", "id")
	}
	return s.store.GetByID(ctx, id)
}

// Update applies a partial update and returns the new state.
func (s *Service) Update(ctx context.Context, input todo.UpdateInput) (*todo.Todo, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	return s.store.Update(ctx, input)
}

// Delete removes a todo, failing with not-found if it does not exist.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return todo.Validation("id is required", "id")
	}
	return s.store.Delete(ctx, id)
}

// List returns todos matching filter plus the total filtered count.
func (s *Service) List(ctx context.Context, filter todo.Filter) ([]*todo.Todo, int, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}
	return s.store.List(ctx, filter)
}

// Toggle flips the completion state of a todo.
func (s *Service) Toggle(ctx context.Context, id string) (*todo.Todo, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	completed := !current.Completed
	return s.store.Update(ctx, todo.UpdateInput{ID: id, Completed: &completed})
}

// MarkCompleted completes a todo; completing twice is rejected.
func (s *Service) MarkCompleted(ctx context.Context, id string) (*todo.Todo, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Completed {
		return nil, todo.NotAllowed("todo is already completed")
	}
	completed := true
	return s.store.Update(ctx, todo.UpdateInput{ID: id, Completed: &completed})
}

// MarkIncomplete reopens a todo; reopening a pending todo is rejected.
func (s *Service) MarkIncomplete(ctx context.Context, id string) (*todo.Todo, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Completed {
		return nil, todo.NotAllowed("todo is already incomplete")
	}
	completed := false
	return s.store.Update(ctx, todo.UpdateInput{ID: id, Completed: &completed})
}

// Search finds todos whose title or description contains term.
func (s *Service) Search(ctx context.Context, term string, limit int) ([]*todo.Todo, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, todo.Validation("search term must not be empty", "search")
	}
	if limit <= 0 || limit > todo.MaxListLimit {
		limit = 50
	}
	todos, _, err := s.store.List(ctx, todo.Filter{Search: term, Limit: limit})
	return todos, err
}

// ClearCompleted deletes every completed todo and returns the count removed.
func (s *Service) ClearCompleted(ctx context.Context) (int, error) {
	return s.store.DeleteCompleted(ctx)
}

// Stats aggregates counts over the whole store.
func (s *Service) Stats(ctx context.Context) (*todo.Stats, error) {
	total, err := s.store.Count(ctx, todo.Filter{})
	if err != nil {
		return nil, err
	}
	completedFlag := true
	completed, err := s.store.Count(ctx, todo.Filter{Completed: &completedFlag})
	if err != nil {
		return nil, err
	}

	stats := &todo.Stats{
		Total:     total,
		Completed: completed,
		Pending:   total - completed,
	}
	if total > 0 {
		stats.CompletionRate = math.Round(float64(completed)/float64(total)*10000) / 100
	}

	for _, p := range []todo.Priority{todo.PriorityLow, todo.PriorityMedium, todo.PriorityHigh} {
		p := p
		count, err := s.store.Count(ctx, todo.Filter{Priority: &p})
		if err != nil {
			return nil, err
		}
		switch p {
		case todo.PriorityLow:
			stats.ByPriority.Low = count
		case todo.PriorityMedium:
			stats.ByPriority.Medium = count
		case todo.PriorityHigh:
			stats.ByPriority.High = count
		}
	}
	return stats, nil
}
