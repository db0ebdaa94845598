// Package todo defines the Todo entity, its input types, and the error
// taxonomy shared by every interface (CLI, REST, WebSocket, MCP).
package todo

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority is the urgency bucket of a todo.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Field limits enforced at every boundary before the store is touched.
const (
	MaxTitleLen       = 255
	MaxDescriptionLen = 1000
	MaxListLimit      = 100
)

// TempIDPrefix marks client-side optimistic entries that have not yet been
// confirmed by the server. Server-assigned IDs are UUIDs and never carry it.
const TempIDPrefix = "temp-"

// Todo is the sole domain entity. Timestamps serialize as RFC 3339 strings
// so they survive process boundaries unchanged.
type Todo struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    Priority   `json:"priority"`
	Completed   bool       `json:"completed"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Validate checks the invariants that must hold for any persisted todo.
func (t *Todo) Validate() error {
	if t.ID == "" {
		return Validation("id is required", "id")
	}
	if strings.TrimSpace(t.Title) == "" {
		return Validation("title is required", "title")
	}
	if len(t.Title) > MaxTitleLen {
		return Validation(fmt.Sprintf("title must be %d characters or less (got %d)", MaxTitleLen, len(t.Title)), "title")
	}
	if len(t.Description) > MaxDescriptionLen {
		return Validation(fmt.Sprintf("description must be %d characters or less (got %d)", MaxDescriptionLen, len(t.Description)), "description")
	}
	if !t.Priority.Valid() {
		return Validation(fmt.Sprintf("priority must be low, medium, or high (got %q)", t.Priority), "priority")
	}
	if t.CreatedAt.IsZero() {
		return Validation("createdAt is required", "createdAt")
	}
	if t.UpdatedAt.Before(t.CreatedAt) {
		return Validation("updatedAt must not precede createdAt", "updatedAt")
	}
	if t.Completed != (t.CompletedAt != nil) {
		return Validation("completedAt must be set exactly when completed is true", "completedAt")
	}
	return nil
}

// IsTemp reports whether the todo is an unconfirmed optimistic entry.
func (t *Todo) IsTemp() bool {
	return strings.HasPrefix(t.ID, TempIDPrefix)
}

// CreateInput is the payload for creating a todo.
type CreateInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    Priority `json:"priority,omitempty"`
}

// Validate checks field bounds and fills the priority default.
func (in *CreateInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return Validation("title is required", "title")
	}
	if len(in.Title) > MaxTitleLen {
		return Validation(fmt.Sprintf("title must be %d characters or less (got %d)", MaxTitleLen, len(in.Title)), "title")
	}
	if len(in.Description) > MaxDescriptionLen {
		return Validation(fmt.Sprintf("description must be %d characters or less (got %d)", MaxDescriptionLen, len(in.Description)), "description")
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Priority.Valid() {
		return Validation(fmt.Sprintf("priority must be low, medium, or high (got %q)", in.Priority), "priority")
	}
	return nil
}

// UpdateInput is the payload for a partial update. Nil fields are untouched.
type UpdateInput struct {
	ID          string    `json:"id"`
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Completed   *bool     `json:"completed,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
}

// Validate checks the id, that at least one field is set, and field bounds.
func (in *UpdateInput) Validate() error {
	if in.ID == "" {
		return Validation("id is required", "id")
	}
	if in.Title == nil && in.Description == nil && in.Completed == nil && in.Priority == nil {
		return Validation("at least one field must be provided for update", "")
	}
	if in.Title != nil {
		if strings.TrimSpace(*in.Title) == "" {
			return Validation("title cannot be empty", "title")
		}
		if len(*in.Title) > MaxTitleLen {
			return Validation(fmt.Sprintf("title must be %d characters or less (got %d)", MaxTitleLen, len(*in.Title)), "title")
		}
	}
	if in.Description != nil && len(*in.Description) > MaxDescriptionLen {
		return Validation(fmt.Sprintf("description must be %d characters or less (got %d)", MaxDescriptionLen, len(*in.Description)), "description")
	}
	if in.Priority != nil && !in.Priority.Valid() {
		return Validation(fmt.Sprintf("priority must be low, medium, or high (got %q)", *in.Priority), "priority")
	}
	return nil
}

// Filter narrows a list query. Nil fields match everything.
type Filter struct {
	Completed *bool     `json:"completed,omitempty"`
	Priority  *Priority `json:"priority,omitempty"`
	Search    string    `json:"search,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Offset    int       `json:"offset,omitempty"`
}

// Validate checks pagination bounds and the priority value.
func (f *Filter) Validate() error {
	if f.Limit < 0 || f.Limit > MaxListLimit {
		return Validation(fmt.Sprintf("limit must be between 1 and %d", MaxListLimit), "limit")
	}
	if f.Offset < 0 {
		return Validation("offset must not be negative", "offset")
	}
	if f.Priority != nil && !f.Priority.Valid() {
		return Validation(fmt.Sprintf("priority must be low, medium, or high (got %q)", *f.Priority), "priority")
	}
	return nil
}

// Stats summarizes the current store content.
type Stats struct {
	Total          int     `json:"total"`
	Completed      int     `json:"completed"`
	Pending        int     `json:"pending"`
	CompletionRate float64 `json:"completionRate"`
	ByPriority     struct {
		Low    int `json:"low"`
		Medium int `json:"medium"`
		High   int `json:"high"`
	} `json:"byPriority"`
}

// NewID returns a fresh server-side todo ID.
func NewID() string {
	return uuid.NewString()
}

// NewTempID returns a client-side placeholder ID for an optimistic entry.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}
