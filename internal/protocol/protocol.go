// Package protocol defines the wire contract between sync clients and the
// connection broker: the message envelope, the closed set of message kinds,
// their typed payloads, and the validation applied before any store access.
//
// Every message in either direction is a JSON envelope:
//
//	{ "id": "...", "type": "...", "payload": {...}, "timestamp": 1735689600000 }
//
// Envelopes are constructed immediately before transmission and never
// persisted; only the resulting todo mutation is durable.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/todosync/todosync/internal/todo"
)

// MessageType discriminates envelope payloads.
type MessageType string

// Client-to-server message kinds.
const (
	TypeCreateTodo MessageType = "create_todo"
	TypeUpdateTodo MessageType = "update_todo"
	TypeDeleteTodo MessageType = "delete_todo"
	TypeListTodos  MessageType = "list_todos"
	TypePing       MessageType = "ping"
)

// Server-to-client message kinds.
const (
	TypeTodoCreated MessageType = "todo_created"
	TypeTodoUpdated MessageType = "todo_updated"
	TypeTodoDeleted MessageType = "todo_deleted"
	TypeTodosListed MessageType = "todos_listed"
	TypePong        MessageType = "pong"
	TypeError       MessageType = "error"
)

// Error codes carried in error payloads.
const (
	CodeInvalidMessage     = "INVALID_MESSAGE"
	CodeUnknownMessageType = "UNKNOWN_MESSAGE_TYPE"
	CodeNotFound           = "TODO_NOT_FOUND"
	CodeValidationError    = "VALIDATION_ERROR"
	CodeNotAllowed         = "OPERATION_NOT_ALLOWED"
	CodeInternalError      = "INTERNAL_ERROR"
)

// Envelope is the uniform message wrapper used in both directions.
// Timestamp is the sender's emission time in epoch milliseconds.
type Envelope struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// DeletePayload carries only the target id; for todo_deleted the entity no
// longer exists, so the id is all there is to send.
type DeletePayload struct {
	ID string `json:"id"`
}

// ListResult is the todos_listed payload. Total is the filtered count, which
// may exceed len(Todos) when limit/offset narrowed the page.
type ListResult struct {
	Todos []*todo.Todo `json:"todos"`
	Total int          `json:"total"`
}

// ErrorDetails carries structured context for an error payload.
type ErrorDetails struct {
	OriginatingMessageID string `json:"originatingMessageId,omitempty"`
	Field                string `json:"field,omitempty"`
}

// ErrorPayload is the error message body.
type ErrorPayload struct {
	Message string        `json:"message"`
	Code    string        `json:"code,omitempty"`
	Details *ErrorDetails `json:"details,omitempty"`
}

// NewEnvelope wraps payload in a fresh envelope with a generated id and the
// current timestamp. The payload must marshal cleanly; a marshal failure is a
// programming error surfaced to the caller.
func NewEnvelope(msgType MessageType, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// MustEnvelope is NewEnvelope for payload types known to marshal.
func MustEnvelope(msgType MessageType, payload any) *Envelope {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// NewErrorEnvelope builds an error message. originatingID correlates the
// error to the request that caused it; pass "" when the request could not be
// parsed and no id is available.
func NewErrorEnvelope(message, code, originatingID string) *Envelope {
	payload := ErrorPayload{Message: message, Code: code}
	if originatingID != "" {
		payload.Details = &ErrorDetails{OriginatingMessageID: originatingID}
	}
	return MustEnvelope(TypeError, payload)
}

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses raw bytes into an envelope, checking only the envelope
// fields. Payload validation happens per-kind in the Decode* helpers.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.ID == "" {
		return nil, fmt.Errorf("envelope id is required")
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope type is required")
	}
	return &env, nil
}

// IsClientType reports whether t belongs to the client-to-server set.
func IsClientType(t MessageType) bool {
	switch t {
	case TypeCreateTodo, TypeUpdateTodo, TypeDeleteTodo, TypeListTodos, TypePing:
		return true
	}
	return false
}

// DecodeCreate validates and returns a create_todo payload.
func (e *Envelope) DecodeCreate() (*todo.CreateInput, error) {
	var input todo.CreateInput
	if err := strictUnmarshal(e.Payload, &input); err != nil {
		return nil, err
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}
	return &input, nil
}

// DecodeUpdate validates and returns an update_todo payload.
func (e *Envelope) DecodeUpdate() (*todo.UpdateInput, error) {
	var input todo.UpdateInput
	if err := strictUnmarshal(e.Payload, &input); err != nil {
		return nil, err
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}
	return &input, nil
}

// DecodeDelete validates and returns a delete_todo payload.
func (e *Envelope) DecodeDelete() (*DeletePayload, error) {
	var payload DeletePayload
	if err := strictUnmarshal(e.Payload, &payload); err != nil {
		return nil, err
	}
	if payload.ID == "" {
		return nil, todo.Validation("id is required", "id")
	}
	return &payload, nil
}

// DecodeList validates and returns a list_todos payload. A missing or null
// payload means "no filter".
func (e *Envelope) DecodeList() (*todo.Filter, error) {
	var filter todo.Filter
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return &filter, nil
	}
	if err := strictUnmarshal(e.Payload, &filter); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return &filter, nil
}

// DecodeTodo returns the full entity carried by todo_created/todo_updated.
func (e *Envelope) DecodeTodo() (*todo.Todo, error) {
	var t todo.Todo
	if err := json.Unmarshal(e.Payload, &t); err != nil {
		return nil, fmt.Errorf("malformed todo payload: %w", err)
	}
	return &t, nil
}

// DecodeListResult returns the todos_listed payload.
func (e *Envelope) DecodeListResult() (*ListResult, error) {
	var result ListResult
	if err := json.Unmarshal(e.Payload, &result); err != nil {
		return nil, fmt.Errorf("malformed list payload: %w", err)
	}
	return &result, nil
}

// DecodeDeleted returns the todo_deleted payload.
func (e *Envelope) DecodeDeleted() (*DeletePayload, error) {
	var payload DeletePayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return nil, fmt.Errorf("malformed delete payload: %w", err)
	}
	return &payload, nil
}

// DecodeError returns the error payload.
func (e *Envelope) DecodeError() (*ErrorPayload, error) {
	var payload ErrorPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return nil, fmt.Errorf("malformed error payload: %w", err)
	}
	return &payload, nil
}

// ErrorFromServiceError translates a service failure into an error envelope
// correlated to the originating request.
func ErrorFromServiceError(err error, originatingID string) *Envelope {
	e := todo.AsError(err)
	code := CodeInternalError
	switch e.Kind {
	case todo.KindNotFound:
		code = CodeNotFound
	case todo.KindValidation:
		code = CodeValidationError
	case todo.KindNotAllowed, todo.KindConflict:
		code = CodeNotAllowed
	}
	env := NewErrorEnvelope(e.Message, code, originatingID)
	if e.Field != "" {
		payload := ErrorPayload{Message: e.Message, Code: code, Details: &ErrorDetails{
			OriginatingMessageID: originatingID,
			Field:                e.Field,
		}}
		env = MustEnvelope(TypeError, payload)
	}
	return env
}

// strictUnmarshal rejects unknown payload fields so a mistyped field name
// fails fast instead of silently dropping data.
func strictUnmarshal(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return todo.Validation("payload is required", "")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return todo.Validation(fmt.Sprintf("malformed payload: %v", err), "")
	}
	return nil
}
