// Package mcptools exposes todo operations as MCP tools over stdio, so
// editor assistants can manage the same list the CLI and server share.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/todosync/todosync/internal/service"
	"github.com/todosync/todosync/internal/todo"
)

// Version is stamped into the MCP handshake.
const Version = "1.0.0"

// Server wraps an MCP server bound to the todo service.
type Server struct {
	mcpServer *mcp.Server
	svc       *service.Service
}

// NewServer creates an MCP server with every todo tool registered.
func NewServer(svc *service.Service) *Server {
	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "todo-sync",
		Version: Version,
	}, nil)

	s := &Server{mcpServer: mcpServer, svc: svc}
	s.registerTools()
	return s
}

// ServeStdio connects the server to stdin/stdout and blocks until the
// session ends or ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	session, err := s.mcpServer.Connect(ctx, mcp.NewStdioTransport())
	if err != nil {
		return fmt.Errorf("failed to connect MCP transport: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "todo_create",
		Description: "Create a new todo. Title is required; priority is one of low, medium, high (default medium).",
	}, s.handleCreate)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "todo_list",
		Description: "List todos, newest first. Optionally filter by completion status, priority, or a search term over title and description.",
	}, s.handleList)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "todo_update",
		Description: "Update fields of an existing todo by id. Only the provided fields change.",
	}, s.handleUpdate)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "todo_delete",
		Description: "Delete a todo by id.",
	}, s.handleDelete)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "todo_toggle",
		Description: "Flip a todo between completed and pending.",
	}, s.handleToggle)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "todo_stats",
		Description: "Summarize the todo list: totals, completion rate, and counts per priority.",
	}, s.handleStats)
}

// CreateArgs are the arguments for the todo_create tool.
type CreateArgs struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

// ListArgs are the arguments for the todo_list tool.
type ListArgs struct {
	Completed *bool  `json:"completed,omitempty"`
	Priority  string `json:"priority,omitempty"`
	Search    string `json:"search,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// UpdateArgs are the arguments for the todo_update tool.
type UpdateArgs struct {
	ID          string  `json:"id"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
}

// IDArgs identify a single todo by id.
type IDArgs struct {
	ID string `json:"id"`
}

// StatsArgs is empty; todo_stats takes no arguments.
type StatsArgs struct{}

func (s *Server) handleCreate(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[CreateArgs]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments

	created, err := s.svc.Create(ctx, todo.CreateInput{
		Title:       args.Title,
		Description: args.Description,
		Priority:    todo.Priority(args.Priority),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(created)
}

func (s *Server) handleList(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[ListArgs]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments

	filter := todo.Filter{
		Completed: args.Completed,
		Search:    args.Search,
		Limit:     args.Limit,
	}
	if args.Priority != "" {
		p := todo.Priority(args.Priority)
		filter.Priority = &p
	}

	todos, total, err := s.svc.List(ctx, filter)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{"todos": todos, "total": total})
}

func (s *Server) handleUpdate(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[UpdateArgs]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments

	input := todo.UpdateInput{
		ID:          args.ID,
		Title:       args.Title,
		Description: args.Description,
		Completed:   args.Completed,
	}
	if args.Priority != nil {
		p := todo.Priority(*args.Priority)
		input.Priority = &p
	}

	updated, err := s.svc.Update(ctx, input)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(updated)
}

func (s *Server) handleDelete(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[IDArgs]) (*mcp.CallToolResultFor[any], error) {
	if err := s.svc.Delete(ctx, params.Arguments.ID); err != nil {
		return errorResult(err), nil
	}
	return textResult(fmt.Sprintf("Deleted todo %s", params.Arguments.ID)), nil
}

func (s *Server) handleToggle(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[IDArgs]) (*mcp.CallToolResultFor[any], error) {
	toggled, err := s.svc.Toggle(ctx, params.Arguments.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(toggled)
}

func (s *Server) handleStats(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[StatsArgs]) (*mcp.CallToolResultFor[any], error) {
	stats, err := s.svc.Stats(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(stats)
}

func jsonResult(v any) (*mcp.CallToolResultFor[any], error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(err), nil
	}
	return textResult(string(data)), nil
}

func textResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(err error) *mcp.CallToolResultFor[any] {
	e := todo.AsError(err)
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Error: %s (%s)", e.Message, e.Code())}},
		IsError: true,
	}
}
