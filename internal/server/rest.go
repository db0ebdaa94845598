package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/todosync/todosync/internal/protocol"
	"github.com/todosync/todosync/internal/todo"
)

// registerAPI mounts the REST surface. REST mutations have no WebSocket
// connection of their own, so resulting events broadcast to every client.
func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/todos", s.handleListTodos)
	mux.HandleFunc("POST /api/todos", s.handleCreateTodo)
	mux.HandleFunc("GET /api/todos/{id}", s.handleGetTodo)
	mux.HandleFunc("PUT /api/todos/{id}", s.handleUpdateTodo)
	mux.HandleFunc("DELETE /api/todos/{id}", s.handleDeleteTodo)
	mux.HandleFunc("PATCH /api/todos/{id}/toggle", s.handleToggleTodo)
	mux.HandleFunc("GET /api/stats", s.handleStats)
}

func (s *Server) handleListTodos(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	todos, total, err := s.svc.List(r.Context(), *filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResult(todos, total))
}

func (s *Server) handleCreateTodo(w http.ResponseWriter, r *http.Request) {
	var input todo.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, todo.Validation("malformed request body", ""))
		return
	}

	created, err := s.svc.Create(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}

	s.broker.BroadcastAll(r.Context(), protocol.MustEnvelope(protocol.TypeTodoCreated, created))
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetTodo(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTodo(w http.ResponseWriter, r *http.Request) {
	var input todo.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, todo.Validation("malformed request body", ""))
		return
	}
	input.ID = r.PathValue("id")

	updated, err := s.svc.Update(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}

	s.broker.BroadcastAll(r.Context(), protocol.MustEnvelope(protocol.TypeTodoUpdated, updated))
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTodo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	s.broker.BroadcastAll(r.Context(), protocol.MustEnvelope(protocol.TypeTodoDeleted, protocol.DeletePayload{ID: id}))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleTodo(w http.ResponseWriter, r *http.Request) {
	toggled, err := s.svc.Toggle(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	s.broker.BroadcastAll(r.Context(), protocol.MustEnvelope(protocol.TypeTodoUpdated, toggled))
	writeJSON(w, http.StatusOK, toggled)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// filterFromQuery builds a todo filter from list query parameters:
// ?completed=true&priority=high&search=milk&limit=20&offset=0
func filterFromQuery(r *http.Request) (*todo.Filter, error) {
	q := r.URL.Query()
	var filter todo.Filter

	if v := q.Get("completed"); v != "" {
		completed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, todo.Validation("completed must be true or false", "completed")
		}
		filter.Completed = &completed
	}
	if v := q.Get("priority"); v != "" {
		p := todo.Priority(v)
		filter.Priority = &p
	}
	filter.Search = q.Get("search")
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return nil, todo.Validation("limit must be an integer", "limit")
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			return nil, todo.Validation("offset must be an integer", "offset")
		}
		filter.Offset = offset
	}

	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return &filter, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	e := todo.AsError(err)
	writeJSON(w, e.HTTPStatus(), map[string]any{
		"error": map[string]any{
			"message": e.Message,
			"code":    e.Code(),
		},
	})
}
