package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/todosync/todosync/internal/protocol"
	"github.com/todosync/todosync/internal/todo"
)

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp, data
}

func TestRESTCrudLifecycle(t *testing.T) {
	srv := newTestServer(t)
	base := "http://" + srv.Addr()

	// Create
	resp, data := doJSON(t, http.MethodPost, base+"/api/todos", map[string]any{
		"title":    "Buy milk",
		"priority": "high",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", resp.StatusCode, data)
	}
	var created todo.Todo
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("Failed to parse created todo: %v", err)
	}
	if created.ID == "" || created.Title != "Buy milk" || created.Priority != todo.PriorityHigh {
		t.Errorf("Created todo wrong: %+v", created)
	}

	// Get
	resp, data = doJSON(t, http.MethodGet, base+"/api/todos/"+created.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	// Update
	resp, data = doJSON(t, http.MethodPut, base+"/api/todos/"+created.ID, map[string]any{
		"title": "Buy oat milk",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, data)
	}
	var updated todo.Todo
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatalf("Failed to parse updated todo: %v", err)
	}
	if updated.Title != "Buy oat milk" || updated.Priority != todo.PriorityHigh {
		t.Errorf("Update result wrong: %+v", updated)
	}

	// Toggle
	resp, data = doJSON(t, http.MethodPatch, base+"/api/todos/"+created.ID+"/toggle", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var toggled todo.Todo
	if err := json.Unmarshal(data, &toggled); err != nil {
		t.Fatalf("Failed to parse toggled todo: %v", err)
	}
	if !toggled.Completed || toggled.CompletedAt == nil {
		t.Errorf("Toggle result wrong: %+v", toggled)
	}

	// Delete
	resp, _ = doJSON(t, http.MethodDelete, base+"/api/todos/"+created.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, base+"/api/todos/"+created.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestRESTListFilters(t *testing.T) {
	srv := newTestServer(t)
	base := "http://" + srv.Addr()
	ctx := context.Background()

	for _, in := range []todo.CreateInput{
		{Title: "alpha", Priority: todo.PriorityLow},
		{Title: "beta", Priority: todo.PriorityLow},
		{Title: "gamma", Priority: todo.PriorityHigh},
	} {
		if _, err := srv.svc.Create(ctx, in); err != nil {
			t.Fatalf("Failed to seed: %v", err)
		}
	}

	resp, data := doJSON(t, http.MethodGet, base+"/api/todos?priority=low", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var result protocol.ListResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("Failed to parse list: %v", err)
	}
	if result.Total != 2 || len(result.Todos) != 2 {
		t.Errorf("Expected 2 low todos, got %+v", result)
	}

	resp, data = doJSON(t, http.MethodGet, base+"/api/todos?search=gamma", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("Failed to parse list: %v", err)
	}
	if result.Total != 1 || result.Todos[0].Title != "gamma" {
		t.Errorf("Search mismatch: %+v", result)
	}

	// Bad query values are rejected.
	resp, _ = doJSON(t, http.MethodGet, base+"/api/todos?completed=maybe", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad completed value, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, base+"/api/todos?limit=9999", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for oversized limit, got %d", resp.StatusCode)
	}
}

func TestRESTErrorShape(t *testing.T) {
	srv := newTestServer(t)
	base := "http://" + srv.Addr()

	resp, data := doJSON(t, http.MethodGet, base+"/api/todos/missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", resp.StatusCode)
	}

	var body struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("Failed to parse error body: %v", err)
	}
	if body.Error.Code != "TODO_NOT_FOUND" || body.Error.Message == "" {
		t.Errorf("Error shape wrong: %+v", body)
	}

	resp, data = doJSON(t, http.MethodPost, base+"/api/todos", map[string]any{"title": ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", resp.StatusCode, data)
	}
}

func TestRESTMutationsBroadcastToWebSocketClients(t *testing.T) {
	srv := newTestServer(t)
	base := "http://" + srv.Addr()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	watcher, _ := dialWS(t, ctx, srv)

	resp, data := doJSON(t, http.MethodPost, base+"/api/todos", map[string]any{"title": "From REST"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", resp.StatusCode, data)
	}

	env := readEnvelope(t, ctx, watcher)
	if env.Type != protocol.TypeTodoCreated {
		t.Fatalf("Expected todo_created broadcast, got %s", env.Type)
	}
	created, err := env.DecodeTodo()
	if err != nil {
		t.Fatalf("Failed to decode broadcast: %v", err)
	}
	if created.Title != "From REST" {
		t.Errorf("Broadcast content wrong: %+v", created)
	}

	resp, _ = doJSON(t, http.MethodDelete, base+"/api/todos/"+created.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", resp.StatusCode)
	}
	env = readEnvelope(t, ctx, watcher)
	if env.Type != protocol.TypeTodoDeleted {
		t.Errorf("Expected todo_deleted broadcast, got %s", env.Type)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, data := doJSON(t, http.MethodGet, fmt.Sprintf("http://%s/health", srv.Addr()), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("Failed to parse health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Health body wrong: %+v", body)
	}
}
