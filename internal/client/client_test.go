package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/todosync/todosync/internal/protocol"
	"github.com/todosync/todosync/internal/todo"
)

// fakeConn is an in-memory transport: the test plays the server by pushing
// frames into inbox and inspecting what the controller wrote.
type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte

	inbox     chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	failWrites bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox:  make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.inbox:
		return data, nil
	case <-f.closed:
		return nil, errors.New("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Write(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("write failed")
	}
	select {
	case <-f.closed:
		return errors.New("connection closed")
	default:
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// push delivers a server frame to the controller.
func (f *fakeConn) push(t *testing.T, env *protocol.Envelope) {
	t.Helper()
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Failed to encode push: %v", err)
	}
	f.inbox <- data
}

// written decodes every frame the controller sent so far.
func (f *fakeConn) written(t *testing.T) []*protocol.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	envs := make([]*protocol.Envelope, 0, len(f.writes))
	for _, data := range f.writes {
		env, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("Controller wrote an unparseable frame: %v", err)
		}
		envs = append(envs, env)
	}
	return envs
}

// lastWriteOfType returns the most recent frame of the given type.
func (f *fakeConn) lastWriteOfType(t *testing.T, mt protocol.MessageType) *protocol.Envelope {
	t.Helper()
	envs := f.written(t)
	for i := len(envs) - 1; i >= 0; i-- {
		if envs[i].Type == mt {
			return envs[i]
		}
	}
	t.Fatalf("No %s frame written; got %d frames", mt, len(envs))
	return nil
}

// fakeDialer hands out fakeConns, optionally failing the first failures dials.
type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	failures int
	dials    int
}

func (d *fakeDialer) dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.failures {
		return nil, errors.New("dial refused")
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) latest() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[client-test] ", log.LstdFlags)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func newConnectedController(t *testing.T, cfg Config) (*Controller, *fakeDialer) {
	t.Helper()

	dialer := &fakeDialer{}
	cfg.URL = "ws://fake/ws"
	cfg.Dial = dialer.dial
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = time.Hour // keep pings out of write assertions
	}

	c := New(cfg)
	t.Cleanup(func() { c.Close() })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	return c, dialer
}

func serverTodo(id, title string) *todo.Todo {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &todo.Todo{
		ID:        id,
		Title:     title,
		Priority:  todo.PriorityMedium,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestConnectSendsListRequest(t *testing.T) {
	c, dialer := newConnectedController(t, Config{})

	if c.State() != StateConnected {
		t.Fatalf("Expected connected, got %s", c.State())
	}
	conn := dialer.latest()
	waitFor(t, "list request", func() bool {
		for _, env := range conn.written(t) {
			if env.Type == protocol.TypeListTodos {
				return true
			}
		}
		return false
	})
}

func TestSnapshotReplacesCache(t *testing.T) {
	c, dialer := newConnectedController(t, Config{})
	conn := dialer.latest()

	conn.push(t, protocol.MustEnvelope(protocol.TypeTodosListed, protocol.ListResult{
		Todos: []*todo.Todo{serverTodo("t-2", "newer"), serverTodo("t-1", "older")},
		Total: 2,
	}))

	waitFor(t, "cache fill", func() bool { return len(c.Todos()) == 2 })
	todos := c.Todos()
	if todos[0].ID != "t-2" || todos[1].ID != "t-1" {
		t.Errorf("Cache order wrong: %+v", todos)
	}
}

func TestOptimisticCreateThenReconcile(t *testing.T) {
	c, dialer := newConnectedController(t, Config{})
	conn := dialer.latest()

	if err := c.CreateTodo(todo.CreateInput{Title: "Buy milk"}); err != nil {
		t.Fatalf("CreateTodo failed: %v", err)
	}

	// Optimistic entry appears immediately at the front with a temp id.
	todos := c.Todos()
	if len(todos) != 1 {
		t.Fatalf("Expected 1 optimistic todo, got %d", len(todos))
	}
	if !strings.HasPrefix(todos[0].ID, todo.TempIDPrefix) {
		t.Errorf("Expected temp id, got %s", todos[0].ID)
	}

	// Server confirms with the durable entity.
	conn.push(t, protocol.MustEnvelope(protocol.TypeTodoCreated, serverTodo("t-real", "Buy milk")))

	waitFor(t, "reconciliation", func() bool {
		todos := c.Todos()
		return len(todos) == 1 && todos[0].ID == "t-real"
	})

	c.mu.Lock()
	pendingCount := len(c.pending)
	c.mu.Unlock()
	if pendingCount != 0 {
		t.Errorf("Pending ops not cleared: %d left", pendingCount)
	}
}

func TestCreateRollbackOnServerError(t *testing.T) {
	var mu sync.Mutex
	var surfaced []string

	c, dialer := newConnectedController(t, Config{
		OnError: func(msg string) {
			mu.Lock()
			surfaced = append(surfaced, msg)
			mu.Unlock()
		},
	})
	conn := dialer.latest()

	if err := c.CreateTodo(todo.CreateInput{Title: "Doomed"}); err != nil {
		t.Fatalf("CreateTodo failed: %v", err)
	}
	req := conn.lastWriteOfType(t, protocol.TypeCreateTodo)

	conn.push(t, protocol.NewErrorEnvelope("too many todos", protocol.CodeNotAllowed, req.ID))

	waitFor(t, "rollback", func() bool { return len(c.Todos()) == 0 })
	waitFor(t, "surfaced error", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(surfaced) == 1 && surfaced[0] == "too many todos"
	})
}

func TestUpdateRollbackOnServerError(t *testing.T) {
	c, dialer := newConnectedController(t, Config{})
	conn := dialer.latest()

	conn.push(t, protocol.MustEnvelope(protocol.TypeTodosListed, protocol.ListResult{
		Todos: []*todo.Todo{serverTodo("t-1", "Original")},
		Total: 1,
	}))
	waitFor(t, "cache fill", func() bool { return len(c.Todos()) == 1 })

	title := "Renamed"
	if err := c.UpdateTodo(todo.UpdateInput{ID: "t-1", Title: &title}); err != nil {
		t.Fatalf("UpdateTodo failed: %v", err)
	}
	if got := c.Todos()[0].Title; got != "Renamed" {
		t.Fatalf("Optimistic update not applied: %s", got)
	}

	req := conn.lastWriteOfType(t, protocol.TypeUpdateTodo)
	conn.push(t, protocol.NewErrorEnvelope("update rejected", protocol.CodeValidationError, req.ID))

	waitFor(t, "rollback", func() bool { return c.Todos()[0].Title == "Original" })
}

func TestDeleteRollbackKeepsPosition(t *testing.T) {
	c, dialer := newConnectedController(t, Config{})
	conn := dialer.latest()

	conn.push(t, protocol.MustEnvelope(protocol.TypeTodosListed, protocol.ListResult{
		Todos: []*todo.Todo{serverTodo("t-1", "first"), serverTodo("t-2", "second"), serverTodo("t-3", "third")},
		Total: 3,
	}))
	waitFor(t, "cache fill", func() bool { return len(c.Todos()) == 3 })

	if err := c.DeleteTodo("t-2"); err != nil {
		t.Fatalf("DeleteTodo failed: %v", err)
	}
	if len(c.Todos()) != 2 {
		t.Fatalf("Optimistic delete not applied: %+v", c.Todos())
	}

	req := conn.lastWriteOfType(t, protocol.TypeDeleteTodo)
	conn.push(t, protocol.NewErrorEnvelope("todo is locked", protocol.CodeNotAllowed, req.ID))

	waitFor(t, "rollback", func() bool { return len(c.Todos()) == 3 })
	if got := c.Todos()[1].ID; got != "t-2" {
		t.Errorf("Rolled-back todo not at original position: %+v", c.Todos())
	}
}

func TestDeleteConfirmedByBroadcast(t *testing.T) {
	c, dialer := newConnectedController(t, Config{})
	conn := dialer.latest()

	conn.push(t, protocol.MustEnvelope(protocol.TypeTodosListed, protocol.ListResult{
		Todos: []*todo.Todo{serverTodo("t-1", "keep"), serverTodo("t-2", "remove")},
		Total: 2,
	}))
	waitFor(t, "cache fill", func() bool { return len(c.Todos()) == 2 })

	if err := c.DeleteTodo("t-2"); err != nil {
		t.Fatalf("DeleteTodo failed: %v", err)
	}
	conn.push(t, protocol.MustEnvelope(protocol.TypeTodoDeleted, protocol.DeletePayload{ID: "t-2"}))

	waitFor(t, "pending cleared", func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.pending) == 0
	})
	if len(c.Todos()) != 1 || c.Todos()[0].ID != "t-1" {
		t.Errorf("Cache wrong after confirmed delete: %+v", c.Todos())
	}
}

func TestRemoteEventsFromOtherClients(t *testing.T) {
	c, dialer := newConnectedController(t, Config{})
	conn := dialer.latest()

	// A create by some other client lands in the cache as is.
	conn.push(t, protocol.MustEnvelope(protocol.TypeTodoCreated, serverTodo("t-other", "From elsewhere")))
	waitFor(t, "remote create", func() bool { return len(c.Todos()) == 1 })

	// An update to it replaces the entity.
	updated := serverTodo("t-other", "Edited elsewhere")
	updated.Completed = true
	conn.push(t, protocol.MustEnvelope(protocol.TypeTodoUpdated, updated))
	waitFor(t, "remote update", func() bool {
		todos := c.Todos()
		return len(todos) == 1 && todos[0].Completed
	})

	// And a delete removes it.
	conn.push(t, protocol.MustEnvelope(protocol.TypeTodoDeleted, protocol.DeletePayload{ID: "t-other"}))
	waitFor(t, "remote delete", func() bool { return len(c.Todos()) == 0 })
}

func TestToggleCompletionUnknownIDFailsLocally(t *testing.T) {
	c, dialer := newConnectedController(t, Config{})

	err := c.ToggleCompletion("nope")
	if !todo.IsNotFound(err) {
		t.Fatalf("Expected local not-found, got %v", err)
	}

	// No update frame went out.
	for _, env := range dialer.latest().written(t) {
		if env.Type == protocol.TypeUpdateTodo {
			t.Error("Toggle of unknown id should not reach the wire")
		}
	}
}

func TestOfflineQueueFlushedInOrderOnConnect(t *testing.T) {
	dialer := &fakeDialer{}
	c := New(Config{
		URL:          "ws://fake/ws",
		Dial:         dialer.dial,
		PingInterval: time.Hour,
		Logger:       testLogger(),
	})
	t.Cleanup(func() { c.Close() })

	// Mutations while disconnected are queued, and still apply optimistically.
	for i := 1; i <= 3; i++ {
		if err := c.CreateTodo(todo.CreateInput{Title: fmt.Sprintf("queued-%d", i)}); err != nil {
			t.Fatalf("CreateTodo %d failed: %v", i, err)
		}
	}
	if len(c.Todos()) != 3 {
		t.Fatalf("Expected 3 optimistic todos, got %d", len(c.Todos()))
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	conn := dialer.latest()
	waitFor(t, "queue flush", func() bool { return len(conn.written(t)) >= 4 })

	envs := conn.written(t)
	for i := 0; i < 3; i++ {
		if envs[i].Type != protocol.TypeCreateTodo {
			t.Fatalf("Frame %d should be create_todo, got %s", i, envs[i].Type)
		}
		input, err := envs[i].DecodeCreate()
		if err != nil {
			t.Fatalf("Failed to decode frame %d: %v", i, err)
		}
		want := fmt.Sprintf("queued-%d", i+1)
		if input.Title != want {
			t.Errorf("Queue order broken: frame %d is %q, want %q", i, input.Title, want)
		}
	}
	// The refresh request follows the queued mutations.
	if envs[3].Type != protocol.TypeListTodos {
		t.Errorf("Expected list_todos after flush, got %s", envs[3].Type)
	}
}

func TestReconnectBackoffDelays(t *testing.T) {
	c := New(Config{
		URL:                "ws://fake/ws",
		Dial:               (&fakeDialer{failures: 1 << 30}).dial,
		BaseReconnectDelay: time.Second,
		MaxReconnectDelay:  30 * time.Second,
		Logger:             testLogger(),
	})
	t.Cleanup(func() { c.Close() })

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second,
	}
	for attempt, expected := range want {
		if got := c.reconnectDelay(attempt); got != expected {
			t.Errorf("Attempt %d: expected %v, got %v", attempt, expected, got)
		}
	}
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	dialer := &fakeDialer{failures: 1 << 30}
	c := New(Config{
		URL:                  "ws://fake/ws",
		Dial:                 dialer.dial,
		BaseReconnectDelay:   time.Millisecond,
		MaxReconnectDelay:    4 * time.Millisecond,
		MaxReconnectAttempts: 3,
		Logger:               testLogger(),
	})
	t.Cleanup(func() { c.Close() })

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("Expected dial error")
	}

	// 1 manual dial + 3 scheduled retries, then terminal disconnected.
	waitFor(t, "give up", func() bool {
		return c.State() == StateDisconnected && dialer.dialCount() == 4
	})

	// No further dials happen once terminal.
	time.Sleep(20 * time.Millisecond)
	if n := dialer.dialCount(); n != 4 {
		t.Errorf("Dialing continued after giving up: %d dials", n)
	}
}

func TestReconnectAttemptsResetOnSuccess(t *testing.T) {
	dialer := &fakeDialer{failures: 2}
	c := New(Config{
		URL:                  "ws://fake/ws",
		Dial:                 dialer.dial,
		BaseReconnectDelay:   time.Millisecond,
		MaxReconnectDelay:    4 * time.Millisecond,
		MaxReconnectAttempts: 5,
		PingInterval:         time.Hour,
		Logger:               testLogger(),
	})
	t.Cleanup(func() { c.Close() })

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("Expected first dial to fail")
	}

	waitFor(t, "eventual connect", func() bool { return c.State() == StateConnected })

	c.mu.Lock()
	attempts := c.attempts
	c.mu.Unlock()
	if attempts != 0 {
		t.Errorf("Attempt counter should reset on success, got %d", attempts)
	}
}

func TestPingLoopSendsPings(t *testing.T) {
	c, dialer := newConnectedController(t, Config{PingInterval: 10 * time.Millisecond})
	conn := dialer.latest()

	waitFor(t, "pings", func() bool {
		count := 0
		for _, env := range conn.written(t) {
			if env.Type == protocol.TypePing {
				count++
			}
		}
		return count >= 2
	})

	// Pongs are absorbed without side effects.
	before := len(c.Todos())
	conn.push(t, protocol.MustEnvelope(protocol.TypePong, struct{}{}))
	time.Sleep(20 * time.Millisecond)
	if len(c.Todos()) != before {
		t.Error("Pong mutated the cache")
	}
}

func TestCloseStopsEverything(t *testing.T) {
	c, dialer := newConnectedController(t, Config{PingInterval: 10 * time.Millisecond})

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if c.State() != StateDisconnected {
		t.Errorf("Expected disconnected after close, got %s", c.State())
	}

	// Closing is idempotent and no reconnect happens afterwards.
	if err := c.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}
	dials := dialer.dialCount()
	time.Sleep(30 * time.Millisecond)
	if dialer.dialCount() != dials {
		t.Error("Controller dialed after Close")
	}

	if err := c.Connect(context.Background()); err == nil {
		t.Error("Connect should fail on a closed controller")
	}
}

func TestDisconnectTriggersReconnectAndRefresh(t *testing.T) {
	c, dialer := newConnectedController(t, Config{
		BaseReconnectDelay: time.Millisecond,
		MaxReconnectDelay:  2 * time.Millisecond,
	})
	first := dialer.latest()

	// Kill the transport; the read loop notices and schedules a redial.
	first.Close()

	waitFor(t, "reconnect", func() bool {
		return dialer.dialCount() == 2 && c.State() == StateConnected
	})

	second := dialer.latest()
	waitFor(t, "refresh after reconnect", func() bool {
		for _, env := range second.written(t) {
			if env.Type == protocol.TypeListTodos {
				return true
			}
		}
		return false
	})
}
