// Package client implements the sync controller that keeps a local todo
// cache consistent with a remote broker: optimistic mutations with rollback,
// an offline send queue, reconnection with exponential backoff, and a ping
// keep-alive.
package client

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/todosync/todosync/internal/protocol"
	"github.com/todosync/todosync/internal/todo"
)

// State is the controller's connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Conn is the minimal transport the controller needs. The default
// implementation wraps a coder/websocket connection; tests substitute fakes.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// DialFunc opens a transport to the given URL.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// Config tunes the controller.
type Config struct {
	// URL of the broker's WebSocket endpoint, e.g. ws://localhost:8080/ws.
	URL string

	// Dial opens the transport. Defaults to a coder/websocket dialer.
	Dial DialFunc

	// BaseReconnectDelay is the first retry delay; each consecutive failure
	// doubles it up to MaxReconnectDelay. Default 1s, capped at 30s.
	BaseReconnectDelay time.Duration
	MaxReconnectDelay  time.Duration

	// MaxReconnectAttempts bounds consecutive failed attempts before the
	// controller goes terminally disconnected. Default 5.
	MaxReconnectAttempts int

	// PingInterval spaces keep-alive pings while connected. Default 30s.
	// A missing pong is not treated as a failure.
	PingInterval time.Duration

	// OnChange, if set, receives a cache snapshot after every change.
	OnChange func(todos []todo.Todo)

	// OnError, if set, receives user-visible error strings.
	OnError func(message string)

	Logger *log.Logger
}

type opKind int

const (
	opCreate opKind = iota
	opUpdate
	opDelete
)

// pendingOp remembers how to undo an optimistic mutation, keyed by the
// request message id so an error response can roll back exactly its request.
type pendingOp struct {
	kind   opKind
	tempID string     // create: the optimistic placeholder id
	before *todo.Todo // update: prior entity; delete: removed entity
	pos    int        // delete: original cache position
}

// Controller is the client-side sync controller. All methods are safe for
// concurrent use; the cache is only mutated under the controller's lock.
type Controller struct {
	cfg Config

	mu      sync.Mutex
	state   State
	conn    Conn
	connGen int // invalidates read/ping loops of abandoned connections
	todos   []*todo.Todo
	pending map[string]*pendingOp
	queue   [][]byte // envelopes awaiting transport, FIFO
	closed  bool

	attempts       int
	reconnectTimer *time.Timer
	stopPing       chan struct{}

	wg sync.WaitGroup
}

// New creates a controller. Call Connect to open the transport.
func New(cfg Config) *Controller {
	if cfg.Dial == nil {
		cfg.Dial = WebSocketDialer()
	}
	if cfg.BaseReconnectDelay <= 0 {
		cfg.BaseReconnectDelay = time.Second
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = 30 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[client] ", log.LstdFlags)
	}

	return &Controller{
		cfg:     cfg,
		state:   StateDisconnected,
		pending: make(map[string]*pendingOp),
	}
}

// Connect opens the transport. On success the offline queue is flushed in
// order and an explicit list request primes the cache; the broker also
// pushes a snapshot on accept, and applying either (or both) is idempotent.
// On failure a reconnect is scheduled and the dial error returned.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("controller is closed")
	}
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	// A manual connect starts a fresh attempt series.
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()

	return c.dial(ctx)
}

// dial performs one connection attempt and wires up the loops.
func (c *Controller) dial(ctx context.Context) error {
	conn, err := c.cfg.Dial(ctx, c.cfg.URL)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if err == nil {
			_ = conn.Close()
		}
		return fmt.Errorf("controller is closed")
	}

	if err != nil {
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return fmt.Errorf("failed to connect to %s: %w", c.cfg.URL, err)
	}

	c.conn = conn
	c.connGen++
	gen := c.connGen
	c.state = StateConnected
	c.attempts = 0
	queued := c.queue
	c.queue = nil
	stop := make(chan struct{})
	c.stopPing = stop
	c.mu.Unlock()

	c.cfg.Logger.Printf("Connected to %s", c.cfg.URL)

	// Flush messages queued while disconnected, preserving order, then ask
	// for the current list.
	for i, data := range queued {
		if err := c.write(conn, data); err != nil {
			c.mu.Lock()
			c.queue = append(queued[i:], c.queue...)
			c.mu.Unlock()
			c.handleDisconnect(gen)
			return nil
		}
	}
	_ = c.Refresh()

	c.wg.Add(2)
	go c.readLoop(conn, gen)
	go c.pingLoop(conn, stop)
	return nil
}

// Close shuts the controller down: the reconnect timer is cancelled, the
// transport closed, and in-flight optimistic state left as is.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateDisconnected
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.connGen++
	if c.stopPing != nil {
		close(c.stopPing)
		c.stopPing = nil
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
	return nil
}

// State returns the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Todos returns an ordered snapshot of the local cache.
func (c *Controller) Todos() []todo.Todo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Refresh requests the full current list from the server.
func (c *Controller) Refresh() error {
	env, err := protocol.NewEnvelope(protocol.TypeListTodos, struct{}{})
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendOrQueueLocked(env)
}

// CreateTodo optimistically inserts a temporary entry at the front of the
// cache, then sends create_todo. The entry is replaced by the confirmed
// entity when it arrives, or rolled back if the send fails or the server
// answers with an error for this request.
func (c *Controller) CreateTodo(input todo.CreateInput) error {
	if err := input.Validate(); err != nil {
		return err
	}

	now := time.Now()
	temp := &todo.Todo{
		ID:          todo.NewTempID(),
		Title:       input.Title,
		Description: input.Description,
		Priority:    input.Priority,
		Completed:   false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	env, err := protocol.NewEnvelope(protocol.TypeCreateTodo, input)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.todos = append([]*todo.Todo{temp}, c.todos...)
	c.pending[env.ID] = &pendingOp{kind: opCreate, tempID: temp.ID}

	if err := c.sendOrQueueLocked(env); err != nil {
		c.removeLocked(temp.ID)
		delete(c.pending, env.ID)
		c.mu.Unlock()
		c.surfaceError("failed to create todo: " + err.Error())
		return err
	}
	c.mu.Unlock()

	c.notifyChange()
	return nil
}

// UpdateTodo overlays the update on the cached entity immediately, then
// sends update_todo. Unknown ids fail locally without a network call.
func (c *Controller) UpdateTodo(input todo.UpdateInput) error {
	if err := input.Validate(); err != nil {
		return err
	}

	env, err := protocol.NewEnvelope(protocol.TypeUpdateTodo, input)
	if err != nil {
		return err
	}

	c.mu.Lock()
	existing, _ := c.findLocked(input.ID)
	if existing == nil {
		c.mu.Unlock()
		return todo.NotFound(input.ID)
	}

	before := *existing
	merged := mergeUpdate(before, input)
	c.replaceLocked(merged)
	c.pending[env.ID] = &pendingOp{kind: opUpdate, before: &before}

	if err := c.sendOrQueueLocked(env); err != nil {
		c.replaceLocked(&before)
		delete(c.pending, env.ID)
		c.mu.Unlock()
		c.surfaceError("failed to update todo: " + err.Error())
		return err
	}
	c.mu.Unlock()

	c.notifyChange()
	return nil
}

// DeleteTodo removes the entity from the cache immediately, then sends
// delete_todo. On failure the entity is reinserted where it was.
func (c *Controller) DeleteTodo(id string) error {
	if id == "" {
		return todo.Validation("id is required", "id")
	}

	env, err := protocol.NewEnvelope(protocol.TypeDeleteTodo, protocol.DeletePayload{ID: id})
	if err != nil {
		return err
	}

	c.mu.Lock()
	existing, pos := c.findLocked(id)
	if existing == nil {
		c.mu.Unlock()
		return todo.NotFound(id)
	}

	removed := *existing
	c.removeLocked(id)
	c.pending[env.ID] = &pendingOp{kind: opDelete, before: &removed, pos: pos}

	if err := c.sendOrQueueLocked(env); err != nil {
		c.insertLocked(&removed, pos)
		delete(c.pending, env.ID)
		c.mu.Unlock()
		c.surfaceError("failed to delete todo: " + err.Error())
		return err
	}
	c.mu.Unlock()

	c.notifyChange()
	return nil
}

// ToggleCompletion flips the cached completion flag via UpdateTodo. It fails
// locally when the id is not in the cache.
func (c *Controller) ToggleCompletion(id string) error {
	c.mu.Lock()
	existing, _ := c.findLocked(id)
	c.mu.Unlock()
	if existing == nil {
		return todo.NotFound(id)
	}

	completed := !existing.Completed
	return c.UpdateTodo(todo.UpdateInput{ID: id, Completed: &completed})
}

// readLoop consumes server messages until the connection dies.
func (c *Controller) readLoop(conn Conn, gen int) {
	defer c.wg.Done()

	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			c.handleDisconnect(gen)
			return
		}
		c.handleMessage(data)
	}
}

// pingLoop sends keep-alive pings at a fixed interval until stop closes.
func (c *Controller) pingLoop(conn Conn, stop <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			env, err := protocol.NewEnvelope(protocol.TypePing, struct{}{})
			if err != nil {
				return
			}
			data, err := env.Encode()
			if err != nil {
				return
			}
			if err := c.write(conn, data); err != nil {
				return
			}
		}
	}
}

// handleMessage merges one server message into the local cache.
func (c *Controller) handleMessage(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		c.cfg.Logger.Printf("Dropping unparseable server message: %v", err)
		return
	}

	switch env.Type {
	case protocol.TypeTodosListed:
		result, err := env.DecodeListResult()
		if err != nil {
			c.cfg.Logger.Printf("Dropping malformed list: %v", err)
			return
		}
		c.mu.Lock()
		// Wholesale replacement: snapshot-on-accept and the explicit list
		// reply are interchangeable and may both arrive.
		c.todos = result.Todos
		c.mu.Unlock()
		c.notifyChange()

	case protocol.TypeTodoCreated:
		created, err := env.DecodeTodo()
		if err != nil {
			c.cfg.Logger.Printf("Dropping malformed todo: %v", err)
			return
		}
		c.mu.Lock()
		c.reconcileCreateLocked(created)
		c.mu.Unlock()
		c.notifyChange()

	case protocol.TypeTodoUpdated:
		updated, err := env.DecodeTodo()
		if err != nil {
			c.cfg.Logger.Printf("Dropping malformed todo: %v", err)
			return
		}
		c.mu.Lock()
		c.replaceLocked(updated)
		c.clearPendingByEntityLocked(opUpdate, updated.ID)
		c.mu.Unlock()
		c.notifyChange()

	case protocol.TypeTodoDeleted:
		payload, err := env.DecodeDeleted()
		if err != nil {
			c.cfg.Logger.Printf("Dropping malformed delete: %v", err)
			return
		}
		c.mu.Lock()
		c.removeLocked(payload.ID)
		c.clearPendingByEntityLocked(opDelete, payload.ID)
		c.mu.Unlock()
		c.notifyChange()

	case protocol.TypePong:
		// Keep-alive only; absence of pong is not a failure trigger.

	case protocol.TypeError:
		payload, err := env.DecodeError()
		if err != nil {
			c.cfg.Logger.Printf("Dropping malformed error: %v", err)
			return
		}
		c.handleServerError(payload)

	default:
		c.cfg.Logger.Printf("Ignoring unexpected message type %q", env.Type)
	}
}

// handleServerError rolls back the optimistic operation correlated by the
// error's originating message id, when present, and surfaces the message.
func (c *Controller) handleServerError(payload *protocol.ErrorPayload) {
	rolledBack := false
	if payload.Details != nil && payload.Details.OriginatingMessageID != "" {
		c.mu.Lock()
		if op, ok := c.pending[payload.Details.OriginatingMessageID]; ok {
			c.rollbackLocked(op)
			delete(c.pending, payload.Details.OriginatingMessageID)
			rolledBack = true
		}
		c.mu.Unlock()
	}
	if rolledBack {
		c.notifyChange()
	}
	c.surfaceError(payload.Message)
}

func (c *Controller) rollbackLocked(op *pendingOp) {
	switch op.kind {
	case opCreate:
		c.removeLocked(op.tempID)
	case opUpdate:
		c.replaceLocked(op.before)
	case opDelete:
		c.insertLocked(op.before, op.pos)
	}
}

// reconcileCreateLocked replaces the oldest matching optimistic entry with
// the confirmed entity. Confirmations carry fresh message ids, so matching
// is by entity: the temp entry with the same title, oldest first.
func (c *Controller) reconcileCreateLocked(created *todo.Todo) {
	for msgID, op := range c.pending {
		if op.kind != opCreate {
			continue
		}
		if t, _ := c.findLocked(op.tempID); t != nil && t.Title == created.Title {
			c.removeLocked(op.tempID)
			delete(c.pending, msgID)
			break
		}
	}

	// Drop any duplicate before inserting at the front.
	c.removeLocked(created.ID)
	c.todos = append([]*todo.Todo{created}, c.todos...)
}

// clearPendingByEntityLocked clears the oldest pending op of the given kind
// touching the entity; the confirmation that just arrived settles it.
func (c *Controller) clearPendingByEntityLocked(kind opKind, id string) {
	for msgID, op := range c.pending {
		if op.kind == kind && op.before != nil && op.before.ID == id {
			delete(c.pending, msgID)
			return
		}
	}
}

// handleDisconnect reacts to a transport failure for the given connection
// generation; stale generations are ignored.
func (c *Controller) handleDisconnect(gen int) {
	c.mu.Lock()
	if c.closed || c.connGen != gen {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connGen++
	if c.stopPing != nil {
		close(c.stopPing)
		c.stopPing = nil
	}
	c.scheduleReconnectLocked()
	c.mu.Unlock()
}

// scheduleReconnectLocked arms the backoff timer for the next attempt, or
// parks the controller in terminal disconnected state once the ceiling is
// reached. Caller holds c.mu.
func (c *Controller) scheduleReconnectLocked() {
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.state = StateDisconnected
		c.cfg.Logger.Printf("Giving up after %d reconnect attempts", c.attempts)
		return
	}

	delay := c.reconnectDelay(c.attempts)
	c.attempts++
	c.state = StateConnecting
	c.cfg.Logger.Printf("Reconnecting in %v (attempt %d/%d)", delay, c.attempts, c.cfg.MaxReconnectAttempts)

	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		_ = c.dial(context.Background())
	})
}

// reconnectDelay returns the backoff before retry number attempt (0-based):
// base*2^attempt, capped at the configured maximum.
func (c *Controller) reconnectDelay(attempt int) time.Duration {
	delay := c.cfg.BaseReconnectDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= c.cfg.MaxReconnectDelay {
			return c.cfg.MaxReconnectDelay
		}
	}
	if delay > c.cfg.MaxReconnectDelay {
		delay = c.cfg.MaxReconnectDelay
	}
	return delay
}

// sendOrQueueLocked transmits env when the transport is open, otherwise
// appends it to the FIFO queue for the next connection. Caller holds c.mu.
func (c *Controller) sendOrQueueLocked(env *protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	if c.state != StateConnected || c.conn == nil {
		c.queue = append(c.queue, data)
		return nil
	}
	return c.write(c.conn, data)
}

func (c *Controller) write(conn Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return conn.Write(ctx, data)
}

func (c *Controller) findLocked(id string) (*todo.Todo, int) {
	for i, t := range c.todos {
		if t.ID == id {
			return t, i
		}
	}
	return nil, -1
}

func (c *Controller) replaceLocked(t *todo.Todo) {
	if _, i := c.findLocked(t.ID); i >= 0 {
		c.todos[i] = t
		return
	}
	c.todos = append([]*todo.Todo{t}, c.todos...)
}

func (c *Controller) removeLocked(id string) {
	if _, i := c.findLocked(id); i >= 0 {
		c.todos = append(c.todos[:i], c.todos[i+1:]...)
	}
}

func (c *Controller) insertLocked(t *todo.Todo, pos int) {
	if pos < 0 || pos > len(c.todos) {
		pos = 0
	}
	c.todos = append(c.todos[:pos], append([]*todo.Todo{t}, c.todos[pos:]...)...)
}

func (c *Controller) snapshotLocked() []todo.Todo {
	out := make([]todo.Todo, len(c.todos))
	for i, t := range c.todos {
		out[i] = *t
	}
	return out
}

func (c *Controller) notifyChange() {
	if c.cfg.OnChange == nil {
		return
	}
	c.mu.Lock()
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	c.cfg.OnChange(snapshot)
}

func (c *Controller) surfaceError(message string) {
	c.cfg.Logger.Printf("Error: %s", message)
	if c.cfg.OnError != nil {
		c.cfg.OnError(message)
	}
}

func mergeUpdate(base todo.Todo, input todo.UpdateInput) *todo.Todo {
	merged := base
	if input.Title != nil {
		merged.Title = *input.Title
	}
	if input.Description != nil {
		merged.Description = *input.Description
	}
	if input.Priority != nil {
		merged.Priority = *input.Priority
	}
	if input.Completed != nil {
		merged.Completed = *input.Completed
	}
	merged.UpdatedAt = time.Now()
	return &merged
}
