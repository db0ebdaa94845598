package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/todosync/todosync/internal/protocol"
	"github.com/todosync/todosync/internal/service"
	"github.com/todosync/todosync/internal/todo"
)

const sendTimeout = 5 * time.Second

// Broker owns the set of live WebSocket connections. It dispatches inbound
// messages to the todo service and fans resulting events out to every other
// connection.
//
// Messages from a single connection are handled strictly in arrival order:
// the read loop does not read the next frame until the current one is fully
// dispatched. Connections are handled concurrently with respect to each
// other; conflicting writes are serialized by the store.
type Broker struct {
	svc    *service.Service
	logger *log.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

// NewBroker creates a broker over the given service.
func NewBroker(svc *service.Service, logger *log.Logger) *Broker {
	return &Broker{
		svc:    svc,
		logger: logger,
		conns:  make(map[*websocket.Conn]bool),
	}
}

// Accept admits conn to the connected set, pushes a full snapshot so the
// client starts consistent without an explicit list request, and then blocks
// serving the connection's read loop until the socket closes.
func (b *Broker) Accept(ctx context.Context, conn *websocket.Conn) {
	b.mu.Lock()
	b.conns[conn] = true
	count := len(b.conns)
	b.mu.Unlock()

	b.logger.Printf("Client connected (total: %d)", count)

	if err := b.sendSnapshot(ctx, conn); err != nil {
		b.logger.Printf("Failed to send snapshot: %v", err)
		b.Remove(conn)
		return
	}

	b.readLoop(ctx, conn)
}

// readLoop processes inbound frames one at a time until the connection dies.
func (b *Broker) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer b.Remove(conn)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		b.Dispatch(ctx, conn, data)
	}
}

// Dispatch parses one inbound frame and routes it to the matching handler.
// Parse failures answer with INVALID_MESSAGE to the origin only, under a
// freshly generated message id since the original id is unreadable.
func (b *Broker) Dispatch(ctx context.Context, conn *websocket.Conn, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		b.logger.Printf("Rejected unparseable message: %v", err)
		b.sendToOrigin(ctx, conn, protocol.NewErrorEnvelope("invalid message format", protocol.CodeInvalidMessage, ""))
		return
	}

	switch env.Type {
	case protocol.TypeCreateTodo:
		b.handleCreate(ctx, conn, env)
	case protocol.TypeUpdateTodo:
		b.handleUpdate(ctx, conn, env)
	case protocol.TypeDeleteTodo:
		b.handleDelete(ctx, conn, env)
	case protocol.TypeListTodos:
		b.handleList(ctx, conn, env)
	case protocol.TypePing:
		b.handlePing(ctx, conn, env)
	default:
		b.sendToOrigin(ctx, conn, protocol.NewErrorEnvelope("unknown message type", protocol.CodeUnknownMessageType, env.ID))
	}
}

func (b *Broker) handleCreate(ctx context.Context, conn *websocket.Conn, env *protocol.Envelope) {
	input, err := env.DecodeCreate()
	if err != nil {
		b.sendToOrigin(ctx, conn, protocol.ErrorFromServiceError(err, env.ID))
		return
	}

	created, err := b.svc.Create(ctx, *input)
	if err != nil {
		b.sendToOrigin(ctx, conn, protocol.ErrorFromServiceError(err, env.ID))
		return
	}

	b.confirmAndBroadcast(ctx, conn, protocol.MustEnvelope(protocol.TypeTodoCreated, created))
	b.logger.Printf("Todo created: %s (%q)", created.ID, created.Title)
}

func (b *Broker) handleUpdate(ctx context.Context, conn *websocket.Conn, env *protocol.Envelope) {
	input, err := env.DecodeUpdate()
	if err != nil {
		b.sendToOrigin(ctx, conn, protocol.ErrorFromServiceError(err, env.ID))
		return
	}

	updated, err := b.svc.Update(ctx, *input)
	if err != nil {
		b.sendToOrigin(ctx, conn, protocol.ErrorFromServiceError(err, env.ID))
		return
	}

	b.confirmAndBroadcast(ctx, conn, protocol.MustEnvelope(protocol.TypeTodoUpdated, updated))
	b.logger.Printf("Todo updated: %s", updated.ID)
}

func (b *Broker) handleDelete(ctx context.Context, conn *websocket.Conn, env *protocol.Envelope) {
	payload, err := env.DecodeDelete()
	if err != nil {
		b.sendToOrigin(ctx, conn, protocol.ErrorFromServiceError(err, env.ID))
		return
	}

	if err := b.svc.Delete(ctx, payload.ID); err != nil {
		b.sendToOrigin(ctx, conn, protocol.ErrorFromServiceError(err, env.ID))
		return
	}

	b.confirmAndBroadcast(ctx, conn, protocol.MustEnvelope(protocol.TypeTodoDeleted, protocol.DeletePayload{ID: payload.ID}))
	b.logger.Printf("Todo deleted: %s", payload.ID)
}

func (b *Broker) handleList(ctx context.Context, conn *websocket.Conn, env *protocol.Envelope) {
	filter, err := env.DecodeList()
	if err != nil {
		b.sendToOrigin(ctx, conn, protocol.ErrorFromServiceError(err, env.ID))
		return
	}

	todos, total, err := b.svc.List(ctx, *filter)
	if err != nil {
		b.sendToOrigin(ctx, conn, protocol.ErrorFromServiceError(err, env.ID))
		return
	}

	// List replies go only to the requester; nothing changed to broadcast.
	b.sendToOrigin(ctx, conn, protocol.MustEnvelope(protocol.TypeTodosListed, listResult(todos, total)))
}

func (b *Broker) handlePing(ctx context.Context, conn *websocket.Conn, env *protocol.Envelope) {
	b.sendToOrigin(ctx, conn, protocol.MustEnvelope(protocol.TypePong, struct{}{}))
}

// sendSnapshot pushes the complete unfiltered store content to one client.
func (b *Broker) sendSnapshot(ctx context.Context, conn *websocket.Conn) error {
	todos, total, err := b.svc.List(ctx, todo.Filter{})
	if err != nil {
		return err
	}
	return b.send(ctx, conn, protocol.MustEnvelope(protocol.TypeTodosListed, listResult(todos, total)))
}

// confirmAndBroadcast sends env to the originating connection and then to
// every other member of the connected set. The origin never receives the
// event twice: it already applied the change optimistically.
func (b *Broker) confirmAndBroadcast(ctx context.Context, origin *websocket.Conn, env *protocol.Envelope) {
	b.sendToOrigin(ctx, origin, env)
	b.broadcast(ctx, origin, env)
}

// BroadcastAll fans env out to every connection. Used by interfaces that do
// not hold a connection themselves (REST handlers, the import daemon).
func (b *Broker) BroadcastAll(ctx context.Context, env *protocol.Envelope) {
	b.broadcast(ctx, nil, env)
}

// broadcast sends env to all members except origin. The member list is
// snapshotted under the lock, then sends proceed without it so a slow client
// cannot block admission or removal. A failed send drops that member and
// never aborts delivery to the rest.
func (b *Broker) broadcast(ctx context.Context, origin *websocket.Conn, env *protocol.Envelope) {
	data, err := env.Encode()
	if err != nil {
		b.logger.Printf("Failed to encode broadcast: %v", err)
		return
	}

	b.mu.Lock()
	members := make([]*websocket.Conn, 0, len(b.conns))
	for conn := range b.conns {
		if conn != origin {
			members = append(members, conn)
		}
	}
	b.mu.Unlock()

	for _, conn := range members {
		if err := b.write(ctx, conn, data); err != nil {
			b.logger.Printf("Failed to send to client: %v", err)
			b.Remove(conn)
		}
	}
}

func (b *Broker) sendToOrigin(ctx context.Context, conn *websocket.Conn, env *protocol.Envelope) {
	if err := b.send(ctx, conn, env); err != nil {
		b.logger.Printf("Failed to send %s to origin: %v", env.Type, err)
		b.Remove(conn)
	}
}

func (b *Broker) send(ctx context.Context, conn *websocket.Conn, env *protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return b.write(ctx, conn, data)
}

func (b *Broker) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// Remove drops conn from the connected set and closes it. Safe to call any
// number of times and concurrently with an in-flight broadcast; only the
// first call closes the socket or changes the set.
func (b *Broker) Remove(conn *websocket.Conn) {
	b.mu.Lock()
	if _, exists := b.conns[conn]; !exists {
		b.mu.Unlock()
		return
	}
	delete(b.conns, conn)
	count := len(b.conns)
	b.mu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	b.logger.Printf("Client disconnected (total: %d)", count)
}

// CloseAll disconnects every client, used during server shutdown.
func (b *Broker) CloseAll() {
	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.conns))
	for conn := range b.conns {
		conns = append(conns, conn)
		delete(b.conns, conn)
	}
	b.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// ClientCount returns the number of live connections.
func (b *Broker) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

func listResult(todos []*todo.Todo, total int) protocol.ListResult {
	if todos == nil {
		todos = []*todo.Todo{}
	}
	return protocol.ListResult{Todos: todos, Total: total}
}
