// Package server hosts the todo sync server: the WebSocket connection broker,
// the REST/JSON API, and a minimal HTML page, all on one HTTP listener.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/todosync/todosync/internal/service"
)

// Config holds server configuration.
type Config struct {
	// Port to listen on. 0 picks a random free port.
	Port int

	// Logger for server activity. Defaults to a stderr logger.
	Logger *log.Logger
}

// Server ties the HTTP listener, the broker, and the REST API together.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	svc    *service.Service
	broker *Broker
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server over the given service.
func New(svc *service.Service, config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:   fmt.Sprintf(":%d", config.Port),
		svc:    svc,
		broker: NewBroker(svc, logger),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Broker exposes the connection broker so collaborators that mutate the
// store outside a WebSocket connection (REST, importer) can fan out events.
func (s *Server) Broker() *Broker {
	return s.broker
}

// Start begins listening and serving. It returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleIndex)
	s.registerAPI(mux)

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: WebSocket connections outlive any sane value.
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the server down, closing every client connection.
func (s *Server) Stop() error {
	s.logger.Println("Stopping server")
	s.cancel()
	s.broker.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	s.logger.Println("Server stopped")
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	return s.broker.ClientCount()
}

// handleWebSocket upgrades the request and hands the connection to the
// broker, blocking for the connection's lifetime.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.broker.Accept(r.Context(), conn)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.broker.ClientCount(),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, indexHTML, r.Host)
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
  <title>Todo Sync</title>
  <style>
    body { font-family: sans-serif; max-width: 40rem; margin: 2rem auto; }
    li.done span { text-decoration: line-through; color: #888; }
    li { margin: .25rem 0; list-style: none; }
    #status { float: right; font-size: .8rem; color: #888; }
  </style>
</head>
<body>
  <span id="status">connecting</span>
  <h1>Todos</h1>
  <form id="add"><input id="title" placeholder="What needs doing?" maxlength="255"><button>Add</button></form>
  <ul id="list"></ul>
  <script>
    const ws = new WebSocket('ws://%s/ws');
    let todos = [];
    const envelope = (type, payload) => JSON.stringify(
      { id: crypto.randomUUID(), type, payload, timestamp: Date.now() });
    ws.onopen = () => { document.getElementById('status').textContent = 'connected'; };
    ws.onclose = () => { document.getElementById('status').textContent = 'disconnected'; };
    ws.onmessage = (ev) => {
      const msg = JSON.parse(ev.data);
      if (msg.type === 'todos_listed') todos = msg.payload.todos;
      if (msg.type === 'todo_created') todos = [msg.payload, ...todos.filter(t => t.id !== msg.payload.id)];
      if (msg.type === 'todo_updated') todos = todos.map(t => t.id === msg.payload.id ? msg.payload : t);
      if (msg.type === 'todo_deleted') todos = todos.filter(t => t.id !== msg.payload.id);
      render();
    };
    function render() {
      const list = document.getElementById('list');
      list.innerHTML = '';
      for (const t of todos) {
        const li = document.createElement('li');
        li.className = t.completed ? 'done' : '';
        const box = document.createElement('input');
        box.type = 'checkbox';
        box.checked = t.completed;
        box.onchange = () => ws.send(envelope('update_todo', { id: t.id, completed: !t.completed }));
        const span = document.createElement('span');
        span.textContent = ' ' + t.title + ' ';
        const del = document.createElement('button');
        del.textContent = 'x';
        del.onclick = () => ws.send(envelope('delete_todo', { id: t.id }));
        li.append(box, span, del);
        list.appendChild(li);
      }
    }
    document.getElementById('add').onsubmit = (ev) => {
      ev.preventDefault();
      const input = document.getElementById('title');
      if (input.value.trim()) ws.send(envelope('create_todo', { title: input.value.trim() }));
      input.value = '';
    };
  </script>
</body>
</html>`
