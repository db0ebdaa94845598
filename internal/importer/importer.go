// Package importer ingests todo JSON files dropped into a watched directory.
//
// Each file holds one todo: {"title": "...", "description": "...",
// "priority": "low|medium|high", "completed": false}. A file named
// <id>.json whose id matches an existing todo updates it; otherwise a new
// todo is created and the file stays associated with it for later modifies
// and deletes. Deleting a file deletes the todo. Every resulting change is
// fanned out to connected WebSocket clients.
//
// Individual file failures are logged and skipped; the importer never stops
// over one bad file.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/todosync/todosync/internal/protocol"
	"github.com/todosync/todosync/internal/service"
	"github.com/todosync/todosync/internal/todo"
)

// Broadcaster fans a server event out to connected clients. Satisfied by
// *server.Broker; the importer has no originating connection to exclude.
type Broadcaster interface {
	BroadcastAll(ctx context.Context, env *protocol.Envelope)
}

// fileTodo is the on-disk shape. Unknown ids are treated as creations.
type fileTodo struct {
	ID          string        `json:"id,omitempty"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Priority    todo.Priority `json:"priority,omitempty"`
	Completed   bool          `json:"completed,omitempty"`
}

// Importer watches a directory and applies file changes to the service.
type Importer struct {
	svc       *service.Service
	broadcast Broadcaster
	dir       string
	logger    *log.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	// byFile remembers which todo id each file produced, so deletes and
	// repeated modifies resolve without an id in the filename.
	byFile map[string]string
}

// New creates an importer for dir. Start must be called to begin watching.
func New(svc *service.Service, broadcast Broadcaster, dir string, logger *log.Logger) (*Importer, error) {
	if dir == "" {
		return nil, fmt.Errorf("import directory cannot be empty")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[importer] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Importer{
		svc:       svc,
		broadcast: broadcast,
		dir:       dir,
		logger:    logger,
		watcher:   watcher,
		done:      make(chan struct{}),
		byFile:    map[string]string{},
	}, nil
}

// Start performs an initial pass over existing files and begins watching.
func (im *Importer) Start(ctx context.Context) error {
	im.mu.Lock()
	if im.running {
		im.mu.Unlock()
		return fmt.Errorf("importer already running")
	}
	im.running = true
	im.mu.Unlock()

	if err := os.MkdirAll(im.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create import directory: %w", err)
	}
	if err := im.watcher.Add(im.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", im.dir, err)
	}

	im.initialPass(ctx)

	im.wg.Add(1)
	go im.loop(ctx)

	im.logger.Printf("Watching %s for todo files", im.dir)
	return nil
}

// Stop ends watching and waits for the event loop to exit. Idempotent.
func (im *Importer) Stop() error {
	im.mu.Lock()
	if !im.running {
		im.mu.Unlock()
		return nil
	}
	im.running = false
	im.mu.Unlock()

	close(im.done)
	if err := im.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	im.wg.Wait()
	return nil
}

// initialPass imports files already present when the importer starts.
func (im *Importer) initialPass(ctx context.Context) {
	entries, err := os.ReadDir(im.dir)
	if err != nil {
		im.logger.Printf("Failed to read import directory: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		im.importFile(ctx, filepath.Join(im.dir, entry.Name()))
	}
}

func (im *Importer) loop(ctx context.Context) {
	defer im.wg.Done()

	for {
		select {
		case <-im.done:
			return
		case event, ok := <-im.watcher.Events:
			if !ok {
				return
			}
			im.handleEvent(ctx, event)
		case err, ok := <-im.watcher.Errors:
			if !ok {
				return
			}
			im.logger.Printf("Watcher error: %v", err)
		}
	}
}

func (im *Importer) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".json") {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write):
		im.importFile(ctx, event.Name)
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		im.removeFile(ctx, event.Name)
	}
}

// importFile reads one file and upserts it through the service.
func (im *Importer) importFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		im.logger.Printf("Skipping %s: %v", filepath.Base(path), err)
		return
	}

	var ft fileTodo
	if err := json.Unmarshal(data, &ft); err != nil {
		im.logger.Printf("Skipping invalid todo file %s: %v", filepath.Base(path), err)
		return
	}

	id := ft.ID
	if id == "" {
		// A file named after an id it does not carry inside still updates.
		id = strings.TrimSuffix(filepath.Base(path), ".json")
	}

	im.mu.Lock()
	if known, ok := im.byFile[path]; ok && ft.ID == "" {
		id = known
	}
	im.mu.Unlock()

	if existing, err := im.svc.Get(ctx, id); err == nil {
		im.updateExisting(ctx, path, existing, ft)
		return
	} else if !todo.IsNotFound(err) {
		im.logger.Printf("Skipping %s: %v", filepath.Base(path), err)
		return
	}

	created, err := im.svc.Create(ctx, todo.CreateInput{
		Title:       ft.Title,
		Description: ft.Description,
		Priority:    ft.Priority,
	})
	if err != nil {
		im.logger.Printf("Skipping invalid todo file %s: %v", filepath.Base(path), err)
		return
	}

	if ft.Completed {
		if done, err := im.svc.MarkCompleted(ctx, created.ID); err == nil {
			created = done
		}
	}

	im.mu.Lock()
	im.byFile[path] = created.ID
	im.mu.Unlock()

	im.broadcast.BroadcastAll(ctx, protocol.MustEnvelope(protocol.TypeTodoCreated, created))
	im.logger.Printf("Imported %s as %s", filepath.Base(path), created.ID)
}

func (im *Importer) updateExisting(ctx context.Context, path string, existing *todo.Todo, ft fileTodo) {
	input := todo.UpdateInput{ID: existing.ID}
	if ft.Title != "" && ft.Title != existing.Title {
		input.Title = &ft.Title
	}
	if ft.Description != existing.Description {
		input.Description = &ft.Description
	}
	if ft.Priority != "" && ft.Priority != existing.Priority {
		input.Priority = &ft.Priority
	}
	if ft.Completed != existing.Completed {
		input.Completed = &ft.Completed
	}
	if input.Title == nil && input.Description == nil && input.Priority == nil && input.Completed == nil {
		return // nothing changed
	}

	updated, err := im.svc.Update(ctx, input)
	if err != nil {
		im.logger.Printf("Skipping invalid todo file %s: %v", filepath.Base(path), err)
		return
	}

	im.mu.Lock()
	im.byFile[path] = updated.ID
	im.mu.Unlock()

	im.broadcast.BroadcastAll(ctx, protocol.MustEnvelope(protocol.TypeTodoUpdated, updated))
	im.logger.Printf("Updated %s from %s", updated.ID, filepath.Base(path))
}

// removeFile deletes the todo a vanished file produced, if any.
func (im *Importer) removeFile(ctx context.Context, path string) {
	im.mu.Lock()
	id, ok := im.byFile[path]
	delete(im.byFile, path)
	im.mu.Unlock()

	if !ok {
		id = strings.TrimSuffix(filepath.Base(path), ".json")
	}

	if err := im.svc.Delete(ctx, id); err != nil {
		if !todo.IsNotFound(err) {
			im.logger.Printf("Failed to delete %s: %v", id, err)
		}
		return
	}

	im.broadcast.BroadcastAll(ctx, protocol.MustEnvelope(protocol.TypeTodoDeleted, protocol.DeletePayload{ID: id}))
	im.logger.Printf("Deleted %s after %s vanished", id, filepath.Base(path))
}
