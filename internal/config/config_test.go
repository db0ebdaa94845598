package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Run from an empty directory so no stray todo.yaml is picked up.
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Database.MaxTodos != 10000 {
		t.Errorf("Expected default cap 10000, got %d", cfg.Database.MaxTodos)
	}
	if cfg.Client.PingInterval != 30*time.Second {
		t.Errorf("Expected 30s ping interval, got %v", cfg.Client.PingInterval)
	}
	if cfg.Client.MaxReconnectAttempts != 5 {
		t.Errorf("Expected 5 reconnect attempts, got %d", cfg.Client.MaxReconnectAttempts)
	}
	if cfg.Database.Path == "" {
		t.Error("Database path should have a default")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
database:
  path: /tmp/custom.db
  max_todos: 42
server:
  port: 9000
client:
  ping_interval: 5s
`)
	if err := os.WriteFile(filepath.Join(dir, "todo.yaml"), yaml, 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	t.Chdir(dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Path != "/tmp/custom.db" || cfg.Database.MaxTodos != 42 {
		t.Errorf("Database config not applied: %+v", cfg.Database)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port not applied: %d", cfg.Server.Port)
	}
	if cfg.Client.PingInterval != 5*time.Second {
		t.Errorf("Ping interval not applied: %v", cfg.Client.PingInterval)
	}
	// Unset keys keep their defaults.
	if cfg.Client.MaxReconnectAttempts != 5 {
		t.Errorf("Default lost: %d", cfg.Client.MaxReconnectAttempts)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TODO_SERVER_PORT", "7070")
	t.Setenv("TODO_DATABASE_MAX_TODOS", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Env port not applied: %d", cfg.Server.Port)
	}
	if cfg.Database.MaxTodos != 7 {
		t.Errorf("Env cap not applied: %d", cfg.Database.MaxTodos)
	}
}

func TestLoadExplicitPath(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 6161\n"), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 6161 {
		t.Errorf("Explicit config file not applied: %d", cfg.Server.Port)
	}

	// An explicit path that does not exist is an error, unlike the default
	// search which tolerates absence.
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Missing explicit config file should be an error")
	}
}

func TestMalformedFileRejected(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "todo.yaml"), []byte("{not yaml: ["), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	t.Chdir(dir)

	if _, err := Load(""); err == nil {
		t.Error("Malformed config file should be an error")
	}
}
