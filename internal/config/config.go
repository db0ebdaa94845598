// Package config loads settings from a config file, environment variables,
// and defaults, in that order of increasing precedence for the environment.
//
// The config file is todo.yaml, looked up in the current directory and in
// $HOME/.config/todo/. Every key can also be set through the environment
// with a TODO_ prefix, e.g. TODO_SERVER_PORT=9000.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime settings.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Client   ClientConfig   `mapstructure:"client"`
	Import   ImportConfig   `mapstructure:"import"`
	Log      LogConfig      `mapstructure:"log"`
}

type DatabaseConfig struct {
	Path     string `mapstructure:"path"`
	MaxTodos int    `mapstructure:"max_todos"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type ClientConfig struct {
	URL                  string        `mapstructure:"url"`
	PingInterval         time.Duration `mapstructure:"ping_interval"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay    time.Duration `mapstructure:"max_reconnect_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
}

type ImportConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Load reads todo.yaml (if present) and the environment. An explicit path
// must exist; otherwise a missing config file is not an error, but a
// malformed one is.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("todo")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "todo"))
		}
	}

	v.SetEnvPrefix("TODO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", defaultDBPath())
	v.SetDefault("database.max_todos", 10000)
	v.SetDefault("server.port", 8080)
	v.SetDefault("client.url", "ws://localhost:8080/ws")
	v.SetDefault("client.ping_interval", 30*time.Second)
	v.SetDefault("client.reconnect_delay", time.Second)
	v.SetDefault("client.max_reconnect_delay", 30*time.Second)
	v.SetDefault("client.max_reconnect_attempts", 5)
	v.SetDefault("import.enabled", false)
	v.SetDefault("import.dir", "")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "todos.db"
	}
	return filepath.Join(home, ".local", "share", "todo", "todos.db")
}
