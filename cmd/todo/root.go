package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/todosync/todosync/internal/config"
	"github.com/todosync/todosync/internal/service"
	"github.com/todosync/todosync/internal/store"
)

var (
	dbPath  string
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "todo",
	Short: "A synced todo list with CLI, web, WebSocket, and MCP interfaces",
	Long: `todo manages a shared todo list backed by SQLite.

The same list is reachable four ways:
  todo add/list/done/...    # this CLI
  todo serve                # REST API + web page + WebSocket sync
  todo watch                # live view of changes from other clients
  todo mcp                  # MCP tool server over stdio

All interfaces see the same database, and the serve command pushes every
change to connected WebSocket clients as it happens.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		if dbPath != "" {
			cfg.Database.Path = dbPath
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the SQLite database (default from config)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default todo.yaml in . or ~/.config/todo)")
}

// openService opens the store and wraps it in the service layer. Callers
// must invoke the returned cleanup function.
func openService() (*service.Service, func(), error) {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := st.InitSchema(context.Background()); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	svc := service.New(st, service.Config{MaxTodos: cfg.Database.MaxTodos})
	cleanup := func() { st.Close() }
	return svc, cleanup, nil
}
