package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/todosync/todosync/internal/mcptools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve todo tools over MCP on stdin/stdout",
	Long: `Run a Model Context Protocol server exposing the todo list as
tools (todo_create, todo_list, todo_update, todo_delete, todo_toggle,
todo_stats). Intended to be launched by an MCP client, not by hand.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := openService()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		err = mcptools.NewServer(svc).ServeStdio(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
