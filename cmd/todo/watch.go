package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/todosync/todosync/internal/client"
	"github.com/todosync/todosync/internal/logging"
	"github.com/todosync/todosync/internal/todo"
)

var watchURL string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the list live over WebSocket",
	Long: `Connect to a running server and reprint the list whenever any
client changes it. Reconnects automatically if the server goes away.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		url := watchURL
		if !cmd.Flags().Changed("url") {
			url = cfg.Client.URL
		}

		ctrl := client.New(client.Config{
			URL:                  url,
			BaseReconnectDelay:   cfg.Client.ReconnectDelay,
			MaxReconnectDelay:    cfg.Client.MaxReconnectDelay,
			MaxReconnectAttempts: cfg.Client.MaxReconnectAttempts,
			PingInterval:         cfg.Client.PingInterval,
			OnChange:             printTodos,
			OnError: func(message string) {
				fmt.Fprintf(os.Stderr, "Server error: %s\n", message)
			},
			Logger: logging.New("[watch] ", logging.Options{}),
		})

		if err := ctrl.Connect(cmd.Context()); err != nil {
			return fmt.Errorf("failed to connect to %s: %w", url, err)
		}
		defer ctrl.Close()

		fmt.Printf("Watching %s (Ctrl+C to stop)\n", url)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()
		return nil
	},
}

func printTodos(todos []todo.Todo) {
	fmt.Printf("\n--- %d todo(s) ---\n", len(todos))
	for i := range todos {
		fmt.Println(renderLine(&todos[i]))
	}
}

func init() {
	watchCmd.Flags().StringVar(&watchURL, "url", "ws://localhost:8080/ws", "WebSocket endpoint to watch")

	rootCmd.AddCommand(watchCmd)
}
