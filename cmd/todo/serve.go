package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/todosync/todosync/internal/importer"
	"github.com/todosync/todosync/internal/logging"
	"github.com/todosync/todosync/internal/server"
)

var (
	servePort      int
	serveImportDir string
	serveLogFile   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST, web, and WebSocket sync server",
	Long: `Start the server exposing every remote interface at once:

  GET  /                       # web page with a live-updating list
  GET  /ws                     # WebSocket sync protocol
  GET  /health                 # health check
  GET  /api/todos              # REST API (plus POST/PUT/PATCH/DELETE)

Every change made through any interface is pushed to connected WebSocket
clients. With --import-dir, todo JSON files dropped into that directory
are ingested and broadcast too.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := openService()
		if err != nil {
			return err
		}
		defer cleanup()

		logFile := serveLogFile
		if logFile == "" {
			logFile = cfg.Log.File
		}
		logOpts := logging.Options{
			File:       logFile,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		}

		port := servePort
		if !cmd.Flags().Changed("port") {
			port = cfg.Server.Port
		}

		srv := server.New(svc, &server.Config{
			Port:   port,
			Logger: logging.New("[server] ", logOpts),
		})
		if err := srv.Start(); err != nil {
			return err
		}

		importDir := serveImportDir
		if importDir == "" && cfg.Import.Enabled {
			importDir = cfg.Import.Dir
		}

		var imp *importer.Importer
		if importDir != "" {
			imp, err = importer.New(svc, srv.Broker(), importDir, logging.New("[importer] ", logOpts))
			if err != nil {
				srv.Stop()
				return err
			}
			if err := imp.Start(cmd.Context()); err != nil {
				srv.Stop()
				return err
			}
		}

		fmt.Printf("Server started on http://%s\n", srv.Addr())
		fmt.Printf("WebSocket endpoint: ws://%s/ws\n", srv.Addr())
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		fmt.Println("\nShutting down...")
		if imp != nil {
			if err := imp.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Error stopping importer: %v\n", err)
			}
		}
		return srv.Stop()
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveImportDir, "import-dir", "", "Directory to watch for todo JSON files")
	serveCmd.Flags().StringVar(&serveLogFile, "log-file", "", "Write logs to a rotated file instead of stderr")

	rootCmd.AddCommand(serveCmd)
}
