package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/scrawl-dev/scrawl/internal/config"
	"github.com/scrawl-dev/scrawl/internal/logging"
	"github.com/scrawl-dev/scrawl/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the synchronization authority",
	Long: `Run the single authoritative scrawl process: the websocket endpoint
clients connect to, the operation log, and the presence registry.

Examples:
  scrawl serve
  scrawl serve --port 9000 --storage-path ./board.db
  SCRAWL_AUTH_SECRET=... scrawl serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8320, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().StringSlice("allowed-origins", nil, "Extra allowed websocket origins (\"*\" allows all)")
	serveCmd.Flags().String("storage-path", "", "SQLite file for durable history (empty: memory only)")

	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.allowed_origins", serveCmd.Flags().Lookup("allowed-origins"))
	_ = viper.BindPFlag("storage.path", serveCmd.Flags().Lookup("storage-path"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := logging.New(&logging.Options{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() { errChan <- srv.Start() }()

	fmt.Printf("Scrawl authority listening at ws://%s/ws\n", cfg.Addr())

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		logger.Info(cmd.Context(), "shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
