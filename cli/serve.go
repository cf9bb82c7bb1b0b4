/*
serve.go - HTTP server command

STARTUP SEQUENCE:
  1. Resolve configuration (root PersistentPreRunE)
  2. Open the storage backend
  3. Create services, API handler and router
  4. Start the integrity scheduler
  5. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM (or when the command context is cancelled):
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Stop the integrity scheduler
  4. Close the storage backend

EXAMPLES:
  # Run with file database
  retail serve --db ./data/retail.db

  # Run with in-memory storage
  retail serve --storage memory

  # Run against DynamoDB Local
  RETAIL_DYNAMODB_ENDPOINT=http://localhost:8000 retail serve --storage dynamodb
*/
package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/warp/retail-records/api"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Port int
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API and the periodic integrity scan.

Example:
  retail serve --port 3000 --db ./retail.db
  retail serve --storage memory --log-level debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Port, "port", 8080, "HTTP server port (overrides server.port)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg := opts.Config
	logger := opts.Logger

	ctx, stop := signal.NotifyContext(contextOf(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, svc, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer opts.closeBackend(backend)

	handler := api.NewHandler(svc, backend, logger)
	handler.Scheduler.Enabled = cfg.Integrity.Enabled
	handler.Scheduler.CheckInterval = cfg.Integrity.Interval
	handler.Scheduler.Start()
	defer handler.Scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(handler, cfg.Server.CORSOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	failed := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "storage", cfg.Storage.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- err
		}
	}()

	// Wait for interrupt signal
	select {
	case <-ctx.Done():
	case err := <-failed:
		return WrapExitError(ExitCommandError, "server failed", err)
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitCommandError, "server forced to shutdown", err)
	}

	logger.Info("server stopped")
	return nil
}
