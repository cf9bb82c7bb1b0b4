/*
Package cli implements the retail command.

COMMANDS:
  retail serve   Start the HTTP API and the integrity scheduler
  retail seed    Load a demo scenario into the configured backend
  retail scan    Run one integrity scan and print the report

GLOBAL FLAGS:
  --config     YAML config file (see config package)
  --db         SQLite database path, ":memory:" for a throwaway database
  --storage    memory | sqlite | dynamodb
  --log-level  debug | info | warn | error

Flags override the environment, which overrides the config file.

SEE ALSO:
  - config/config.go: Settings and precedence
  - cmd/retail/main.go: Entry point
*/
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/retail-records/config"
	"github.com/warp/retail-records/retail"
)

// RootOptions holds global flags and the configuration resolved from them.
type RootOptions struct {
	ConfigPath string
	DB         string
	Storage    string
	LogLevel   string

	// Populated by the root PersistentPreRunE.
	Config config.Config
	Logger *slog.Logger

	// Getenv reads the environment. Nil uses os.Getenv.
	Getenv func(string) string
	// Clock and ScanIDs override the scanner's defaults (for testing).
	Clock   func() time.Time
	ScanIDs func() string
}

// NewRootCommand creates the root command for the retail CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retail",
		Short: "Retail records service",
		Long: `Stores customers, products, stores and the sales that link them,
and keeps every sale's references valid.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd)
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "SQLite database path (overrides storage.sqlite_path)")
	cmd.PersistentFlags().StringVar(&opts.Storage, "storage", "", "storage driver: memory, sqlite or dynamodb")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level: debug, info, warn or error")

	// Add subcommands
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewScanCommand(opts))

	return cmd
}

// resolve builds the effective configuration: file, then environment,
// then flags that were set explicitly.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	getenv := o.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return WrapExitError(ExitCommandError, "invalid environment", err)
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Storage.SQLitePath = o.DB
	}
	if flags.Changed("storage") {
		cfg.Storage.Driver = o.Storage
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.LogLevel
	}
	if err := applyCommandFlags(cmd, &cfg); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	o.Config = cfg
	o.Logger = cfg.Logger(cmd.ErrOrStderr())
	return nil
}

// applyCommandFlags applies flags that belong to a single subcommand but
// land in the shared configuration.
func applyCommandFlags(cmd *cobra.Command, cfg *config.Config) error {
	if f := cmd.Flags().Lookup("port"); f != nil && f.Changed {
		port, err := cmd.Flags().GetInt("port")
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --port", err)
		}
		cfg.Server.Port = port
	}
	return nil
}

// open connects the configured backend and builds the services over it.
// Callers close the returned backend.
func (o *RootOptions) open(ctx context.Context) (retail.Backend, *retail.Services, error) {
	b, err := openBackend(ctx, o.Config.Storage, o.Logger)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open storage", err)
	}

	retries := o.Config.Concurrency.UpdateRetries
	svc := retail.NewServices(b, retail.Options{Retries: &retries, Logger: o.Logger})
	if o.Clock != nil {
		svc.Scanner.Clock = o.Clock
	}
	if o.ScanIDs != nil {
		svc.Scanner.IDs = o.ScanIDs
	}
	return b, svc, nil
}

func (o *RootOptions) closeBackend(b retail.Backend) {
	if err := b.Close(); err != nil {
		o.Logger.Error("error closing storage", "error", err)
	}
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
