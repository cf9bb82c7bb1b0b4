package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	Format string
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Check every sale's references",
		Long: `Scan all sales for customer, product or store references that no
longer resolve and print the report.

Exits 1 when dangling references are found, so the command can gate a
cron job or a deploy.

Example:
  retail scan --db ./retail.db
  retail scan --storage dynamodb --format json`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return checkFormat(opts.Format)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	return cmd
}

func runScan(opts *ScanOptions, cmd *cobra.Command) error {
	ctx := contextOf(cmd)
	backend, svc, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer opts.closeBackend(backend)

	report, err := svc.Scanner.Scan(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "scan failed", err)
	}

	if opts.Format == "json" {
		err = writeJSON(cmd, report)
	} else {
		err = report.WriteText(cmd.OutOrStdout())
	}
	if err != nil {
		return err
	}

	if !report.Clean() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d sale(s) with dangling references", len(report.Orphans)))
	}
	return nil
}

func checkFormat(format string) error {
	if !slices.Contains(ValidFormats, format) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", format, ValidFormats))
	}
	return nil
}
