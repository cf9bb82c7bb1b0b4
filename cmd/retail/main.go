/*
main.go - Application entry point

PURPOSE:
  Runs the retail command. All startup, configuration and shutdown logic
  lives in the cli package so it can be exercised by tests.

EXAMPLES:
  # Run the API with a file database
  retail serve --db ./data/retail.db

  # Populate demo data, then check it
  retail seed --db ./data/retail.db --scenario busy-week
  retail scan --db ./data/retail.db

SEE ALSO:
  - cli/root.go: Commands and global flags
  - config/config.go: Configuration file and environment
*/
package main

import (
	"fmt"
	"os"

	"github.com/warp/retail-records/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
