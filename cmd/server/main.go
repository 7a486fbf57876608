/*
main.go - Application entry point

PURPOSE:
  Command-line front end of the affectation engine. Configuration comes
  from the environment (see package config); flags only select what to run.

COMMANDS:
  serve     Start the HTTP API (and the stale-period monitor)
  migrate   Apply embedded migrations for the configured driver, print status
  tablero   Print the dashboard of a quincena as JSON

GRACEFUL SHUTDOWN (serve):
  On SIGINT/SIGTERM:
  1. Stop the period monitor
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Flush traces, close the store
  5. Exit

EXAMPLES:
  # Run with the default SQLite file
  ./server serve

  # Run in memory with demo data
  DB_DRIVER=memory ./server serve --scenario quincena-en-curso

  # Dashboard for two units
  ./server tablero --anio 2025 --quincena 3 --unidad 01/02 --unidad 01/04

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment variables
*/
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "afectaciones",
		Short:         "Affectation registration and progress-tracking engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newTableroCmd())
	return cmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
