// Package cli implements the tabled command line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "tabled",
	Short: "In-memory relational store served over TCP",
	Long: `tabled is an in-memory, schema-defined, multi-table relational store.

Clients issue row-oriented operations (insert, update, get, drop, scan)
over a binary TCP protocol. The store enforces schema and referential
integrity at write time, supports optimistic concurrency via per-row
versions, and cascades deletion to every row that transitively
references a dropped row.

All state is held in memory: nothing survives a restart.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and returns a process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
