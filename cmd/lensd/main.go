package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "lensd",
	Short: "Temporal profiling server core",
	Long: `lensd drains an instrumented producer's shared-memory telemetry
(frame boundaries, instrumented scopes, plot samples) into an in-memory,
disk-backed time series store, and exposes it to query callers.

The HTTP surface is out of scope for this binary; it only wires the
shared-memory reader, the poller, and the query stores together.`,
	Version: version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.AddCommand(serveCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error), overrides --config's log_level")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
}
