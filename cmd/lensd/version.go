package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Printf("lensd %s (%s)\n", version, commit)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
