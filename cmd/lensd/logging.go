package main

import (
	"github.com/spf13/cobra"

	"github.com/srg/lensd/internal/config"
)

// loadConfig builds a config.Config from --config (if given, else defaults)
// and applies a --log-level override on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	if path != "" {
		c, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		cfg = config.DefaultConfig()
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	return cfg, nil
}
