package main

import (
	"github.com/spf13/cobra"
	"github.com/srg/blehid/internal/config"
)

// loadConfig reads --config (or the default path) and applies override to
// the result before validating it.
func loadConfig(cmd *cobra.Command, override func(*config.Config)) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
