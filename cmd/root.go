// Package cmd implements the dernego command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/dernego/config"
	"github.com/kilianp07/dernego/core/recorder"
	"github.com/kilianp07/dernego/infra/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "dernego",
	Short:         "Negotiate DER schedules against aggregate targets",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(cfg.Logging.Level)
	recorder.SetLogger(logger.New("recorder"))
	return cfg, nil
}
