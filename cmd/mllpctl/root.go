package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danmuck/mllp/internal/config"
	"github.com/danmuck/mllp/internal/logging"
)

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:           "mllpctl",
		Short:         "MLLP listener and sender",
		Long:          `Run an HL7 MLLP listener or send a single message to one.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" && !logging.SetLevel(logLevel) {
				return fmt.Errorf("unknown log level: %s", logLevel)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(newServeCmd(), newSendCmd(), newConfigCmd())
	return root
}

// loadConfig reads path and applies its log level unless --log-level was set.
func loadConfig(cmd *cobra.Command, path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if !cmd.Flags().Changed("log-level") {
		logging.SetLevel(cfg.LogLevel)
	}
	return cfg, nil
}
