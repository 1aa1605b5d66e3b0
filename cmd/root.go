// Package cmd holds the command line entry points of the companion server.
package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/companion-graph/companion/config"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		cfg        *config.Config
		logger     zerolog.Logger
	)

	rootCmd := &cobra.Command{
		Use:           "companion",
		Short:         "Conversational companion engine",
		Long:          "companion serves chat turns with characters, keeps their short and long-term memory and writes diaries and social posts as conversations grow.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			loaded, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			logger = config.NewLogger(cfg.Log, os.Stderr)
			config.Watch(logger)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default searches ./config.yaml and /etc/companion)")

	env := func() (*config.Config, zerolog.Logger) { return cfg, logger }
	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(env),
		newMigrateCmd(env),
	)
	return rootCmd
}

// envFunc hands subcommands the config and logger resolved by the root command.
type envFunc func() (*config.Config, zerolog.Logger)
