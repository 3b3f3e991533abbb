// Package commands implements the wabot CLI commands using cobra.
package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jholhewres/wabot/pkg/wabot/config"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wabot",
		Short: "wabot - keyword auto-replies and scheduled messages",
		Long: `wabot is a configuration-driven chat bot. It answers incoming
messages by keyword and sends scheduled messages on timers, over
WhatsApp or Discord.

Examples:
  wabot config init
  wabot check
  wabot serve
  wabot serve --transport discord --config ./config.yaml`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newCheckCmd(),
		newConfigCmd(),
		newCompletionCmd(),
	)

	// Global flags.
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// resolveConfig loads the config from --config or the first file found by
// auto-discovery. It returns the loaded config and its path.
func resolveConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath == "" {
		configPath = config.FindConfigFile()
		if configPath == "" {
			return nil, "", fmt.Errorf("no configuration file found, run 'wabot config init' to create one")
		}
		slog.Debug("config discovered", "path", configPath)
	}

	cfg, err := config.LoadConfigFromFile(configPath)
	if err != nil {
		return nil, configPath, err
	}
	return cfg, configPath, nil
}
