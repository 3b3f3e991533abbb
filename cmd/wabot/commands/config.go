package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/wabot/pkg/wabot/config"
)

// newConfigCmd creates the `wabot config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
		Long: `Manage the wabot configuration.

Examples:
  wabot config init
  wabot config init --force ./configs/config.yaml
  wabot config show
  wabot config set-token
  wabot config set-token --delete`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigSetTokenCmd(),
	)

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter config.yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) == 1 {
				path = args[0]
			}

			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			if err := config.SaveConfigToFile(config.ExampleConfig(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			masked := *cfg
			masked.Discord.Token = config.MaskSecret(cfg.Discord.Token)

			data, err := yaml.Marshal(&masked)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigSetTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-token [token]",
		Short: "Store the Discord bot token in the OS keyring",
		Long: `Store the Discord bot token in the OS keyring so it does not have to
live in config.yaml or the environment. A token set in config.yaml still
takes precedence; DISCORD_BOT_TOKEN is only used when the keyring is empty.

Without an argument the token is read from stdin (hidden on a terminal).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if del, _ := cmd.Flags().GetBool("delete"); del {
				if err := config.DeleteDiscordToken(); err != nil {
					return fmt.Errorf("deleting token from keyring: %w", err)
				}
				fmt.Fprintln(out, "Discord token removed from the keyring")
				return nil
			}

			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				var err error
				if token, err = readSecret(cmd.InOrStdin(), out, "Discord bot token: "); err != nil {
					return err
				}
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return errors.New("no token given")
			}

			if err := config.StoreDiscordToken(token); err != nil {
				return fmt.Errorf("storing token in keyring: %w", err)
			}
			fmt.Fprintf(out, "Discord token %s stored in the keyring\n", config.MaskSecret(token))
			return nil
		},
	}
	cmd.Flags().Bool("delete", false, "remove the stored token")
	return cmd
}

// readSecret reads one line from in. Echo is disabled when in is a terminal.
func readSecret(in io.Reader, out io.Writer, prompt string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(out, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("reading token: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
