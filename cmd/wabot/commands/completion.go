package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholhewres/wabot/pkg/wabot/config"
)

// completionShells lists the shells `wabot completion` can generate for.
var completionShells = []string{"bash", "zsh", "fish", "powershell"}

// newCompletionCmd creates the `wabot completion` command.
func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion <shell>",
		Short: "Print a shell completion script for wabot",
		Long: `Print a completion script so the shell can complete wabot's
subcommands (serve, check, config init, config show, config set-token)
and the values of --transport (whatsapp, discord).

Try it in the current shell:
  source <(wabot completion bash)

Install it for every new bash session:
  wabot completion bash > ~/.local/share/bash-completion/completions/wabot

Zsh and fish:
  wabot completion zsh > "${fpath[1]}/_wabot"
  wabot completion fish > ~/.config/fish/completions/wabot.fish

After that, "wabot serve --transport <TAB>" offers the supported transports.`,
		DisableFlagsInUseLine: true,
		ValidArgs:             completionShells,
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, out := cmd.Root(), cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(out, true)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(out)
			}
			return fmt.Errorf("unsupported shell %q", args[0])
		},
	}
}

// completeTransport offers the transport names for --transport.
func completeTransport(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{
		config.TransportWhatsApp + "\tWhatsApp Web multi-device session",
		config.TransportDiscord + "\tDiscord bot account",
	}, cobra.ShellCompDirectiveNoFileComp
}
