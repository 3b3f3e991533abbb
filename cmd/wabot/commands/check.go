package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newCheckCmd creates the `wabot check` command that validates the config.
func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Config:      %s\n", path)
			fmt.Fprintf(w, "Transport:   %s\n", cfg.TransportName())
			fmt.Fprintf(w, "Auto-reply:  %s (%d keywords, default reply %s)\n",
				onOff(cfg.AutoReply.Enabled), len(cfg.AutoReply.Keywords), onOff(cfg.AutoReply.UseDefaultReply))
			fmt.Fprintf(w, "Auto-send:   %s (%d scheduled messages)\n",
				onOff(cfg.AutoSend.Enabled), len(cfg.AutoSend.Messages))
			fmt.Fprintln(w, "OK")
			return nil
		},
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
