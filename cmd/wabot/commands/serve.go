package commands

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/wabot/pkg/wabot/bot"
	"github.com/jholhewres/wabot/pkg/wabot/channels"
	"github.com/jholhewres/wabot/pkg/wabot/channels/discord"
	"github.com/jholhewres/wabot/pkg/wabot/channels/whatsapp"
	"github.com/jholhewres/wabot/pkg/wabot/config"
	"github.com/jholhewres/wabot/pkg/wabot/logging"
	"github.com/jholhewres/wabot/pkg/wabot/scheduler"
)

// shutdownTimeout bounds the graceful shutdown after a signal.
const shutdownTimeout = 10 * time.Second

// newServeCmd creates the `wabot serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bot",
		Long: `Start wabot as a daemon, connecting to the configured transport,
answering messages by keyword and sending scheduled messages.

Examples:
  wabot serve
  wabot serve --transport discord
  wabot serve --config ./config.yaml`,
		RunE: runServe,
	}

	cmd.Flags().String("transport", "", "transport to use, overrides the config (whatsapp, discord)")
	_ = cmd.RegisterFlagCompletionFunc("transport", completeTransport)
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	if t, _ := cmd.Flags().GetString("transport"); t != "" {
		cfg.Transport = t
		if err := cfg.Validate(); err != nil {
			var le *config.LoadError
			if errors.As(err, &le) {
				le.Path = configPath
			}
			return err
		}
	}

	// ── Configure logger ──
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger, closer := logging.New(cfg.Logging, verbose, os.Stdout)
	defer closer.Close()
	slog.SetDefault(logger)

	logger.Info("config loaded", "path", configPath, "transport", cfg.TransportName())

	// ── Create bot ──
	transport := newTransport(cfg, logger)
	b := bot.New(cfg, transport, scheduler.New(logger), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- b.Run(ctx) }()

	// ── Wait for shutdown ──
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-runErr:
		if err != nil {
			_ = b.Shutdown()
			return err
		}
		return nil
	case sig := <-sigChan:
		logger.Info("shutdown signal received, stopping...", "signal", sig.String())
	}

	// Graceful shutdown with timeout.
	done := make(chan struct{})
	go func() {
		if err := b.Shutdown(); err != nil {
			logger.Warn("shutdown error", "error", err)
		}
		cancel()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit", "timeout", shutdownTimeout)
	}
	return nil
}

// newTransport builds the transport selected by the config.
func newTransport(cfg *config.Config, logger *slog.Logger) channels.Channel {
	switch cfg.TransportName() {
	case config.TransportDiscord:
		return discord.New(cfg.Discord, logger)
	default:
		return whatsapp.New(cfg.WhatsApp, logger)
	}
}
