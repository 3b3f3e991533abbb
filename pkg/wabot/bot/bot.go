// Package bot implements the session orchestrator for wabot. It consumes the
// transport's event stream, tracks the session state and wires the reply
// decision engine and the scheduler to the transport.
//
// Message flow: event → state check → (optional) sender log → decide → reply.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jholhewres/wabot/pkg/wabot/autoreply"
	"github.com/jholhewres/wabot/pkg/wabot/channels"
	"github.com/jholhewres/wabot/pkg/wabot/config"
	"github.com/jholhewres/wabot/pkg/wabot/scheduler"
)

// ErrNotReady is returned by scheduled sends while the session is not ready.
var ErrNotReady = errors.New("session not ready")

// Bot is the session orchestrator.
type Bot struct {
	cfg       *config.Config
	transport channels.Channel
	sched     *scheduler.Scheduler
	logger    *slog.Logger

	mu     sync.RWMutex
	state  State
	self   *channels.SelfInfo
	handle *scheduler.Handle

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Bot. A nil scheduler gets a default one.
func New(cfg *config.Config, transport channels.Channel, sched *scheduler.Scheduler, logger *slog.Logger) *Bot {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if sched == nil {
		sched = scheduler.New(logger)
	}
	return &Bot{
		cfg:       cfg,
		transport: transport,
		sched:     sched,
		logger:    logger.With("component", "bot", "transport", transport.Name()),
		state:     StateDisconnected,
	}
}

// Run connects the transport and processes its events until ctx is
// cancelled or the event stream is closed by Shutdown. A connect failure is
// returned; everything after that is logged.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("bot: connecting")
	if err := b.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connecting %s: %w", b.transport.Name(), err)
	}

	events := b.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.handleEvent(ctx, evt)
		}
	}
}

// Shutdown cancels every scheduled message and releases the transport.
// It is safe to call more than once.
func (b *Bot) Shutdown() error {
	b.shutdownOnce.Do(func() {
		b.logger.Info("bot: shutting down")
		b.transition(StateStopped)
		b.stopSchedules()
		if err := b.transport.Disconnect(); err != nil {
			b.shutdownErr = fmt.Errorf("disconnecting %s: %w", b.transport.Name(), err)
		}
	})
	return b.shutdownErr
}

// State returns the current session state.
func (b *Bot) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Self returns the identity reported by the last ready event, or nil.
func (b *Bot) Self() *channels.SelfInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.self
}

// handleEvent applies one transport event. Events run to completion in the
// order they arrive.
func (b *Bot) handleEvent(ctx context.Context, evt channels.Event) {
	switch evt.Type {
	case channels.EventQRCode:
		b.logger.Info("bot: scan the QR code with your phone to log in", "qr", evt.QRCode)
		b.transition(StateAuthenticating)

	case channels.EventAuthenticated:
		b.logger.Info("bot: authenticated")
		b.transition(StateAuthenticating)

	case channels.EventAuthFailed:
		b.logger.Error("bot: authentication failed", "reason", evt.Reason)
		b.transition(StateDisconnected)
		b.stopSchedules()

	case channels.EventReady:
		b.onReady(ctx, evt.Self)

	case channels.EventDisconnected:
		b.logger.Warn("bot: disconnected", "reason", evt.Reason)
		b.transition(StateDisconnected)
		b.stopSchedules()

	case channels.EventMessage:
		b.onMessage(ctx, evt.Message)

	default:
		b.logger.Debug("bot: unknown event", "type", evt.Type)
	}
}

// transition moves the session to the given state if the transition table
// permits it. Same-state and forbidden transitions are ignored.
func (b *Bot) transition(to State) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	from := b.state
	if from == to {
		return false
	}
	if !canTransition(from, to) {
		b.logger.Debug("bot: ignoring state transition", "from", from, "to", to)
		return false
	}
	b.state = to
	b.logger.Debug("bot: state changed", "from", from, "to", to)
	return true
}

// onReady records the session identity and starts the scheduled messages.
func (b *Bot) onReady(ctx context.Context, self *channels.SelfInfo) {
	if !b.transition(StateReady) {
		return
	}

	b.mu.Lock()
	b.self = self
	b.mu.Unlock()

	if self != nil {
		b.logger.Info("bot: ready", "id", self.ID, "name", self.Name)
	} else {
		b.logger.Info("bot: ready")
	}

	if !b.cfg.AutoSend.Enabled {
		return
	}
	if len(b.cfg.AutoSend.Messages) == 0 {
		b.logger.Debug("bot: auto-send enabled with no messages")
		return
	}

	h := b.sched.Start(ctx, b.cfg.AutoSend.Messages, b.sendScheduled)

	b.mu.Lock()
	if b.state != StateReady {
		// Shutdown or a disconnect won the race.
		b.mu.Unlock()
		scheduler.StopAll(h)
		return
	}
	old := b.handle
	b.handle = h
	b.mu.Unlock()

	scheduler.StopAll(old)
}

// stopSchedules cancels the current schedule run. The lock is not held
// while StopAll waits for in-flight sends.
func (b *Bot) stopSchedules() {
	b.mu.Lock()
	h := b.handle
	b.handle = nil
	b.mu.Unlock()

	if h == nil {
		return
	}
	scheduler.StopAll(h)
	b.logger.Info("bot: scheduled messages cancelled", "run_id", h.ID)
}

// sendScheduled is the scheduler sink.
func (b *Bot) sendScheduled(ctx context.Context, to, body string) error {
	if b.State() != StateReady {
		return ErrNotReady
	}
	return channels.SendText(ctx, b.transport, to, body)
}

// onMessage decides on and sends the automatic reply for msg.
func (b *Bot) onMessage(ctx context.Context, msg *channels.IncomingMessage) {
	if msg == nil {
		return
	}
	if state := b.State(); state != StateReady {
		b.logger.Debug("bot: message ignored, session not ready", "state", state, "msg_id", msg.ID)
		return
	}

	logger := b.logger.With("chat_id", msg.ChatID, "from", msg.From, "msg_id", msg.ID)

	if b.cfg.Bot.LogMessages {
		b.logMessage(ctx, logger, msg)
	}

	action, ok := autoreply.Decide(autoreply.Message{
		Body:        msg.Content,
		SenderID:    msg.From,
		IsFromSelf:  msg.IsFromMe,
		IsBroadcast: msg.IsBroadcast,
		IsGroup:     msg.IsGroup,
	}, b.cfg)
	if !ok {
		return
	}

	if err := channels.ReplyTo(ctx, b.transport, msg, action.Text); err != nil {
		logger.Error("bot: failed to send reply", "error", err)
		return
	}
	logger.Info("bot: replied", "keyword", action.Keyword, "default", action.Default)
}

// logMessage logs msg with the sender's display name. A failed metadata
// lookup skips the log line.
func (b *Bot) logMessage(ctx context.Context, logger *slog.Logger, msg *channels.IncomingMessage) {
	name := msg.FromName
	if mc, ok := b.transport.(channels.MetadataChannel); ok {
		sender, err := mc.SenderMetadata(ctx, msg)
		if err != nil {
			logger.Debug("bot: sender metadata unavailable", "error", err)
			return
		}
		if n := sender.DisplayName(); n != "" {
			name = n
		}
	}
	if name == "" {
		name = msg.From
	}
	logger.Info("bot: message received", "sender", name, "body", msg.Content, "group", msg.IsGroup)
}
