// Package discord implements the Discord transport for wabot using
// discordgo.
//
// Features:
//   - Lifecycle events from the gateway (ready, resumed, disconnect)
//   - Text send and replies via message references
//   - Guild and channel allowlists
//   - Channel and author metadata lookups
//   - Automatic reconnection via discordgo's gateway
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/wabot/pkg/wabot/channels"
)

// maxMessageLen is Discord's per-message character limit.
const maxMessageLen = 2000

// Config holds Discord transport configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild (server) IDs the bot listens in.
	// Empty means all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// AllowedChannels restricts which channel IDs the bot listens in.
	// Empty means all channels.
	AllowedChannels []string `yaml:"allowed_channels"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{}
}

// Discord implements channels.Channel, channels.ReplyChannel and
// channels.MetadataChannel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	// events carries lifecycle changes and inbound messages.
	events chan channels.Event

	// connected tracks connection state.
	connected atomic.Bool

	// lastMsg tracks the last message timestamp for health.
	lastMsg atomic.Value // time.Time

	// errorCount tracks consecutive errors.
	errorCount atomic.Int64

	// mu guards events against a send racing its close.
	mu           sync.RWMutex
	eventsClosed bool
}

// New creates a new Discord transport instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:    cfg,
		logger: logger.With("component", "discord"),
		events: make(chan channels.Event, 256),
	}
}

// ---------- Channel Interface ----------

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection. Ready is reported
// asynchronously once the gateway identifies the bot.
func (d *Discord) Connect(_ context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("%w: discord bot token is required", channels.ErrConnectionFailed)
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("%w: creating discord session: %w", channels.ErrConnectionFailed, err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onReady)
	session.AddHandler(d.onResumed)
	session.AddHandler(d.onDisconnect)
	session.AddHandler(d.onMessageCreate)

	d.session = session

	if err := session.Open(); err != nil {
		d.emit(channels.Event{Type: channels.EventAuthFailed, Reason: err.Error()})
		return fmt.Errorf("%w: opening discord gateway: %w", channels.ErrConnectionFailed, err)
	}
	return nil
}

// Disconnect closes the gateway connection and the event stream.
func (d *Discord) Disconnect() error {
	var err error
	if d.session != nil {
		err = d.session.Close()
	}
	d.connected.Store(false)

	d.mu.Lock()
	if !d.eventsClosed {
		d.eventsClosed = true
		close(d.events)
	}
	d.mu.Unlock()

	d.logger.Info("discord: disconnected")
	return err
}

// Send sends a text message to the channel ID to. Messages over the
// Discord limit are split; only the first chunk carries the reply reference.
func (d *Discord) Send(_ context.Context, to string, message *channels.OutgoingMessage) error {
	if d.session == nil || !d.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("%w: empty channel ID", channels.ErrInvalidRecipient)
	}

	for i, chunk := range splitDiscordMessage(message.Content, maxMessageLen) {
		msgSend := &discordgo.MessageSend{Content: chunk}
		if i == 0 && message.ReplyTo != "" {
			msgSend.Reference = &discordgo.MessageReference{MessageID: message.ReplyTo, ChannelID: to}
		}
		if _, err := d.session.ChannelMessageSendComplex(to, msgSend); err != nil {
			d.errorCount.Add(1)
			return fmt.Errorf("%w: %w", channels.ErrSendFailed, err)
		}
	}
	return nil
}

// Reply answers orig in its channel with a message reference.
func (d *Discord) Reply(ctx context.Context, orig *channels.IncomingMessage, text string) error {
	return d.Send(ctx, orig.ChatID, &channels.OutgoingMessage{Content: text, ReplyTo: orig.ID})
}

// Events returns the lifecycle and message event stream.
func (d *Discord) Events() <-chan channels.Event {
	return d.events
}

// IsConnected returns true if the bot is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the transport health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	h := channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
		Details:       map[string]any{},
	}
	if d.session != nil {
		h.LatencyMs = d.session.HeartbeatLatency().Milliseconds()
	}
	return h
}

// ---------- MetadataChannel Interface ----------

// ChatMetadata returns the channel name and type.
func (d *Discord) ChatMetadata(_ context.Context, msg *channels.IncomingMessage) (*channels.ChatMetadata, error) {
	if d.session == nil {
		return nil, channels.ErrChannelDisconnected
	}

	ch, err := d.session.State.Channel(msg.ChatID)
	if err != nil {
		ch, err = d.session.Channel(msg.ChatID)
		if err != nil {
			return nil, fmt.Errorf("getting channel: %w", err)
		}
	}

	meta := &channels.ChatMetadata{
		ID:           ch.ID,
		Name:         ch.Name,
		IsGroup:      ch.GuildID != "",
		Participants: len(ch.Recipients),
	}
	if meta.Name == "" && len(ch.Recipients) > 0 {
		meta.Name = ch.Recipients[0].Username
	}
	return meta, nil
}

// SenderMetadata returns the author's names.
func (d *Discord) SenderMetadata(_ context.Context, msg *channels.IncomingMessage) (*channels.SenderMetadata, error) {
	if d.session == nil {
		return nil, channels.ErrChannelDisconnected
	}

	user, err := d.session.User(msg.From)
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return &channels.SenderMetadata{
		ID:       user.ID,
		Name:     user.GlobalName,
		PushName: user.Username,
	}, nil
}

// ---------- Event Handlers ----------

// onReady reports the identified bot as authenticated and ready.
func (d *Discord) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	d.connected.Store(true)
	d.errorCount.Store(0)

	self := &channels.SelfInfo{}
	if r.User != nil {
		self.ID = r.User.ID
		self.Name = r.User.Username
	}
	d.logger.Info("discord: connected", "bot", self.Name, "id", self.ID, "guilds", len(r.Guilds))

	d.emit(channels.Event{Type: channels.EventAuthenticated})
	d.emit(channels.Event{Type: channels.EventReady, Self: self})
}

// onResumed reports a resumed gateway session as ready again.
func (d *Discord) onResumed(s *discordgo.Session, _ *discordgo.Resumed) {
	d.connected.Store(true)
	d.logger.Info("discord: session resumed")

	self := &channels.SelfInfo{}
	if s != nil && s.State != nil && s.State.User != nil {
		self.ID = s.State.User.ID
		self.Name = s.State.User.Username
	}
	d.emit(channels.Event{Type: channels.EventAuthenticated})
	d.emit(channels.Event{Type: channels.EventReady, Self: self})
}

// onDisconnect reports a lost gateway connection. discordgo reconnects on
// its own and a Ready or Resumed follows.
func (d *Discord) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	if !d.connected.Swap(false) {
		return
	}
	d.logger.Warn("discord: gateway disconnected")
	d.emit(channels.Event{Type: channels.EventDisconnected, Reason: "gateway_disconnected"})
}

// onMessageCreate converts and emits incoming Discord messages. The bot's
// own messages are flagged; messages from other bots are dropped.
func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}

	isFromMe := s != nil && s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID
	if m.Author.Bot && !isFromMe {
		return
	}

	if !d.allowed(m.GuildID, m.ChannelID) {
		return
	}

	incoming := &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		From:      m.Author.ID,
		FromName:  m.Author.Username,
		ChatID:    m.ChannelID,
		IsGroup:   m.GuildID != "",
		IsFromMe:  isFromMe,
		Type:      channels.MessageText,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		Metadata: map[string]any{
			"guild_id": m.GuildID,
		},
		Raw: m,
	}

	if m.ReferencedMessage != nil {
		incoming.ReplyTo = m.ReferencedMessage.ID
		incoming.QuotedContent = m.ReferencedMessage.Content
	}

	if len(m.Attachments) > 0 {
		incoming.Type = inferMediaType(m.Attachments[0].ContentType)
	}

	d.lastMsg.Store(time.Now())
	d.emit(channels.Event{Type: channels.EventMessage, Message: incoming})
}

// allowed applies the guild and channel allowlists.
func (d *Discord) allowed(guildID, channelID string) bool {
	if len(d.cfg.AllowedGuilds) > 0 && guildID != "" && !slices.Contains(d.cfg.AllowedGuilds, guildID) {
		return false
	}
	if len(d.cfg.AllowedChannels) > 0 && !slices.Contains(d.cfg.AllowedChannels, channelID) {
		return false
	}
	return true
}

// emit publishes an event. Messages are dropped when the buffer is full;
// lifecycle events wait up to channels.LifecycleEventTimeout.
func (d *Discord) emit(evt channels.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.eventsClosed {
		return
	}

	if evt.Type == channels.EventMessage {
		select {
		case d.events <- evt:
		default:
			d.logger.Warn("discord: event buffer full, dropping message")
		}
		return
	}

	timer := time.NewTimer(channels.LifecycleEventTimeout)
	defer timer.Stop()
	select {
	case d.events <- evt:
	case <-timer.C:
		d.logger.Error("discord: consumer not reading, dropping lifecycle event", "type", evt.Type)
	}
}

// ---------- Helpers ----------

// inferMediaType maps MIME types to message types.
func inferMediaType(contentType string) channels.MessageType {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return channels.MessageImage
	case strings.HasPrefix(ct, "audio/"):
		return channels.MessageAudio
	case strings.HasPrefix(ct, "video/"):
		return channels.MessageVideo
	default:
		return channels.MessageDocument
	}
}

// splitDiscordMessage splits a message into chunks respecting maxLen,
// preferring to cut at a newline in the second half of a chunk.
func splitDiscordMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

// Compile-time interface verification.
var (
	_ channels.Channel         = (*Discord)(nil)
	_ channels.ReplyChannel    = (*Discord)(nil)
	_ channels.MetadataChannel = (*Discord)(nil)
)
