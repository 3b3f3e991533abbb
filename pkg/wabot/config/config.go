// Package config defines the configuration model for wabot: the keyword
// table, default-reply policy, ignore rules, scheduled outbound messages and
// the settings of the underlying transport. A Config is loaded once at
// startup and treated as read-only for the lifetime of the process.
package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/wabot/pkg/wabot/channels/discord"
	"github.com/jholhewres/wabot/pkg/wabot/channels/whatsapp"
	"github.com/jholhewres/wabot/pkg/wabot/logging"
)

// Supported transports.
const (
	TransportWhatsApp = "whatsapp"
	TransportDiscord  = "discord"
)

// CronParser parses the optional cron expression of a scheduled message.
// Accepts standard 5-field expressions and descriptors (@daily, @every 1h).
var CronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Config holds all bot configuration.
type Config struct {
	// Transport selects the chat transport ("whatsapp" or "discord").
	Transport string `yaml:"transport"`

	// AutoReply configures keyword-based automatic replies.
	AutoReply AutoReplyConfig `yaml:"auto_reply"`

	// AutoSend configures scheduled outbound messages.
	AutoSend AutoSendConfig `yaml:"auto_send"`

	// Bot configures which inbound messages are ignored.
	Bot BotConfig `yaml:"bot"`

	// WhatsApp configures the whatsmeow transport.
	WhatsApp whatsapp.Config `yaml:"whatsapp"`

	// Discord configures the discordgo transport.
	Discord discord.Config `yaml:"discord"`

	// Logging configures log output.
	Logging logging.Config `yaml:"logging"`
}

// AutoReplyConfig configures the reply decision engine.
type AutoReplyConfig struct {
	// Enabled turns automatic replies on or off.
	Enabled bool `yaml:"enabled"`

	// Keywords is the ordered keyword table. First match wins.
	Keywords KeywordTable `yaml:"keywords"`

	// DefaultReply is sent when no keyword matches and UseDefaultReply is set.
	DefaultReply string `yaml:"default_reply"`

	// UseDefaultReply enables DefaultReply.
	UseDefaultReply bool `yaml:"use_default_reply"`
}

// AutoSendConfig configures scheduled outbound messages.
type AutoSendConfig struct {
	// Enabled starts the scheduler once the session is ready.
	Enabled bool `yaml:"enabled"`

	// Messages lists the scheduled messages in order. The position of an
	// entry is its stable scheduler key.
	Messages []ScheduledMessage `yaml:"messages"`
}

// ScheduledMessage is one outbound message definition.
type ScheduledMessage struct {
	// To is the recipient (WhatsApp JID or phone number, Discord channel ID).
	To string `yaml:"to"`

	// Message is the text to send.
	Message string `yaml:"message"`

	// Schedule controls when the message is sent.
	Schedule Schedule `yaml:"schedule"`
}

// Schedule controls the timing of a ScheduledMessage.
type Schedule struct {
	// Immediate sends once shortly after the session becomes ready, in
	// addition to the delayed send.
	Immediate bool `yaml:"immediate"`

	// Delay is the wait before the first delayed send.
	Delay Millis `yaml:"delay"`

	// Interval repeats the send after the first delayed send. 0 = one-shot.
	Interval Millis `yaml:"interval"`

	// Cron optionally sends on a cron schedule as well.
	Cron string `yaml:"cron,omitempty"`
}

// BotConfig holds the ignore rules and message logging switch.
type BotConfig struct {
	// IgnoreGroups skips messages from group conversations.
	IgnoreGroups bool `yaml:"ignore_groups"`

	// IgnoreBroadcast skips status/broadcast messages.
	IgnoreBroadcast bool `yaml:"ignore_broadcast"`

	// IgnoreOwnMessages skips messages sent by the bot's own account.
	IgnoreOwnMessages bool `yaml:"ignore_own_messages"`

	// LogMessages logs every inbound message with the sender name.
	LogMessages bool `yaml:"log_messages"`
}

// DefaultConfig returns a Config with sensible defaults and an empty
// keyword table.
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportWhatsApp,
		AutoReply: AutoReplyConfig{
			Enabled:         true,
			DefaultReply:    "Thanks for your message! We will get back to you soon.",
			UseDefaultReply: true,
		},
		Bot: BotConfig{
			IgnoreGroups:      false,
			IgnoreBroadcast:   true,
			IgnoreOwnMessages: true,
			LogMessages:       true,
		},
		WhatsApp: whatsapp.DefaultConfig(),
		Discord:  discord.DefaultConfig(),
		Logging:  logging.DefaultConfig(),
	}
}

// ExampleConfig returns the starter configuration written by `config init`.
func ExampleConfig() *Config {
	cfg := DefaultConfig()
	cfg.AutoReply.Keywords = KeywordTable{
		{Keyword: "hello", Response: "Hi! Thanks for your message. How can I help you?"},
		{Keyword: "hi", Response: "Hello! Thanks for reaching out!"},
		{Keyword: "help", Response: "I am an automated bot. I can respond to your messages automatically."},
		{Keyword: "price", Response: "Please check our website for pricing information."},
		{Keyword: "order", Response: "To place an order, please provide your requirements."},
		{Keyword: "status", Response: "Let me check your order status for you."},
	}
	cfg.AutoSend.Messages = []ScheduledMessage{
		{
			To:      "1234567890@s.whatsapp.net",
			Message: "This is an automated message from wabot!",
			Schedule: Schedule{
				Delay: 5000,
			},
		},
	}
	return cfg
}

// Validate checks the configuration and returns a *LoadError describing the
// first problem found.
func (c *Config) Validate() error {
	switch c.Transport {
	case "", TransportWhatsApp:
	case TransportDiscord:
		if c.Discord.Token == "" || IsEnvReference(c.Discord.Token) {
			return fieldError("discord.token", "bot token is required for the discord transport")
		}
	default:
		return fieldError("transport", fmt.Sprintf("unknown transport %q (want whatsapp or discord)", c.Transport))
	}

	for i, kw := range c.AutoReply.Keywords {
		field := fmt.Sprintf("auto_reply.keywords[%d]", i)
		if strings.TrimSpace(kw.Keyword) == "" {
			return fieldError(field, "keyword is empty")
		}
		if kw.Response == "" {
			return fieldError(field, fmt.Sprintf("keyword %q has no response", kw.Keyword))
		}
	}
	if c.AutoReply.Enabled && c.AutoReply.UseDefaultReply && c.AutoReply.DefaultReply == "" {
		return fieldError("auto_reply.default_reply", "use_default_reply is set but default_reply is empty")
	}

	for i, m := range c.AutoSend.Messages {
		field := fmt.Sprintf("auto_send.messages[%d]", i)
		if strings.TrimSpace(m.To) == "" {
			return fieldError(field+".to", "recipient is required")
		}
		if m.Message == "" {
			return fieldError(field+".message", "message text is required")
		}
		if err := checkMillis(field+".schedule.delay", m.Schedule.Delay); err != nil {
			return err
		}
		if err := checkMillis(field+".schedule.interval", m.Schedule.Interval); err != nil {
			return err
		}
		if m.Schedule.Cron != "" {
			if _, err := CronParser.Parse(m.Schedule.Cron); err != nil {
				return &LoadError{Field: field + ".schedule.cron", Msg: "invalid cron expression", Err: err}
			}
		}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fieldError("logging.level", fmt.Sprintf("unknown level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "", "json", "text", "auto":
	default:
		return fieldError("logging.format", fmt.Sprintf("unknown format %q", c.Logging.Format))
	}

	return nil
}

// checkMillis rejects negative values and values that overflow a
// time.Duration.
func checkMillis(field string, v Millis) *LoadError {
	switch {
	case v < 0:
		return fieldError(field, "must not be negative")
	case v > MaxMillis:
		return fieldError(field, fmt.Sprintf("must not exceed %d ms", int64(MaxMillis)))
	}
	return nil
}

// TransportName returns the effective transport, defaulting to WhatsApp.
func (c *Config) TransportName() string {
	if c.Transport == "" {
		return TransportWhatsApp
	}
	return c.Transport
}
