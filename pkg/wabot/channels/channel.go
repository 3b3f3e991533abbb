// Package channels defines the transport abstraction used by wabot. Each
// transport (WhatsApp, Discord) implements the Channel interface and reports
// session lifecycle changes and inbound messages as a single Event stream.
package channels

import (
	"context"
	"fmt"
	"time"
)

// MessageType identifies the kind of message content.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageAudio    MessageType = "audio"
	MessageVideo    MessageType = "video"
	MessageDocument MessageType = "document"
	MessageSticker  MessageType = "sticker"
	MessageLocation MessageType = "location"
	MessageContact  MessageType = "contact"
)

// Channel defines the interface that every transport must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "whatsapp", "discord").
	Name() string

	// Connect establishes the connection to the messaging platform.
	// Lifecycle progress is reported on Events.
	Connect(ctx context.Context) error

	// Disconnect closes the connection and releases the session.
	Disconnect() error

	// Send sends a message to the specified recipient.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Events returns the lifecycle and message event stream.
	Events() <-chan Event

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// ReplyChannel extends Channel with native quoted replies.
type ReplyChannel interface {
	Channel

	// Reply answers orig in its conversation, quoting it when the platform
	// supports that.
	Reply(ctx context.Context, orig *IncomingMessage, text string) error
}

// MetadataChannel extends Channel with chat and sender lookups.
type MetadataChannel interface {
	Channel

	// ChatMetadata returns details about the conversation of msg.
	ChatMetadata(ctx context.Context, msg *IncomingMessage) (*ChatMetadata, error)

	// SenderMetadata returns details about the author of msg.
	SenderMetadata(ctx context.Context, msg *IncomingMessage) (*SenderMetadata, error)
}

// EventType identifies a transport event.
type EventType string

const (
	EventQRCode        EventType = "qr_code"
	EventAuthenticated EventType = "authenticated"
	EventAuthFailed    EventType = "auth_failed"
	EventReady         EventType = "ready"
	EventDisconnected  EventType = "disconnected"
	EventMessage       EventType = "message"
)

// Event is a lifecycle change or an inbound message.
type Event struct {
	Type EventType

	// QRCode is the raw pairing payload (EventQRCode).
	QRCode string

	// Reason explains EventAuthFailed and EventDisconnected.
	Reason string

	// Self is the logged-in identity (EventReady).
	Self *SelfInfo

	// Message is the inbound message (EventMessage).
	Message *IncomingMessage
}

// LifecycleEventTimeout bounds how long a transport waits for the consumer
// to accept a lifecycle event. Inbound messages are dropped instead of waiting
// when the consumer falls behind.
var LifecycleEventTimeout = 5 * time.Second

// SelfInfo describes the account the transport is logged in as.
type SelfInfo struct {
	ID   string
	Name string
}

// IncomingMessage represents a message received from any channel.
type IncomingMessage struct {
	// ID is the unique message identifier in the source channel.
	ID string

	// Channel identifies the source channel (e.g. "whatsapp").
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name (if available).
	FromName string

	// ChatID is the group or DM identifier.
	ChatID string

	// IsGroup indicates whether the message is from a group chat.
	IsGroup bool

	// IsBroadcast indicates a status or broadcast-list message.
	IsBroadcast bool

	// IsFromMe indicates the message was sent by the logged-in account.
	IsFromMe bool

	// Type is the message content type.
	Type MessageType

	// Content is the text content of the message (or media caption).
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time

	// ReplyTo contains the ID of the message being replied to.
	ReplyTo string

	// QuotedContent is the text of the quoted message (if replying).
	QuotedContent string

	// Metadata contains additional channel-specific data.
	Metadata map[string]any

	// Raw holds the platform event, used by Reply to quote the original.
	Raw any
}

// OutgoingMessage represents a message to be sent through a channel.
type OutgoingMessage struct {
	// Content is the text content of the message.
	Content string

	// ReplyTo contains the ID of the message to reply to.
	ReplyTo string

	// Metadata contains additional channel-specific data.
	Metadata map[string]any
}

// ChatMetadata describes a conversation.
type ChatMetadata struct {
	ID           string
	Name         string
	IsGroup      bool
	Participants int
}

// SenderMetadata describes a message author.
type SenderMetadata struct {
	ID       string
	Name     string
	PushName string
	Phone    string
}

// DisplayName returns the best available name for the sender.
func (s *SenderMetadata) DisplayName() string {
	switch {
	case s == nil:
		return ""
	case s.Name != "":
		return s.Name
	case s.PushName != "":
		return s.PushName
	case s.Phone != "":
		return s.Phone
	default:
		return s.ID
	}
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
	LatencyMs     int64
	Details       map[string]any
}

// Errors.
var (
	ErrChannelDisconnected = fmt.Errorf("channel is not connected")
	ErrSendFailed          = fmt.Errorf("failed to send message")
	ErrConnectionFailed    = fmt.Errorf("failed to connect to channel")
	ErrInvalidRecipient    = fmt.Errorf("invalid recipient")
)

// SendText is a convenience wrapper around Channel.Send for plain text.
func SendText(ctx context.Context, ch Channel, to, text string) error {
	return ch.Send(ctx, to, &OutgoingMessage{Content: text})
}

// ReplyTo answers orig on ch. Channels without native replies get a plain
// Send to the originating chat with ReplyTo set.
func ReplyTo(ctx context.Context, ch Channel, orig *IncomingMessage, text string) error {
	if rc, ok := ch.(ReplyChannel); ok {
		return rc.Reply(ctx, orig, text)
	}
	return ch.Send(ctx, orig.ChatID, &OutgoingMessage{Content: text, ReplyTo: orig.ID})
}
