// Package whatsapp implements the WhatsApp transport for wabot using
// whatsmeow, a native Go WhatsApp Web API library.
//
// Features:
//   - QR code login with a persistent SQLite session
//   - Lifecycle events (qr_code, authenticated, ready, disconnected)
//   - Text send, quoted replies and read receipts
//   - Group and sender metadata lookups
//   - Automatic reconnection with backoff and health monitoring
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jholhewres/wabot/pkg/wabot/channels"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for session store.
)

// Config holds WhatsApp transport configuration.
type Config struct {
	// SessionDir is the directory for session persistence (SQLite).
	// Ignored if DatabasePath is set.
	SessionDir string `yaml:"session_dir"`

	// DatabasePath is the SQLite database file for the session.
	// If empty, defaults to {SessionDir}/whatsapp.db.
	DatabasePath string `yaml:"database_path"`

	// DeviceName is shown in the WhatsApp linked devices list.
	DeviceName string `yaml:"device_name"`

	// AutoRead marks incoming messages as read.
	AutoRead bool `yaml:"auto_read"`

	// ReconnectBackoff is the initial backoff duration for reconnection.
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`

	// MaxReconnectAttempts is the maximum number of reconnection attempts (0 = unlimited).
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// HealthMonitor configures proactive connection health monitoring.
	HealthMonitor HealthMonitorConfig `yaml:"health_monitor"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SessionDir:           "./sessions/whatsapp",
		DeviceName:           "wabot",
		ReconnectBackoff:     5 * time.Second,
		MaxReconnectAttempts: 10,
		HealthMonitor:        DefaultHealthMonitorConfig(),
	}
}

// WhatsApp implements channels.Channel, channels.ReplyChannel and
// channels.MetadataChannel.
type WhatsApp struct {
	cfg    Config
	client *whatsmeow.Client
	logger *slog.Logger

	// events carries lifecycle changes and inbound messages.
	events chan channels.Event

	// connected tracks connection state.
	connected atomic.Bool

	// state tracks detailed connection state.
	state atomic.Value // ConnectionState

	// lastMsg tracks the last activity timestamp for health.
	lastMsg atomic.Value // time.Time

	// errorCount tracks consecutive errors.
	errorCount atomic.Int64

	// reconnectAttempts tracks reconnection tries.
	reconnectAttempts atomic.Int32

	// reconnectGuard prevents multiple concurrent reconnection attempts.
	reconnectGuard atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards events against a send racing its close.
	mu           sync.RWMutex
	eventsClosed bool
}

// New creates a new WhatsApp transport instance.
func New(cfg Config, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.ReconnectBackoff == 0 {
		cfg.ReconnectBackoff = 5 * time.Second
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "wabot"
	}

	w := &WhatsApp{
		cfg:    cfg,
		logger: logger.With("component", "whatsapp"),
		events: make(chan channels.Event, 256),
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.setState(StateDisconnected)
	return w
}

// ---------- State Management ----------

func (w *WhatsApp) getState() ConnectionState {
	if v := w.state.Load(); v != nil {
		return v.(ConnectionState)
	}
	return StateDisconnected
}

func (w *WhatsApp) setState(state ConnectionState) {
	w.state.Store(state)
}

// GetState returns the current connection state.
func (w *WhatsApp) GetState() ConnectionState {
	return w.getState()
}

// getClientJID returns the current client JID if logged in.
func (w *WhatsApp) getClientJID() string {
	if w.client != nil && w.client.Store.ID != nil {
		return w.client.Store.ID.String()
	}
	return ""
}

// getClientPlatform returns the current platform.
func (w *WhatsApp) getClientPlatform() string {
	if w.client != nil && w.client.Store.Platform != "" {
		return w.client.Store.Platform
	}
	return ""
}

// selfInfo describes the logged-in account.
func (w *WhatsApp) selfInfo() *channels.SelfInfo {
	self := &channels.SelfInfo{ID: w.getClientJID()}
	if w.client != nil {
		self.Name = w.client.Store.PushName
	}
	return self
}

// ---------- Channel Interface ----------

// Name returns "whatsapp".
func (w *WhatsApp) Name() string { return "whatsapp" }

// Connect opens the session store and connects. Without a stored session
// the QR login runs in the background and QR payloads are reported as
// qr_code events.
func (w *WhatsApp) Connect(ctx context.Context) error {
	w.cancel()
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.setState(StateConnecting)
	w.logger.Info("whatsapp: initializing connection...")

	dbPath := w.cfg.DatabasePath
	if dbPath == "" {
		dbPath = filepath.Join(w.cfg.SessionDir, "whatsapp.db")
	}
	w.logger.Info("whatsapp: using session database", "path", dbPath)

	container, err := sqlstore.New(w.ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", dbPath),
		waLog.Noop)
	if err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("%w: creating session store: %w", channels.ErrConnectionFailed, err)
	}

	device, err := w.getDevice(w.ctx, container)
	if err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("%w: getting device: %w", channels.ErrConnectionFailed, err)
	}

	store.SetOSInfo(w.cfg.DeviceName, [3]uint32{1, 0, 0})

	w.client = whatsmeow.NewClient(device, waLog.Noop)
	w.client.AddEventHandler(w.handleEvent)
	w.client.EnableAutoReconnect = true
	w.client.InitialAutoReconnect = true

	if w.client.Store.ID == nil {
		w.setState(StateWaitingQR)
		w.logger.Info("whatsapp: no existing session, QR code required")
		go func() {
			if err := w.loginWithQR(w.ctx); err != nil {
				w.logger.Warn("whatsapp: QR login pending", "error", err)
			}
		}()
		w.StartHealthMonitor(w.ctx, w.cfg.HealthMonitor)
		return nil
	}

	if err := w.client.Connect(); err != nil {
		w.setState(StateDisconnected)
		return fmt.Errorf("%w: %w", channels.ErrConnectionFailed, err)
	}

	w.logger.Info("whatsapp: connecting with existing session", "jid", w.getClientJID())
	w.StartHealthMonitor(w.ctx, w.cfg.HealthMonitor)
	return nil
}

// Disconnect closes the WhatsApp connection and the event stream.
func (w *WhatsApp) Disconnect() error {
	w.setState(StateDisconnected)
	w.connected.Store(false)

	w.cancel()
	if w.client != nil {
		w.client.Disconnect()
	}

	w.mu.Lock()
	if !w.eventsClosed {
		w.eventsClosed = true
		close(w.events)
	}
	w.mu.Unlock()

	w.logger.Info("whatsapp: disconnected")
	return nil
}

// Send sends a text message to the specified JID or phone number.
func (w *WhatsApp) Send(ctx context.Context, to string, msg *channels.OutgoingMessage) error {
	if !w.connected.Load() {
		return channels.ErrChannelDisconnected
	}

	jid, err := parseJID(to)
	if err != nil {
		return fmt.Errorf("%w %q: %w", channels.ErrInvalidRecipient, to, err)
	}

	if _, err := w.client.SendMessage(ctx, jid, buildTextMessage(msg.Content, msg.ReplyTo)); err != nil {
		w.errorCount.Add(1)
		return fmt.Errorf("%w: %w", channels.ErrSendFailed, err)
	}
	return nil
}

// Reply answers orig in its chat, quoting it.
func (w *WhatsApp) Reply(ctx context.Context, orig *channels.IncomingMessage, text string) error {
	if !w.connected.Load() {
		return channels.ErrChannelDisconnected
	}

	evt, ok := orig.Raw.(*events.Message)
	if !ok {
		return w.Send(ctx, orig.ChatID, &channels.OutgoingMessage{Content: text, ReplyTo: orig.ID})
	}

	if _, err := w.client.SendMessage(ctx, evt.Info.Chat, buildReplyMessage(text, evt)); err != nil {
		w.errorCount.Add(1)
		return fmt.Errorf("%w: %w", channels.ErrSendFailed, err)
	}
	return nil
}

// Events returns the lifecycle and message event stream.
func (w *WhatsApp) Events() <-chan channels.Event {
	return w.events
}

// IsConnected returns true if WhatsApp is connected.
func (w *WhatsApp) IsConnected() bool {
	return w.connected.Load()
}

// NeedsQR returns true if the session is not linked yet.
func (w *WhatsApp) NeedsQR() bool {
	return w.client != nil && w.client.Store.ID == nil && !w.connected.Load()
}

// Health returns the WhatsApp transport health status.
func (w *WhatsApp) Health() channels.HealthStatus {
	h := channels.HealthStatus{
		Connected:  w.connected.Load(),
		ErrorCount: int(w.errorCount.Load()),
		Details:    make(map[string]any),
	}
	if t, ok := w.lastMsg.Load().(time.Time); ok {
		h.LastMessageAt = t
	}
	h.Details["state"] = string(w.getState())
	if jid := w.getClientJID(); jid != "" {
		h.Details["jid"] = jid
		h.Details["platform"] = w.getClientPlatform()
	}
	h.Details["reconnect_attempts"] = w.reconnectAttempts.Load()
	return h
}

// ---------- MetadataChannel Interface ----------

// ChatMetadata returns the group subject and size for group chats, and the
// contact name for direct chats.
func (w *WhatsApp) ChatMetadata(ctx context.Context, msg *channels.IncomingMessage) (*channels.ChatMetadata, error) {
	if w.client == nil {
		return nil, channels.ErrChannelDisconnected
	}

	chat, err := chatJIDOf(msg)
	if err != nil {
		return nil, err
	}

	meta := &channels.ChatMetadata{ID: chat.String(), IsGroup: chat.Server == types.GroupServer}
	if meta.IsGroup {
		info, err := w.client.GetGroupInfo(ctx, chat)
		if err != nil {
			return nil, fmt.Errorf("getting group info: %w", err)
		}
		meta.Name = info.Name
		meta.Participants = len(info.Participants)
		return meta, nil
	}

	contact, err := w.client.Store.Contacts.GetContact(ctx, chat)
	if err != nil {
		return nil, fmt.Errorf("getting contact: %w", err)
	}
	meta.Name = contactName(contact)
	return meta, nil
}

// SenderMetadata returns the stored contact details of the message author.
func (w *WhatsApp) SenderMetadata(ctx context.Context, msg *channels.IncomingMessage) (*channels.SenderMetadata, error) {
	if w.client == nil {
		return nil, channels.ErrChannelDisconnected
	}

	sender, err := senderJIDOf(msg)
	if err != nil {
		return nil, err
	}

	contact, err := w.client.Store.Contacts.GetContact(ctx, sender)
	if err != nil {
		return nil, fmt.Errorf("getting contact: %w", err)
	}

	meta := &channels.SenderMetadata{
		ID:       msg.From,
		Name:     contactName(contact),
		PushName: contact.PushName,
	}
	if meta.PushName == "" {
		meta.PushName = msg.FromName
	}
	if phone, err := parseJID(msg.From); err == nil && phone.Server == types.DefaultUserServer {
		meta.Phone = "+" + phone.User
	}
	return meta, nil
}

// MarkRead marks messages as read.
func (w *WhatsApp) MarkRead(ctx context.Context, chatID string, messageIDs []string) error {
	if !w.connected.Load() {
		return nil
	}
	jid, err := parseJID(chatID)
	if err != nil {
		return err
	}

	ids := make([]types.MessageID, len(messageIDs))
	for i, id := range messageIDs {
		ids[i] = types.MessageID(id)
	}

	return w.client.MarkRead(ctx, ids, time.Now(), jid, jid)
}

// ---------- Internal ----------

// getDevice retrieves an existing device or creates a new one.
func (w *WhatsApp) getDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

// loginWithQR runs the QR pairing flow, reporting every code as a qr_code
// event. Expiry and pairing errors are reported as auth_failed.
func (w *WhatsApp) loginWithQR(ctx context.Context) error {
	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}

	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting for QR: %w", err)
	}

	w.setState(StateWaitingQR)
	qrAttempts := 0

	for {
		select {
		case <-ctx.Done():
			w.setState(StateDisconnected)
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("QR channel closed unexpectedly")
			}

			switch evt.Event {
			case "code":
				qrAttempts++
				w.setState(StateWaitingQR)
				w.logger.Info("whatsapp: QR code ready", "attempt", qrAttempts)
				w.emit(channels.Event{Type: channels.EventQRCode, QRCode: evt.Code})

			case "success":
				w.reconnectAttempts.Store(0)
				w.logger.Info("whatsapp: login successful!")
				return nil

			case "timeout":
				w.setState(StateDisconnected)
				w.logger.Warn("whatsapp: QR code expired")
				w.emit(channels.Event{Type: channels.EventAuthFailed, Reason: "qr code expired"})
				return fmt.Errorf("QR code timeout")

			default:
				if evt.Error != nil {
					w.setState(StateDisconnected)
					w.logger.Error("whatsapp: QR login error", "error", evt.Error)
					w.emit(channels.Event{Type: channels.EventAuthFailed, Reason: evt.Error.Error()})
					return fmt.Errorf("QR login error: %w", evt.Error)
				}
			}
		}
	}
}

// attemptReconnect tries to reconnect with linear backoff until it succeeds,
// the context ends or MaxReconnectAttempts is reached.
func (w *WhatsApp) attemptReconnect() {
	if !w.reconnectGuard.CompareAndSwap(false, true) {
		w.logger.Debug("whatsapp: reconnect already in progress, skipping")
		return
	}
	defer w.reconnectGuard.Store(false)

	w.setState(StateReconnecting)

	for {
		if w.ctx.Err() != nil {
			return
		}

		attempts := w.reconnectAttempts.Add(1)
		if w.cfg.MaxReconnectAttempts > 0 && attempts > int32(w.cfg.MaxReconnectAttempts) {
			w.logger.Error("whatsapp: max reconnect attempts reached", "attempts", attempts)
			w.setState(StateDisconnected)
			w.emit(channels.Event{Type: channels.EventDisconnected, Reason: "max_reconnect_attempts"})
			return
		}

		backoff := min(w.cfg.ReconnectBackoff*time.Duration(attempts), 5*time.Minute)
		w.logger.Info("whatsapp: attempting reconnect", "attempt", attempts, "backoff", backoff)

		select {
		case <-time.After(backoff):
		case <-w.ctx.Done():
			return
		}

		if w.client == nil {
			w.logger.Warn("whatsapp: client is nil, cannot reconnect")
			return
		}

		// Clear stale websocket state first.
		if w.client.IsConnected() {
			w.client.Disconnect()
			time.Sleep(100 * time.Millisecond)
		}

		if err := w.client.Connect(); err != nil {
			w.logger.Warn("whatsapp: reconnect attempt failed, will retry",
				"attempt", attempts, "error", err)
			continue
		}

		// The Connected event updates state.
		w.logger.Info("whatsapp: reconnect initiated, waiting for confirmation")
		return
	}
}

// emit publishes an event. Messages are dropped when the consumer falls
// behind; lifecycle events wait up to channels.LifecycleEventTimeout so the
// session state is not lost.
func (w *WhatsApp) emit(evt channels.Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.eventsClosed {
		return
	}

	if evt.Type == channels.EventMessage {
		select {
		case w.events <- evt:
			w.lastMsg.Store(time.Now())
		default:
			w.logger.Warn("whatsapp: event channel full, dropping message")
		}
		return
	}

	timer := time.NewTimer(channels.LifecycleEventTimeout)
	defer timer.Stop()
	select {
	case w.events <- evt:
	case <-timer.C:
		w.logger.Error("whatsapp: consumer not reading, dropping lifecycle event", "type", evt.Type)
	}
}

// Compile-time interface verification.
var (
	_ channels.Channel         = (*WhatsApp)(nil)
	_ channels.ReplyChannel    = (*WhatsApp)(nil)
	_ channels.MetadataChannel = (*WhatsApp)(nil)
)
