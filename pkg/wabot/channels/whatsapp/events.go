// Package whatsapp – events.go converts whatsmeow events into wabot
// transport events.
package whatsapp

import (
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/wabot/pkg/wabot/channels"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// ConnectionState represents the detailed connection state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateWaitingQR    ConnectionState = "waiting_qr"
	StateBanned       ConnectionState = "banned"
)

// handleEvent is the main whatsmeow event dispatcher.
func (w *WhatsApp) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		w.handleMessageEvt(evt)

	case *events.Connected:
		w.handleConnected(evt)

	case *events.Disconnected:
		w.handleDisconnected(evt)

	case *events.StreamReplaced:
		w.handleStreamReplaced(evt)

	case *events.LoggedOut:
		w.handleLoggedOut(evt)

	case *events.TemporaryBan:
		w.handleTemporaryBan(evt)

	case *events.KeepAliveTimeout:
		w.handleKeepAliveTimeout(evt)

	case *events.KeepAliveRestored:
		w.logger.Info("whatsapp: keep-alive restored")
		w.errorCount.Store(0)

	case *events.ConnectFailure:
		w.handleConnectFailure(evt)

	case *events.StreamError:
		w.handleStreamError(evt)

	case *events.PairSuccess:
		w.logger.Info("whatsapp: device paired",
			"jid", evt.ID,
			"platform", evt.Platform,
			"business", evt.BusinessName)

	case *events.Receipt:
		if evt.Type == types.ReceiptTypeRead {
			w.logger.Debug("whatsapp: message read", "from", evt.Chat, "ids", evt.MessageIDs)
		}
	}
}

// handleConnected reports a usable session: authenticated, then ready.
func (w *WhatsApp) handleConnected(_ *events.Connected) {
	w.setState(StateConnected)
	w.connected.Store(true)
	w.errorCount.Store(0)
	w.reconnectAttempts.Store(0)
	w.UpdateLastMsgTime()

	w.logger.Info("whatsapp: connected",
		"jid", w.getClientJID(),
		"platform", w.getClientPlatform())

	w.emit(channels.Event{Type: channels.EventAuthenticated})
	w.emit(channels.Event{Type: channels.EventReady, Self: w.selfInfo()})
}

// handleDisconnected reports a lost connection and starts reconnecting
// unless the disconnect was requested.
func (w *WhatsApp) handleDisconnected(_ *events.Disconnected) {
	previous := w.getState()
	w.setState(StateDisconnected)
	w.connected.Store(false)

	w.logger.Warn("whatsapp: disconnected", "previous", previous)
	w.emit(channels.Event{Type: channels.EventDisconnected, Reason: "connection_lost"})

	if previous == StateConnected && w.ctx.Err() == nil {
		go w.attemptReconnect()
	}
}

// handleStreamReplaced handles another client taking over the session.
func (w *WhatsApp) handleStreamReplaced(_ *events.StreamReplaced) {
	w.setState(StateDisconnected)
	w.connected.Store(false)

	w.logger.Error("whatsapp: stream replaced - another device connected")
	w.emit(channels.Event{Type: channels.EventDisconnected, Reason: "stream_replaced"})
}

// handleLoggedOut handles session invalidation and restarts QR pairing.
func (w *WhatsApp) handleLoggedOut(evt *events.LoggedOut) {
	w.setState(StateDisconnected)
	w.connected.Store(false)

	reason := "unknown"
	if evt.Reason != 0 {
		reason = evt.Reason.String()
	}
	w.logger.Error("whatsapp: logged out", "reason", reason, "on_connect", evt.OnConnect)
	w.emit(channels.Event{Type: channels.EventAuthFailed, Reason: "logged out: " + reason})

	if w.client == nil || w.ctx.Err() != nil {
		return
	}
	go func() {
		if err := w.loginWithQR(w.ctx); err != nil {
			w.logger.Warn("whatsapp: QR re-login failed", "error", err)
		}
	}()
}

// handleTemporaryBan handles temporary bans.
func (w *WhatsApp) handleTemporaryBan(evt *events.TemporaryBan) {
	w.setState(StateBanned)
	w.connected.Store(false)

	w.logger.Error("whatsapp: temporary ban", "code", evt.Code, "expire", evt.Expire)
	w.emit(channels.Event{
		Type:   channels.EventAuthFailed,
		Reason: fmt.Sprintf("temporary ban (%s), expires in %s", evt.Code, evt.Expire),
	})
}

// handleKeepAliveTimeout forces a reconnect after repeated keep-alive
// failures, which indicate a half-open socket.
func (w *WhatsApp) handleKeepAliveTimeout(evt *events.KeepAliveTimeout) {
	w.logger.Warn("whatsapp: keep-alive timeout",
		"error_count", evt.ErrorCount,
		"last_success", evt.LastSuccess)
	w.errorCount.Add(1)

	if evt.ErrorCount >= 3 && w.getState() == StateConnected {
		w.logger.Error("whatsapp: keep-alive failed multiple times, forcing reconnection",
			"error_count", evt.ErrorCount)
		w.forceReconnect("keepalive_timeout")
	}
}

// handleConnectFailure handles connection failures reported by the server.
// Permanent failures are auth failures; the rest are retried.
func (w *WhatsApp) handleConnectFailure(evt *events.ConnectFailure) {
	w.setState(StateDisconnected)
	w.connected.Store(false)

	reason := "unknown"
	if evt.Reason != 0 {
		reason = evt.Reason.String()
	}
	permanent := evt.PermanentDisconnectDescription()

	w.logger.Error("whatsapp: connect failure",
		"reason", reason,
		"message", evt.Message,
		"permanent", permanent)

	if permanent != "" {
		w.emit(channels.Event{Type: channels.EventAuthFailed, Reason: permanent})
		return
	}

	w.emit(channels.Event{Type: channels.EventDisconnected, Reason: "connect_failure: " + reason})
	if w.ctx.Err() == nil {
		go w.attemptReconnect()
	}
}

// handleStreamError treats 5xx stream errors as a lost connection.
func (w *WhatsApp) handleStreamError(evt *events.StreamError) {
	w.logger.Error("whatsapp: stream error", "code", evt.Code)

	switch evt.Code {
	case "503", "540", "541":
		w.setState(StateDisconnected)
		w.connected.Store(false)
		w.emit(channels.Event{Type: channels.EventDisconnected, Reason: "stream_error " + evt.Code})
		if w.ctx.Err() == nil {
			go w.attemptReconnect()
		}
	}
}

// forceReconnect marks the connection lost and reconnects in the background.
func (w *WhatsApp) forceReconnect(reason string) {
	w.setState(StateReconnecting)
	w.connected.Store(false)
	w.emit(channels.Event{Type: channels.EventDisconnected, Reason: reason})
	go w.attemptReconnect()
}

// handleMessageEvt converts and emits an incoming message.
func (w *WhatsApp) handleMessageEvt(evt *events.Message) {
	w.UpdateLastMsgTime()

	msg, ok := w.convertMessage(evt)
	if !ok {
		return
	}

	if w.cfg.AutoRead && w.client != nil && !msg.IsFromMe && !msg.IsBroadcast {
		go func() {
			err := w.client.MarkRead(w.ctx, []types.MessageID{evt.Info.ID}, evt.Info.Timestamp, evt.Info.Chat, evt.Info.Sender)
			if err != nil {
				w.logger.Debug("whatsapp: failed to mark read", "error", err)
			}
		}()
	}

	w.emit(channels.Event{Type: channels.EventMessage, Message: msg})
}

// convertMessage builds an IncomingMessage from a whatsmeow message event.
// Own and broadcast messages are kept and flagged; message kinds that carry
// no text or media (reactions, protocol messages) are skipped.
func (w *WhatsApp) convertMessage(evt *events.Message) (*channels.IncomingMessage, bool) {
	if evt == nil || evt.Message == nil {
		return nil, false
	}

	// WhatsApp may address senders by LID (Linked Identity) instead of
	// phone number. Resolve to the phone JID when the store knows it.
	senderJID := evt.Info.Sender
	resolvedSender := w.resolveJID(senderJID)

	chatJID := evt.Info.Chat
	resolvedChat := w.resolveJID(chatJID)

	msg := &channels.IncomingMessage{
		ID:          string(evt.Info.ID),
		Channel:     "whatsapp",
		From:        resolvedSender,
		FromName:    evt.Info.PushName,
		ChatID:      resolvedChat,
		IsGroup:     evt.Info.IsGroup || chatJID.Server == types.GroupServer,
		IsBroadcast: chatJID.Server == types.BroadcastServer,
		IsFromMe:    evt.Info.IsFromMe,
		Timestamp:   evt.Info.Timestamp,
		Metadata: map[string]any{
			"sender_jid": senderJID.String(),
			"chat_jid":   chatJID.String(),
			"push_name":  evt.Info.PushName,
		},
		Raw: evt,
	}

	if !extractMessageContent(evt.Message, msg) {
		return nil, false
	}
	extractQuotedMessage(evt.Message, msg)
	return msg, true
}

// resolveJID maps a LID to its phone JID when possible.
func (w *WhatsApp) resolveJID(jid types.JID) string {
	if jid.Server == types.HiddenUserServer && w.client != nil && w.client.Store != nil {
		if alt, err := w.client.Store.GetAltJID(w.ctx, jid); err == nil && !alt.IsEmpty() {
			w.logger.Debug("whatsapp: resolved LID to phone", "lid", jid.String(), "phone", alt.String())
			return alt.String()
		}
	}
	return jid.String()
}

// extractMessageContent fills the type and text of msg. Media messages use
// their caption as text. Reports false for unsupported message kinds.
func extractMessageContent(waMsg *waE2E.Message, msg *channels.IncomingMessage) bool {
	switch {
	case waMsg.Conversation != nil:
		msg.Type = channels.MessageText
		msg.Content = waMsg.GetConversation()
	case waMsg.ExtendedTextMessage != nil:
		msg.Type = channels.MessageText
		msg.Content = waMsg.GetExtendedTextMessage().GetText()
	case waMsg.ImageMessage != nil:
		msg.Type = channels.MessageImage
		msg.Content = waMsg.GetImageMessage().GetCaption()
	case waMsg.VideoMessage != nil:
		msg.Type = channels.MessageVideo
		msg.Content = waMsg.GetVideoMessage().GetCaption()
	case waMsg.DocumentMessage != nil:
		msg.Type = channels.MessageDocument
		msg.Content = waMsg.GetDocumentMessage().GetCaption()
	case waMsg.AudioMessage != nil:
		msg.Type = channels.MessageAudio
	case waMsg.StickerMessage != nil:
		msg.Type = channels.MessageSticker
	case waMsg.LocationMessage != nil:
		msg.Type = channels.MessageLocation
		msg.Content = waMsg.GetLocationMessage().GetName()
	case waMsg.ContactMessage != nil:
		msg.Type = channels.MessageContact
		msg.Content = waMsg.GetContactMessage().GetDisplayName()
	default:
		return false
	}
	return true
}

// extractQuotedMessage extracts reply context from a message.
func extractQuotedMessage(waMsg *waE2E.Message, msg *channels.IncomingMessage) {
	var ctxInfo *waE2E.ContextInfo

	switch {
	case waMsg.ExtendedTextMessage != nil:
		ctxInfo = waMsg.ExtendedTextMessage.GetContextInfo()
	case waMsg.ImageMessage != nil:
		ctxInfo = waMsg.ImageMessage.GetContextInfo()
	case waMsg.VideoMessage != nil:
		ctxInfo = waMsg.VideoMessage.GetContextInfo()
	case waMsg.DocumentMessage != nil:
		ctxInfo = waMsg.DocumentMessage.GetContextInfo()
	}

	if ctxInfo == nil {
		return
	}
	msg.ReplyTo = ctxInfo.GetStanzaID()
	if quoted := ctxInfo.GetQuotedMessage(); quoted != nil {
		msg.QuotedContent = extractQuotedText(quoted)
	}
}

// extractQuotedText gets the text from a quoted message.
func extractQuotedText(quoted *waE2E.Message) string {
	switch {
	case quoted.Conversation != nil:
		return quoted.GetConversation()
	case quoted.ExtendedTextMessage != nil:
		return quoted.GetExtendedTextMessage().GetText()
	case quoted.ImageMessage != nil:
		return "[image] " + quoted.GetImageMessage().GetCaption()
	case quoted.VideoMessage != nil:
		return "[video] " + quoted.GetVideoMessage().GetCaption()
	default:
		return "[message]"
	}
}

// ---------- Helpers ----------

// parseJID converts a recipient string to types.JID. Accepts bare phone
// numbers ("5511999999999"), full JIDs ("5511999999999@s.whatsapp.net"),
// group IDs ("123456789-1234@g.us") and the legacy "@c.us" user suffix.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}

	if strings.Contains(s, "@") {
		jid, err := types.ParseJID(s)
		if err != nil {
			return types.JID{}, err
		}
		if jid.Server == types.LegacyUserServer {
			jid.Server = types.DefaultUserServer
		}
		return jid, nil
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)

	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}

	return types.NewJID(digits, types.DefaultUserServer), nil
}

// chatJIDOf returns the chat JID of msg, preferring the raw event.
func chatJIDOf(msg *channels.IncomingMessage) (types.JID, error) {
	if evt, ok := msg.Raw.(*events.Message); ok {
		return evt.Info.Chat, nil
	}
	return parseJID(msg.ChatID)
}

// senderJIDOf returns the sender JID of msg, preferring the raw event.
func senderJIDOf(msg *channels.IncomingMessage) (types.JID, error) {
	if evt, ok := msg.Raw.(*events.Message); ok {
		return evt.Info.Sender.ToNonAD(), nil
	}
	return parseJID(msg.From)
}

// contactName picks the best stored name for a contact.
func contactName(c types.ContactInfo) string {
	switch {
	case c.FullName != "":
		return c.FullName
	case c.FirstName != "":
		return c.FirstName
	case c.BusinessName != "":
		return c.BusinessName
	default:
		return c.PushName
	}
}

// UpdateLastMsgTime updates the last activity timestamp.
func (w *WhatsApp) UpdateLastMsgTime() {
	w.lastMsg.Store(time.Now())
}
