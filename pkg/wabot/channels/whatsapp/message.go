package whatsapp

import (
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

// buildTextMessage builds a plain text message. A non-empty replyTo quotes
// the message with that ID.
func buildTextMessage(text, replyTo string) *waE2E.Message {
	if replyTo == "" {
		return &waE2E.Message{Conversation: proto.String(text)}
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(text),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID: proto.String(replyTo),
			},
		},
	}
}

// buildReplyMessage builds a text message quoting orig, so the reply shows
// the original bubble in the client.
func buildReplyMessage(text string, orig *events.Message) *waE2E.Message {
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(text),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID:      proto.String(string(orig.Info.ID)),
				Participant:   proto.String(orig.Info.Sender.ToNonAD().String()),
				QuotedMessage: orig.Message,
			},
		},
	}
}
