package channels

import (
	"context"
	"testing"
)

type sendOnly struct {
	to   string
	sent *OutgoingMessage
}

func (s *sendOnly) Name() string                  { return "fake" }
func (s *sendOnly) Connect(context.Context) error { return nil }
func (s *sendOnly) Disconnect() error             { return nil }
func (s *sendOnly) Events() <-chan Event          { return nil }
func (s *sendOnly) IsConnected() bool             { return true }
func (s *sendOnly) Health() HealthStatus          { return HealthStatus{Connected: true} }
func (s *sendOnly) Send(_ context.Context, to string, msg *OutgoingMessage) error {
	s.to, s.sent = to, msg
	return nil
}

type replying struct {
	sendOnly
	replied string
}

func (r *replying) Reply(_ context.Context, _ *IncomingMessage, text string) error {
	r.replied = text
	return nil
}

func TestReplyTo(t *testing.T) {
	orig := &IncomingMessage{ID: "m1", ChatID: "chat-1", Content: "hello"}

	t.Run("falls back to send", func(t *testing.T) {
		ch := &sendOnly{}
		if err := ReplyTo(context.Background(), ch, orig, "Hi!"); err != nil {
			t.Fatal(err)
		}
		if ch.to != "chat-1" || ch.sent.Content != "Hi!" || ch.sent.ReplyTo != "m1" {
			t.Errorf("unexpected send: to=%q msg=%+v", ch.to, ch.sent)
		}
	})

	t.Run("uses native reply", func(t *testing.T) {
		ch := &replying{}
		if err := ReplyTo(context.Background(), ch, orig, "Hi!"); err != nil {
			t.Fatal(err)
		}
		if ch.replied != "Hi!" {
			t.Errorf("replied = %q", ch.replied)
		}
		if ch.sent != nil {
			t.Error("Send should not be called when Reply is available")
		}
	})
}

func TestSenderMetadataDisplayName(t *testing.T) {
	tests := []struct {
		name string
		meta *SenderMetadata
		want string
	}{
		{"nil", nil, ""},
		{"name", &SenderMetadata{ID: "1", Name: "Alice", PushName: "ali"}, "Alice"},
		{"push name", &SenderMetadata{ID: "1", PushName: "ali", Phone: "+55"}, "ali"},
		{"phone", &SenderMetadata{ID: "1", Phone: "+55"}, "+55"},
		{"id", &SenderMetadata{ID: "1"}, "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.meta.DisplayName(); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}
