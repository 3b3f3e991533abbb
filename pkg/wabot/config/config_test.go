package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseConfig_KeywordOrder(t *testing.T) {
	t.Run("mapping form keeps document order", func(t *testing.T) {
		cfg, err := ParseConfig([]byte(`
auto_reply:
  keywords:
    zebra: "z"
    hello: "Hi!"
    help: "Help msg"
    apple: "a"
`))
		if err != nil {
			t.Fatalf("ParseConfig: %v", err)
		}
		want := []string{"zebra", "hello", "help", "apple"}
		if len(cfg.AutoReply.Keywords) != len(want) {
			t.Fatalf("expected %d keywords, got %d", len(want), len(cfg.AutoReply.Keywords))
		}
		for i, kw := range cfg.AutoReply.Keywords {
			if kw.Keyword != want[i] {
				t.Errorf("keyword[%d] = %q, want %q", i, kw.Keyword, want[i])
			}
		}
		if cfg.AutoReply.Keywords[1].Response != "Hi!" {
			t.Errorf("unexpected response: %q", cfg.AutoReply.Keywords[1].Response)
		}
	})

	t.Run("list form", func(t *testing.T) {
		cfg, err := ParseConfig([]byte(`
auto_reply:
  keywords:
    - keyword: hello
      response: "Hi!"
    - keyword: help
      response: "Help msg"
`))
		if err != nil {
			t.Fatalf("ParseConfig: %v", err)
		}
		if len(cfg.AutoReply.Keywords) != 2 || cfg.AutoReply.Keywords[0].Keyword != "hello" {
			t.Errorf("unexpected keywords: %+v", cfg.AutoReply.Keywords)
		}
	})

	t.Run("null keywords", func(t *testing.T) {
		cfg, err := ParseConfig([]byte("auto_reply:\n  keywords:\n"))
		if err != nil {
			t.Fatalf("ParseConfig: %v", err)
		}
		if len(cfg.AutoReply.Keywords) != 0 {
			t.Errorf("expected empty table, got %+v", cfg.AutoReply.Keywords)
		}
	})

	t.Run("scalar keywords rejected", func(t *testing.T) {
		_, err := ParseConfig([]byte("auto_reply:\n  keywords: hello\n"))
		if err == nil {
			t.Fatal("expected error for scalar keywords")
		}
	})
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig(nil)
	if err != nil {
		t.Fatalf("ParseConfig(empty): %v", err)
	}
	if cfg.TransportName() != TransportWhatsApp {
		t.Errorf("expected whatsapp transport, got %q", cfg.TransportName())
	}
	if !cfg.AutoReply.Enabled || !cfg.AutoReply.UseDefaultReply {
		t.Error("expected auto-reply and default reply enabled by default")
	}
	if !cfg.Bot.IgnoreBroadcast || !cfg.Bot.IgnoreOwnMessages || !cfg.Bot.LogMessages {
		t.Errorf("unexpected bot defaults: %+v", cfg.Bot)
	}
	if cfg.Bot.IgnoreGroups {
		t.Error("ignore_groups should default to false")
	}
	if cfg.AutoSend.Enabled {
		t.Error("auto_send should default to disabled")
	}
}

func TestParseConfig_Schedule(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
auto_send:
  enabled: true
  messages:
    - to: "123@s.whatsapp.net"
      message: "ms"
      schedule:
        delay: 5000
        interval: 0
    - to: "456@s.whatsapp.net"
      message: "duration"
      schedule:
        immediate: true
        delay: 2s
        interval: 1h
        cron: "@daily"
`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	msgs := cfg.AutoSend.Messages
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if got := msgs[0].Schedule.Delay.Duration(); got != 5*time.Second {
		t.Errorf("delay = %v, want 5s", got)
	}
	if msgs[0].Schedule.Interval != 0 || msgs[0].Schedule.Immediate {
		t.Errorf("unexpected schedule: %+v", msgs[0].Schedule)
	}
	if got := msgs[1].Schedule.Delay.Duration(); got != 2*time.Second {
		t.Errorf("delay = %v, want 2s", got)
	}
	if got := msgs[1].Schedule.Interval.Duration(); got != time.Hour {
		t.Errorf("interval = %v, want 1h", got)
	}
	if !msgs[1].Schedule.Immediate || msgs[1].Schedule.Cron != "@daily" {
		t.Errorf("unexpected schedule: %+v", msgs[1].Schedule)
	}
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{
			name:  "missing recipient",
			yaml:  "auto_send:\n  messages:\n    - message: hi\n",
			field: "auto_send.messages[0].to",
		},
		{
			name:  "missing message",
			yaml:  "auto_send:\n  messages:\n    - to: a\n    - to: b\n",
			field: "auto_send.messages[0].message",
		},
		{
			name:  "second entry missing message",
			yaml:  "auto_send:\n  messages:\n    - to: a\n      message: x\n    - to: b\n",
			field: "auto_send.messages[1].message",
		},
		{
			name:  "interval overflows duration",
			yaml:  "auto_send:\n  messages:\n    - to: a\n      message: x\n      schedule: {interval: 10000000000000}\n",
			field: "auto_send.messages[0].schedule.interval",
		},
		{
			name:  "delay overflows duration",
			yaml:  "auto_send:\n  messages:\n    - to: a\n      message: x\n      schedule: {delay: 9300000000000}\n",
			field: "auto_send.messages[0].schedule.delay",
		},
		{
			name:  "negative delay",
			yaml:  "auto_send:\n  messages:\n    - to: a\n      message: x\n      schedule: {delay: -1}\n",
			field: "auto_send.messages[0].schedule.delay",
		},
		{
			name:  "negative interval",
			yaml:  "auto_send:\n  messages:\n    - to: a\n      message: x\n      schedule: {interval: -10}\n",
			field: "auto_send.messages[0].schedule.interval",
		},
		{
			name:  "bad cron",
			yaml:  "auto_send:\n  messages:\n    - to: a\n      message: x\n      schedule: {cron: \"not a cron\"}\n",
			field: "auto_send.messages[0].schedule.cron",
		},
		{
			name:  "empty keyword",
			yaml:  "auto_reply:\n  keywords:\n    - keyword: \"\"\n      response: x\n",
			field: "auto_reply.keywords[0]",
		},
		{
			name:  "keyword without response",
			yaml:  "auto_reply:\n  keywords:\n    hello: \"\"\n",
			field: "auto_reply.keywords[0]",
		},
		{
			name:  "default reply missing",
			yaml:  "auto_reply:\n  use_default_reply: true\n  default_reply: \"\"\n",
			field: "auto_reply.default_reply",
		},
		{
			name:  "unknown transport",
			yaml:  "transport: telegram\n",
			field: "transport",
		},
		{
			name:  "discord without token",
			yaml:  "transport: discord\n",
			field: "discord.token",
		},
		{
			name:  "bad log level",
			yaml:  "logging:\n  level: loud\n",
			field: "logging.level",
		},
		{
			name:  "bad log format",
			yaml:  "logging:\n  format: xml\n",
			field: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			var le *LoadError
			if !errors.As(err, &le) {
				t.Fatalf("expected *LoadError, got %T: %v", err, err)
			}
			if le.Field != tt.field {
				t.Errorf("field = %q, want %q (err: %v)", le.Field, tt.field, err)
			}
		})
	}
}

func TestParseConfig_UnknownField(t *testing.T) {
	_, err := ParseConfig([]byte("auto_reply:\n  enabeld: true\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected *LoadError, got %T", err)
	}
}

func TestParseConfig_InvalidDuration(t *testing.T) {
	_, err := ParseConfig([]byte(`
auto_send:
  messages:
    - to: a
      message: x
      schedule:
        delay: soon
`))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("expected invalid duration error, got %v", err)
	}
}

func TestParseConfig_SubMillisecondDuration(t *testing.T) {
	_, err := ParseConfig([]byte("auto_send:\n  messages:\n    - to: a\n      message: x\n      schedule: {interval: 500us}\n"))
	if err == nil || !strings.Contains(err.Error(), "1ms resolution") {
		t.Errorf("expected resolution error, got %v", err)
	}

	cfg, err := ParseConfig([]byte("auto_send:\n  messages:\n    - to: a\n      message: x\n      schedule: {interval: 1ms}\n"))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if got := cfg.AutoSend.Messages[0].Schedule.Interval; got != 1 {
		t.Errorf("interval = %d, want 1", got)
	}
}

func TestMaxMillisFitsDuration(t *testing.T) {
	if d := MaxMillis.Duration(); d <= 0 {
		t.Errorf("MaxMillis.Duration() = %v, want positive", d)
	}
	if d := (MaxMillis + 1).Duration(); d > 0 {
		t.Errorf("expected MaxMillis+1 to overflow, got %v", d)
	}
}

func TestExampleConfigIsValid(t *testing.T) {
	cfg := ExampleConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("example config invalid: %v", err)
	}
	if cfg.AutoReply.Keywords[0].Keyword != "hello" {
		t.Errorf("unexpected first keyword %q", cfg.AutoReply.Keywords[0].Keyword)
	}
}

func TestLoadError(t *testing.T) {
	inner := errors.New("boom")
	err := &LoadError{Path: "config.yaml", Field: "transport", Msg: "bad", Err: inner}
	if got := err.Error(); got != "config config.yaml: transport: bad: boom" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, inner) {
		t.Error("expected Unwrap to expose inner error")
	}
}
