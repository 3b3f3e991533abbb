package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	t.Run("json by default", func(t *testing.T) {
		var buf bytes.Buffer
		logger, closer := New(DefaultConfig(), false, &buf)
		defer closer.Close()

		logger.Info("hello", "k", "v")

		var rec map[string]any
		if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
			t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
		}
		if rec["msg"] != "hello" || rec["k"] != "v" {
			t.Errorf("unexpected record: %v", rec)
		}
	})

	t.Run("text format", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := DefaultConfig()
		cfg.Format = "text"
		logger, closer := New(cfg, false, &buf)
		defer closer.Close()

		logger.Info("hello")
		if !strings.Contains(buf.String(), "msg=hello") {
			t.Errorf("expected text output, got %q", buf.String())
		}
	})

	t.Run("auto is json when not a terminal", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := DefaultConfig()
		cfg.Format = "auto"
		logger, closer := New(cfg, false, &buf)
		defer closer.Close()

		logger.Info("hello")
		if !strings.HasPrefix(buf.String(), "{") {
			t.Errorf("expected JSON output, got %q", buf.String())
		}
	})

	t.Run("verbose enables debug", func(t *testing.T) {
		var buf bytes.Buffer
		logger, closer := New(DefaultConfig(), true, &buf)
		defer closer.Close()

		logger.Debug("detail")
		if !strings.Contains(buf.String(), "detail") {
			t.Error("expected debug record with verbose")
		}
	})

	t.Run("level filters debug", func(t *testing.T) {
		var buf bytes.Buffer
		logger, closer := New(DefaultConfig(), false, &buf)
		defer closer.Close()

		logger.Debug("detail")
		if buf.Len() != 0 {
			t.Errorf("expected no output at info level, got %q", buf.String())
		}
	})

	t.Run("tees to file", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := DefaultConfig()
		cfg.File = filepath.Join(t.TempDir(), "wabot.log")
		logger, closer := New(cfg, false, &buf)

		logger.Info("to file")
		if err := closer.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}

		data, err := os.ReadFile(cfg.File)
		if err != nil {
			t.Fatalf("reading log file: %v", err)
		}
		if !strings.Contains(string(data), "to file") {
			t.Errorf("log file missing record: %q", data)
		}
		if !strings.Contains(buf.String(), "to file") {
			t.Errorf("stdout missing record: %q", buf.String())
		}
	})
}
