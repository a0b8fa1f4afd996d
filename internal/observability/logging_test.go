package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogger_Defaults(t *testing.T) {
	logger := NewLogger(LogConfig{})
	if logger == nil {
		t.Fatal("expected logger to be created")
	}
	if logger.config.Level != "info" {
		t.Errorf("expected default level info, got %s", logger.config.Level)
	}
	if logger.config.Format != "json" {
		t.Errorf("expected default format json, got %s", logger.config.Format)
	}
}

func TestLogger_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf, Format: "json"})

	logger.Info(context.Background(), "provider configured",
		"detail", "api_key=sk4f8a2b91c3d7e6f5a4b3c2d1e0f9a8b7")

	out := buf.String()
	if strings.Contains(out, "sk4f8a2b91c3d7e6f5a4b3c2d1e0f9a8b7") {
		t.Errorf("expected secret to be redacted, got %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker in output, got %s", out)
	}
}

func TestLogger_RedactsSensitiveMapKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf, Format: "json"})

	logger.Info(context.Background(), "integration resolved",
		"integration", map[string]any{"name": "stripe", "api_key": "shouldhide123456"})

	out := buf.String()
	if strings.Contains(out, "shouldhide123456") {
		t.Errorf("expected map value to be redacted, got %s", out)
	}
	if !strings.Contains(out, "stripe") {
		t.Errorf("expected non-sensitive value to survive, got %s", out)
	}
}

func TestLogger_ContextCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf, Format: "json"})

	ctx := WithSessionID(context.Background(), "sess-1")
	ctx = WithClientID(ctx, "acme")
	ctx = WithConversationID(ctx, "conv-9")
	logger.Info(ctx, "turn started")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["session_id"] != "sess-1" {
		t.Errorf("expected session_id, got %v", record["session_id"])
	}
	if record["client_id"] != "acme" {
		t.Errorf("expected client_id, got %v", record["client_id"])
	}
	if record["conversation_id"] != "conv-9" {
		t.Errorf("expected conversation_id, got %v", record["conversation_id"])
	}
}

func TestLogLevelFromString(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := LogLevelFromString(in); got != want {
			t.Errorf("LogLevelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}
