package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "info", Format: "json", Out: &buf})
	l.Info("hello", "k", "v")

	out := buf.String()
	if !strings.HasPrefix(out, "{") {
		t.Errorf("json output = %q, want JSON object", out)
	}
	if !strings.Contains(out, `"k":"v"`) {
		t.Errorf("json output = %q, want k=v attribute", out)
	}
}

func TestNew_AutoFormatNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "info", Format: "auto", Out: &buf})
	l.Info("hello")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("auto format on a buffer = %q, want JSON", buf.String())
	}
}

func TestUseJSON(t *testing.T) {
	var buf bytes.Buffer
	tests := []struct {
		format string
		want   bool
	}{
		{"json", true},
		{"text", false},
		{"", false},
		{"auto", true},
	}
	for _, tt := range tests {
		if got := useJSON(tt.format, &buf); got != tt.want {
			t.Errorf("useJSON(%q) = %v, want %v", tt.format, got, tt.want)
		}
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "warn", Format: "text", Out: &buf})
	l.Info("dropped")
	l.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info line should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestWithContext_Attributes(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	defer slog.SetDefault(prev)
	Init(&Config{Level: "debug", Format: "text", Out: &buf})

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = WithJob(ctx, "job-1")
	ctx = WithPlatform(ctx, "thumbtack")
	Info(ctx, "started")

	out := buf.String()
	for _, want := range []string{"request_id=req-1", "job_id=job-1", "platform=thumbtack"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestWithContext_Empty(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	defer slog.SetDefault(prev)
	Init(&Config{Level: "debug", Format: "text", Out: &buf})

	Debug(context.Background(), "plain")
	if strings.Contains(buf.String(), "job_id") {
		t.Errorf("unexpected job_id in %q", buf.String())
	}
}
