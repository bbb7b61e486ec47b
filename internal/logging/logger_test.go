package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseLevel verifies level names map to slog levels.
func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"Error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

// TestConsoleOutput checks the console line layout and level filtering.
func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Writer: &buf, Level: "info"}).WithComponent("registry")

	log.Debug("hidden")
	log.Info("worker registered", "id", "worker-1", "note", "two words")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INFO  worker registered")
	assert.Contains(t, out, "component=registry")
	assert.Contains(t, out, "id=worker-1")
	assert.Contains(t, out, `note="two words"`)
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

// TestConsoleColorOnPlainWriter verifies that enabling color on a writer
// that is not a terminal still yields readable lines, including multi-line
// messages.
func TestConsoleColorOnPlainWriter(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Writer: &buf, Color: true})

	log.Warn("Received feedback:\nline one\nline two")
	log.Error("publish failed", "error", "broker gone")

	out := buf.String()
	assert.Contains(t, out, "Received feedback:")
	assert.Contains(t, out, "line one\nline two")
	assert.Contains(t, out, `error="broker gone"`)
}

// TestConsoleGroups verifies grouped attributes are qualified once.
func TestConsoleGroups(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Writer: &buf})
	log.Slog().WithGroup("result").With("client", "w1").Info("done", "status", "ok")

	out := buf.String()
	assert.Contains(t, out, "result.client=w1")
	assert.Contains(t, out, "result.status=ok")
	assert.NotContains(t, out, "result.result.")
}

// TestJSONOutput verifies the JSON format emits parseable records.
func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Writer: &buf, Format: "json", Level: "debug"})
	log.With("worker", "w1").Debug("executing", "command", "uptime")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "DEBUG", rec["level"])
	assert.Equal(t, "executing", rec["msg"])
	assert.Equal(t, "w1", rec["worker"])
	assert.Equal(t, "uptime", rec["command"])
}

// TestNop verifies the nop logger accepts calls without output.
func TestNop(t *testing.T) {
	log := NewNop()
	log.Error("nothing to see")
	assert.Same(t, log, log.With())
}
