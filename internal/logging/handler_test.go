// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "not JSON: %s", buf.String())
	return entry
}

func spanContext(t *testing.T) context.Context {
	t.Helper()
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Service: "devmond", Version: "1.0.0", Output: &buf})

	logger.Info("device created", "device", 1)

	entry := decode(t, &buf)
	assert.Equal(t, "device created", entry["msg"])
	assert.Equal(t, "devmond", entry["service"])
	assert.Equal(t, "1.0.0", entry["version"])
	assert.InDelta(t, 1, entry["device"], 0)
	assert.NotContains(t, entry, "trace_id")
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Service: "devmond", Format: FormatText, Output: &buf})

	logger.Info("monitor started")

	out := buf.String()
	assert.Contains(t, out, "msg=\"monitor started\"")
	assert.Contains(t, out, "service=devmond")
	assert.NotContains(t, out, "version=")
}

func TestNew_TraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Output: &buf}).With("monitor", "api.test.enum")

	logger.InfoContext(spanContext(t), "node created")

	entry := decode(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
	assert.Equal(t, "api.test.enum", entry["monitor"])
}

func TestNew_TraceContextInGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Output: &buf}).WithGroup("node")

	logger.InfoContext(spanContext(t), "created", "id", 3)

	entry := decode(t, &buf)
	group, ok := entry["node"].(map[string]any)
	require.True(t, ok, "group missing: %v", entry)
	assert.InDelta(t, 3, group["id"], 0)
	assert.Contains(t, group, "trace_id")
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: slog.LevelWarn, Output: &buf})

	logger.Info("dropped")
	assert.Empty(t, buf.String())

	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestSetDefault(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	logger := SetDefault(Options{Service: "devmond", Level: slog.LevelWarn})

	assert.Same(t, logger, slog.Default())
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]string{"": FormatJSON, "json": FormatJSON, "TEXT": FormatText} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log format")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}
