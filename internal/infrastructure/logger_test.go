package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceHandlerInjectsTraceID(t *testing.T) {
	var buf bytes.Buffer
	handler := &traceHandler{Handler: slog.NewJSONHandler(&buf, nil)}
	logger := slog.New(handler)

	ctx := WithTraceID(context.Background(), "trace-123")
	logger.InfoContext(ctx, "admitting device")

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "trace-123", record["trace_id"])
	assert.Equal(t, "admitting device", record["msg"])
}

func TestTraceHandlerWithoutTraceID(t *testing.T) {
	var buf bytes.Buffer
	handler := &traceHandler{Handler: slog.NewJSONHandler(&buf, nil)}
	logger := slog.New(handler)

	logger.InfoContext(context.Background(), "no trace")

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	_, present := record["trace_id"]
	assert.False(t, present)
}

func TestGetTraceID(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))

	ctx := WithTraceID(context.Background(), "abc")
	assert.Equal(t, "abc", GetTraceID(ctx))
}

func TestEnsureTraceID(t *testing.T) {
	ctx := EnsureTraceID(context.Background())
	assert.NotEmpty(t, GetTraceID(ctx))

	// Existing trace ID is preserved
	ctx2 := EnsureTraceID(ctx)
	assert.Equal(t, GetTraceID(ctx), GetTraceID(ctx2))
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, parseLogLevel(tt.input), "level %q", tt.input)
	}
}
