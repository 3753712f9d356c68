package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "warn", Format: "json", Output: &buf})

	logger.Info("dropped")
	logger.WithRequestID("req-1").Warn("kept", slog.String("source", "accounts"))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &record))
	assert.Equal(t, "kept", record["msg"])
	assert.Equal(t, "req-1", record["request_id"])
	assert.Equal(t, "accounts", record["source"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.NotNil(t, FromContext(ctx))

	logger := Nop()
	ctx = WithLogger(ctx, logger)
	assert.Same(t, logger, FromContext(ctx))

	ctx, id := EnsureRequestID(ctx)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, GetRequestID(ctx))

	_, again := EnsureRequestID(ctx)
	assert.Equal(t, id, again)
}

func TestMultiHandler(t *testing.T) {
	var a, b bytes.Buffer
	h := newMultiHandler(
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	logger := slog.New(h).With("k", "v")

	logger.Info("info")
	logger.Error("error")

	assert.Contains(t, a.String(), "info")
	assert.Contains(t, a.String(), "error")
	assert.NotContains(t, b.String(), "info")
	assert.Contains(t, b.String(), "k=v")
}
