package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestWithSourceCarriesAttributes(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithLogger(context.Background(), base)
	ctx = WithSource(ctx, "user-1", "source-1")
	FromContext(ctx).Info("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "user-1", line["user_id"])
	assert.Equal(t, "source-1", line["source_id"])
}

func TestWithUserIDAndRequestID(t *testing.T) {
	ctx := WithLogger(context.Background(), NewTestLogger())
	ctx = WithUserID(ctx, "user-9")
	ctx = WithRequestID(ctx, "req-1")

	assert.Equal(t, "user-9", UserID(ctx))
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Empty(t, UserID(context.Background()))
}
