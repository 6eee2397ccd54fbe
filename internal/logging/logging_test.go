package logging

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camwatch/frameparser-autoscaler"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLevel("loud")
	assert.ErrorIs(t, err, autoscaler.ErrInvalidConfig)
}

func TestNew_WritesAtOrAboveLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, slog.LevelInfo)
	ctx := context.Background()

	log.Debug(ctx, "hidden debug line")
	log.Info(ctx, "worker launched", "cameraID", "cam-1")
	log.Warn(ctx, "stop failed", "error", errors.New("throttled"))

	out := buf.String()
	assert.NotContains(t, out, "hidden debug line")
	assert.Contains(t, out, "worker launched")
	assert.Contains(t, out, "cam-1")
	assert.Contains(t, out, "stop failed")
	assert.Contains(t, out, "throttled")
}

func TestFields(t *testing.T) {
	err := errors.New("boom")
	got := fields([]interface{}{"cameraID", "cam-1", "error", err, 7, "seven", "dangling"})

	require.Len(t, got, 4)
	assert.Equal(t, "cameraID", got[0].Name)
	assert.Equal(t, "cam-1", got[0].Value)
	assert.Equal(t, slog.Error(err).Name, got[1].Name)
	assert.Equal(t, "7", got[2].Name)
	assert.Equal(t, "!BADKEY", got[3].Name)
	assert.Equal(t, "dangling", got[3].Value)
}

func TestWrap_SatisfiesLogger(t *testing.T) {
	var log autoscaler.Logger = Wrap(slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})).Named("test")
	ctx := context.Background()

	log.Debug(ctx, "debug")
	log.Info(ctx, "info", "k", "v")
	log.Warn(ctx, "warn")
	log.Error(ctx, "error", "error", errors.New("x"))
}
