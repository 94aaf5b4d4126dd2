package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", SessionID(ctx))
	assert.Equal(t, "", JobID(ctx))
	assert.Equal(t, "", Stage(ctx))

	ctx = WithSessionID(ctx, "u1_go_generics")
	ctx = WithJobID(ctx, "job-9")
	ctx = WithStage(ctx, "chapter-3")

	assert.Equal(t, "u1_go_generics", SessionID(ctx))
	assert.Equal(t, "job-9", JobID(ctx))
	assert.Equal(t, "chapter-3", Stage(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithStage(WithSessionID(context.Background(), "s-1"), "outline")
	LogWith(ctx, logger).Info("outline accepted")

	out := buf.String()
	assert.Contains(t, out, "session_id=s-1")
	assert.Contains(t, out, "stage=outline")
	assert.NotContains(t, out, "job_id=")
	assert.Contains(t, out, "outline accepted")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner)).With(slog.String("component", "pipeline"))

	ctx := WithJobID(WithSessionID(context.Background(), "s-2"), "job-1")
	logger.InfoContext(ctx, "chapter done")

	out := buf.String()
	assert.Contains(t, out, "session_id=s-2")
	assert.Contains(t, out, "job_id=job-1")
	assert.Contains(t, out, "component=pipeline")
}

func TestCorrelationHandler_Enabled(t *testing.T) {
	inner := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	h := NewCorrelationHandler(inner)
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
