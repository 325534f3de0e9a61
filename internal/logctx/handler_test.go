package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	return entry
}

func TestHandler_NoSpanContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo)

	logger.InfoContext(context.Background(), "batch started", "batch", 1)

	entry := decodeLine(t, &buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
	assert.Equal(t, "batch started", entry["msg"])
	assert.EqualValues(t, 1, entry["batch"])
}

func TestHandler_WithSpanContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo)

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "download")
	defer span.End()

	logger.InfoContext(ctx, "task completed")

	entry := decodeLine(t, &buf)
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
}

func TestHandler_WithAttrsKeepsTracing(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo).
		With("target", "music").
		WithGroup("task")

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "download")
	defer span.End()

	logger.InfoContext(ctx, "retrying", "id", 7)

	entry := decodeLine(t, &buf)
	assert.Equal(t, "music", entry["target"])
	assert.Contains(t, entry, "task")
}

func TestHandler_RequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo)

	logger.InfoContext(WithRequestID(context.Background(), "req-42"), "status served")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "req-42", entry["request_id"])
	assert.NotContains(t, entry, "trace_id")
}

func TestHandler_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelWarn)

	logger.Info("progress")
	assert.Zero(t, buf.Len())

	logger.Warn("retrying")
	assert.Equal(t, "retrying", decodeLine(t, &buf)["msg"])
}

func TestNewHandler_NilPanics(t *testing.T) {
	assert.Panics(t, func() { NewHandler(nil) })
}

func TestRequestID_Missing(t *testing.T) {
	assert.Empty(t, RequestID(context.Background()))
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx, logger := With(WithLogger(context.Background(), base), "session", "abc")
	assert.Same(t, logger, LoggerFromContext(ctx))

	logger.Info("hello")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "abc", entry["session"])
}

func TestLoggerFromContext_Default(t *testing.T) {
	assert.Same(t, slog.Default(), LoggerFromContext(context.Background()))
}
