package logger

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

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestNewWithWriter_TagsService(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("pricing-engine", "info", &buf).Info("hello")

	out := decodeLine(t, &buf)
	assert.Equal(t, "pricing-engine", out["service"])
	assert.Equal(t, "hello", out["msg"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewWithWriter_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("svc", "warn", &buf).Info("dropped")
	assert.Empty(t, buf.String())
}

func TestWithContext_AllFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("svc", "info", &buf)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))
	ctx = WithCorrelationID(ctx, "req-1")
	ctx = WithUserID(ctx, "admin-7")
	ctx = WithCampaignID(ctx, "c-42")

	WithContext(ctx, l).Info("applied")

	out := decodeLine(t, &buf)
	assert.Equal(t, "req-1", out["correlation_id"])
	assert.Equal(t, "admin-7", out["user_id"])
	assert.Equal(t, "c-42", out["campaign_id"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", out["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", out["span_id"])
}

func TestWithContext_EmptyContextReturnsSameLogger(t *testing.T) {
	l := NewWithWriter("svc", "info", &bytes.Buffer{})
	assert.Same(t, l, WithContext(context.Background(), l))
}

func TestFromContext(t *testing.T) {
	l := NewWithWriter("svc", "info", &bytes.Buffer{})
	assert.Same(t, l, FromContext(NewContext(context.Background(), l)))
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}
