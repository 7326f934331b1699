package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observed() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return &Logger{Logger: zap.New(core), serviceName: "test"}, logs
}

func TestWithContext_AddsSpanIDs(t *testing.T) {
	log, logs := observed()

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))

	log.WithContext(ctx).Info("event ingested")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", fields["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", fields["span_id"])
}

func TestWithContext_NoSpan(t *testing.T) {
	log, logs := observed()

	log.WithContext(context.Background()).Info("event ingested")

	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].ContextMap())
}

func TestWithTransaction(t *testing.T) {
	log, logs := observed()

	log.WithTransaction("TX-1001", "ACC-1").LatencyWarning("ingest", 300, 250)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "latency threshold exceeded", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "TX-1001", fields["transaction_ref"])
	assert.Equal(t, "ACC-1", fields["account_id"])
	assert.Equal(t, int64(300), fields["duration_ms"])
}
