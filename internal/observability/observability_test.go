package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"Error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}

func TestObservabilityHandler_AddsTraceCorrelation(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewObservabilityHandler(noop.NewMeterProvider().Meter("test"), "hub", HandlerOptions{
		Level:  slog.LevelDebug,
		Writer: &buf,
	})
	require.NoError(t, err)
	logger := slog.New(h)

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	logger.InfoContext(ctx, "delivered", "agent_id", "B")
	span.End()

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "hub", record["service"])
	assert.Equal(t, "delivered", record["msg"])
	assert.Equal(t, "B", record["agent_id"])
	assert.Equal(t, span.SpanContext().TraceID().String(), record["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), record["span_id"])
}

func TestObservabilityHandler_NoSpanNoIDs(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewObservabilityHandler(noop.NewMeterProvider().Meter("test"), "hub", HandlerOptions{Writer: &buf})
	require.NoError(t, err)

	slog.New(h).With("component", "test").Info("hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.NotContains(t, record, "trace_id")
	assert.Equal(t, "test", record["component"])
}

func TestObservabilityHandler_TextFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewObservabilityHandler(noop.NewMeterProvider().Meter("test"), "hub", HandlerOptions{
		Level:  slog.LevelWarn,
		Writer: &buf,
		Format: "text",
	})
	require.NoError(t, err)
	logger := slog.New(h)

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.Contains(t, buf.String(), "msg=kept")
	assert.Contains(t, buf.String(), "service=hub")
}

func TestObservabilityHandler_CountsLogs(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	h, err := NewObservabilityHandler(provider.Meter("test"), "hub", HandlerOptions{})
	require.NoError(t, err)

	logger := slog.New(h)
	logger.Info("one")
	logger.Info("two")

	assert.Equal(t, int64(2), sumCounter(t, reader, "logs_total"))
}

func TestMetricsManager_RecordsMailboxMetrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	mm, err := NewMetricsManager(provider.Meter("test"))
	require.NoError(t, err)

	mm.RecordMessageSent(ctx, "B", "status", 2*time.Millisecond)
	mm.RecordMessageSent(ctx, "C", "status", time.Millisecond)
	mm.RecordMessageReceived(ctx, "B", "status", 0)
	mm.RecordReceiveTimeout(ctx, "C")
	mm.RecordCallbackError(ctx, "B")
	mm.IncrementRPCErrors(ctx, "Send", "InvalidArgument")
	mm.SetQueueDepth(ctx, "C", 1)
	mm.UpdateSystemMetrics(ctx)

	assert.Equal(t, int64(2), sumCounter(t, reader, "mailbox_messages_sent_total"))
	assert.Equal(t, int64(1), sumCounter(t, reader, "mailbox_messages_received_total"))
	assert.Equal(t, int64(1), sumCounter(t, reader, "mailbox_receive_timeouts_total"))
	assert.Equal(t, int64(1), sumCounter(t, reader, "mailbox_callback_errors_total"))
	assert.Equal(t, int64(1), sumCounter(t, reader, "mailbox_rpc_errors_total"))
}

func TestMetricsManager_NoopMeter(t *testing.T) {
	mm, err := NewMetricsManager(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		mm.RecordMessageSent(context.Background(), "B", "status", time.Millisecond)
		mm.SetQueueDepth(context.Background(), "B", 3)
	})
}

func TestHealthServer_Endpoints(t *testing.T) {
	hs := NewHealthServer("0", "hub", "1.2.3")
	hs.AddChecker("mailbox", NewBasicHealthChecker("mailbox", func(context.Context) error { return nil }))
	hs.Handle("/extra", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	srv := httptest.NewServer(hs.Handler())
	defer srv.Close()

	for _, path := range []string{"/health", "/ready"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		var body HealthResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, HealthStatusHealthy, body.Status)
		assert.Equal(t, "hub", body.Service)
		assert.Equal(t, "1.2.3", body.Version)
		require.Len(t, body.Checks, 1)
		assert.Equal(t, "mailbox", body.Checks[0].Name)
	}

	resp, err := http.Get(srv.URL + "/extra")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthServer_UnhealthyCheck(t *testing.T) {
	hs := NewHealthServer("0", "hub", "dev")
	hs.AddChecker("ok", NewBasicHealthChecker("ok", func(context.Context) error { return nil }))
	hs.AddChecker("broken", NewBasicHealthChecker("broken", func(context.Context) error {
		return errors.New("queue registry unavailable")
	}))

	rec := httptest.NewRecorder()
	hs.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, HealthStatusUnhealthy, body.Status)
	require.Len(t, body.Checks, 2)
	assert.Equal(t, "broken", body.Checks[0].Name)
	assert.Equal(t, "queue registry unavailable", body.Checks[0].Message)
}

func TestNewObservability_WithoutExporter(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig("obs-test")
	cfg.TracingEnabled = false
	cfg.LogOutput = &buf
	cfg.Registerer = promclient.NewRegistry()

	obs, err := NewObservability(cfg)
	require.NoError(t, err)
	defer obs.Shutdown(context.Background())

	ctx, span := obs.Tracer.Start(context.Background(), "op")
	obs.Logger.InfoContext(ctx, "hello")
	span.End()

	assert.True(t, span.SpanContext().IsValid())
	assert.Contains(t, buf.String(), span.SpanContext().TraceID().String())
}

func sumCounter(t *testing.T, reader sdkmetric.Reader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	t.Fatalf("metric %s not collected", name)
	return 0
}
