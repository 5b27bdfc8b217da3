package observability

import (
	"context"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsManager owns the OTel instruments of the hub. It satisfies
// mailbox.Recorder.
type MetricsManager struct {
	meter metric.Meter

	// Mailbox metrics
	messagesSentTotal     metric.Int64Counter
	messagesReceivedTotal metric.Int64Counter
	receiveTimeoutsTotal  metric.Int64Counter
	callbackErrorsTotal   metric.Int64Counter
	sendDuration          metric.Float64Histogram
	receiveWait           metric.Float64Histogram
	queueDepth            metric.Int64Gauge

	// RPC metrics
	rpcErrorsTotal metric.Int64Counter

	// System metrics
	processResidentMemoryBytes metric.Int64Gauge
	goGoroutines               metric.Int64Gauge
	goMemstatsAllocBytes       metric.Int64Gauge
}

func NewMetricsManager(meter metric.Meter) (*MetricsManager, error) {
	mm := &MetricsManager{meter: meter}

	var err error

	mm.messagesSentTotal, err = meter.Int64Counter(
		"mailbox_messages_sent_total",
		metric.WithDescription("Total number of messages enqueued"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.messagesReceivedTotal, err = meter.Int64Counter(
		"mailbox_messages_received_total",
		metric.WithDescription("Total number of messages dequeued"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.receiveTimeoutsTotal, err = meter.Int64Counter(
		"mailbox_receive_timeouts_total",
		metric.WithDescription("Total number of receives that timed out on an empty mailbox"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.callbackErrorsTotal, err = meter.Int64Counter(
		"mailbox_callback_errors_total",
		metric.WithDescription("Total number of delivery callbacks that failed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.sendDuration, err = meter.Float64Histogram(
		"mailbox_send_duration_seconds",
		metric.WithDescription("Send duration in seconds, callback included"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mm.receiveWait, err = meter.Float64Histogram(
		"mailbox_receive_wait_seconds",
		metric.WithDescription("Time a receiver waited before getting a message"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mm.queueDepth, err = meter.Int64Gauge(
		"mailbox_queue_depth",
		metric.WithDescription("Number of messages waiting in an agent mailbox"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.rpcErrorsTotal, err = meter.Int64Counter(
		"mailbox_rpc_errors_total",
		metric.WithDescription("Total number of mailbox RPCs that returned an error"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	// System metrics
	mm.processResidentMemoryBytes, err = meter.Int64Gauge(
		"process_resident_memory_bytes",
		metric.WithDescription("Resident memory size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	mm.goGoroutines, err = meter.Int64Gauge(
		"go_goroutines",
		metric.WithDescription("Number of goroutines that currently exist"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.goMemstatsAllocBytes, err = meter.Int64Gauge(
		"go_memstats_alloc_bytes",
		metric.WithDescription("Number of bytes allocated and still in use"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return mm, nil
}

func (mm *MetricsManager) RecordMessageSent(ctx context.Context, recipient, messageType string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("recipient", recipient),
		attribute.String("message_type", messageType),
	)
	mm.messagesSentTotal.Add(ctx, 1, attrs)
	mm.sendDuration.Record(ctx, duration.Seconds(), attrs)
}

func (mm *MetricsManager) RecordMessageReceived(ctx context.Context, agentID, messageType string, waited time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("agent_id", agentID),
		attribute.String("message_type", messageType),
	)
	mm.messagesReceivedTotal.Add(ctx, 1, attrs)
	mm.receiveWait.Record(ctx, waited.Seconds(), attrs)
}

func (mm *MetricsManager) RecordReceiveTimeout(ctx context.Context, agentID string) {
	mm.receiveTimeoutsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent_id", agentID),
	))
}

func (mm *MetricsManager) RecordCallbackError(ctx context.Context, agentID string) {
	mm.callbackErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent_id", agentID),
	))
}

func (mm *MetricsManager) SetQueueDepth(ctx context.Context, agentID string, depth int) {
	mm.queueDepth.Record(ctx, int64(depth), metric.WithAttributes(
		attribute.String("agent_id", agentID),
	))
}

func (mm *MetricsManager) IncrementRPCErrors(ctx context.Context, method, code string) {
	mm.rpcErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("code", code),
	))
}

func (mm *MetricsManager) UpdateSystemMetrics(ctx context.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mm.goGoroutines.Record(ctx, int64(runtime.NumGoroutine()))
	mm.goMemstatsAllocBytes.Record(ctx, int64(m.Alloc))
	mm.processResidentMemoryBytes.Record(ctx, int64(m.Sys))
}
