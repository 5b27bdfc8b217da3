// Package observability wires OpenTelemetry tracing, OTel metrics exported
// through Prometheus, trace-correlated structured logging and health checks
// for the mailbox hub and its agents.
//
// # Quick Start
//
//	config := observability.DefaultConfig("agentmail-hub")
//	obs, err := observability.NewObservability(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer obs.Shutdown(context.Background())
//
//	metrics, _ := observability.NewMetricsManager(obs.Meter)
//	comm := mailbox.New(
//	    mailbox.WithLogger(obs.Logger),
//	    mailbox.WithMetrics(metrics),
//	    mailbox.WithTracer(obs.Tracer),
//	)
//
// # Components
//
//   - Observability: tracer and meter providers, the slog logger, shutdown.
//   - ObservabilityHandler: slog.Handler adding service, trace_id and span_id
//     to every record and counting records in logs_total.
//   - TraceManager: span helpers carrying envelope routing attributes.
//   - MetricsManager: mailbox counters, histograms and gauges. It implements
//     mailbox.Recorder.
//   - HealthServer: /health, /ready and /metrics over HTTP, plus any handler
//     added with Handle.
//
// # Metrics
//
//	mailbox_messages_sent_total      counter    recipient, message_type
//	mailbox_messages_received_total  counter    agent_id, message_type
//	mailbox_receive_timeouts_total   counter    agent_id
//	mailbox_callback_errors_total    counter    agent_id
//	mailbox_send_duration_seconds    histogram  recipient, message_type
//	mailbox_receive_wait_seconds     histogram  agent_id, message_type
//	mailbox_queue_depth              gauge      agent_id
//	mailbox_rpc_errors_total         counter    method, code
//	logs_total                       counter    level, service
//
// When TracingEnabled is false spans are still recorded locally so that log
// lines keep their trace_id, but nothing is exported.
package observability
