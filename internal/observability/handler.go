package observability

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservabilityHandler is a slog.Handler that stamps every record with the
// service name and the active span's trace and span IDs, counts records per
// level, and delegates formatting to a JSON or text handler.
type ObservabilityHandler struct {
	inner       slog.Handler
	serviceName string
	logCounter  metric.Int64Counter
}

type HandlerOptions struct {
	Level  slog.Leveler
	Writer io.Writer
	// Format is "json" (default) or "text".
	Format      string
	ReplaceAttr func(groups []string, a slog.Attr) slog.Attr
}

func NewObservabilityHandler(meter metric.Meter, serviceName string, opts HandlerOptions) (*ObservabilityHandler, error) {
	if opts.Writer == nil {
		opts.Writer = io.Discard
	}
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}

	logCounter, err := meter.Int64Counter(
		"logs_total",
		metric.WithDescription("Total number of log entries"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level, ReplaceAttr: opts.ReplaceAttr}
	var inner slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		inner = slog.NewTextHandler(opts.Writer, handlerOpts)
	} else {
		inner = slog.NewJSONHandler(opts.Writer, handlerOpts)
	}

	return &ObservabilityHandler{
		inner:       inner.WithAttrs([]slog.Attr{slog.String("service", serviceName)}),
		serviceName: serviceName,
		logCounter:  logCounter,
	}, nil
}

func (h *ObservabilityHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ObservabilityHandler) Handle(ctx context.Context, r slog.Record) error {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		spanCtx := span.SpanContext()
		r = r.Clone()
		r.AddAttrs(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}

	h.logCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("level", r.Level.String()),
		attribute.String("service", h.serviceName),
	))

	return h.inner.Handle(ctx, r)
}

func (h *ObservabilityHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.inner = h.inner.WithAttrs(attrs)
	return &nh
}

func (h *ObservabilityHandler) WithGroup(name string) slog.Handler {
	nh := *h
	nh.inner = h.inner.WithGroup(name)
	return &nh
}
