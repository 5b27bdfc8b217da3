package observability

import (
	"context"
	"fmt"

	"github.com/owulveryck/agentmail/internal/a2a"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type TraceManager struct {
	tracer trace.Tracer
}

func NewTraceManager(serviceName string) *TraceManager {
	return &TraceManager{
		tracer: otel.Tracer(serviceName),
	}
}

// Tracer exposes the underlying tracer, e.g. for mailbox.WithTracer.
func (tm *TraceManager) Tracer() trace.Tracer {
	return tm.tracer
}

func (tm *TraceManager) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, operationName, trace.WithAttributes(attrs...))
}

func (tm *TraceManager) InjectTraceContext(ctx context.Context, headers map[string]string) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
}

func (tm *TraceManager) ExtractTraceContext(ctx context.Context, headers map[string]string) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
}

// StartDeliverySpan starts a span for pushing an envelope to a subscriber.
func (tm *TraceManager) StartDeliverySpan(ctx context.Context, msg *a2a.Message) (context.Context, trace.Span) {
	ctx, span := tm.tracer.Start(ctx, "mailbox.deliver", trace.WithSpanKind(trace.SpanKindConsumer))
	tm.AddMessageAttributes(span, msg)
	return ctx, span
}

// StartHandleSpan starts a span for an agent handling an envelope it pulled.
func (tm *TraceManager) StartHandleSpan(ctx context.Context, agentID string, msg *a2a.Message) (context.Context, trace.Span) {
	ctx, span := tm.tracer.Start(ctx, "agent.handle", trace.WithAttributes(
		attribute.String("agent.id", agentID),
	))
	tm.AddMessageAttributes(span, msg)
	return ctx, span
}

func (tm *TraceManager) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (tm *TraceManager) SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddMessageAttributes records the envelope routing fields on span.
func (tm *TraceManager) AddMessageAttributes(span trace.Span, msg *a2a.Message) {
	if msg == nil {
		return
	}
	span.SetAttributes(
		attribute.String("a2a.message.id", msg.ID),
		attribute.String("a2a.message.type", string(msg.Type)),
		attribute.String("a2a.message.payload_kind", a2a.PayloadKind(msg.Payload)),
		attribute.String("a2a.routing.from_agent", msg.SenderID),
		attribute.String("a2a.routing.to_agent", msg.RecipientID),
	)
}

// AddTaskAttributes adds the task type and its scalar parameters to a span.
func (tm *TraceManager) AddTaskAttributes(span trace.Span, taskType string, parameters map[string]any) {
	span.SetAttributes(attribute.String("task.type", taskType))
	for key, value := range parameters {
		span.SetAttributes(anyAttribute("task.param."+key, value))
	}
}

func (tm *TraceManager) AddTaskResult(span trace.Span, success bool, errorMessage string) {
	span.SetAttributes(attribute.Bool("task.success", success))
	if errorMessage != "" {
		span.SetAttributes(attribute.String("task.error", errorMessage))
	}
}

func (tm *TraceManager) AddSpanEvent(span trace.Span, eventName string, attributes ...attribute.KeyValue) {
	span.AddEvent(eventName, trace.WithAttributes(attributes...))
}

func (tm *TraceManager) AddComponentAttribute(span trace.Span, component string) {
	span.SetAttributes(attribute.String("agentmail.component", component))
}

func anyAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case float64:
		return attribute.Float64(key, v)
	case int:
		return attribute.Int(key, v)
	case bool:
		return attribute.Bool(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
