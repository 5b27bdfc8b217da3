package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/owulveryck/agentmail/internal/a2a"
)

// Callback is invoked synchronously by Send for every message addressed to
// the agent it is registered for. It sees the same envelope that was queued
// and does not consume it from the queue.
type Callback func(ctx context.Context, msg *a2a.Message) error

// Recorder receives mailbox measurements. observability.MetricsManager
// implements it.
type Recorder interface {
	RecordMessageSent(ctx context.Context, recipient, messageType string, duration time.Duration)
	RecordMessageReceived(ctx context.Context, agentID, messageType string, waited time.Duration)
	RecordReceiveTimeout(ctx context.Context, agentID string)
	RecordCallbackError(ctx context.Context, agentID string)
}

type nopRecorder struct{}

func (nopRecorder) RecordMessageSent(context.Context, string, string, time.Duration)     {}
func (nopRecorder) RecordMessageReceived(context.Context, string, string, time.Duration) {}
func (nopRecorder) RecordReceiveTimeout(context.Context, string)                         {}
func (nopRecorder) RecordCallbackError(context.Context, string)                          {}

// Communicator routes messages to per-agent mailboxes.
type Communicator struct {
	mu        sync.RWMutex
	queues    map[string]*queue
	callbacks map[string]Callback

	logger  *slog.Logger
	metrics Recorder
	tracer  trace.Tracer
	policy  CallbackPolicy
}

// CommunicatorOption configures a Communicator.
type CommunicatorOption func(*Communicator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) CommunicatorOption {
	return func(c *Communicator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the measurement sink.
func WithMetrics(r Recorder) CommunicatorOption {
	return func(c *Communicator) {
		if r != nil {
			c.metrics = r
		}
	}
}

// WithTracer sets the tracer used for send/receive spans.
func WithTracer(t trace.Tracer) CommunicatorOption {
	return func(c *Communicator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithCallbackPolicy selects how callback failures surface from Send.
func WithCallbackPolicy(p CallbackPolicy) CommunicatorOption {
	return func(c *Communicator) { c.policy = p }
}

// New returns an empty communicator.
func New(opts ...CommunicatorOption) *Communicator {
	c := &Communicator{
		queues:    make(map[string]*queue),
		callbacks: make(map[string]Callback),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:   nopRecorder{},
		tracer:    otel.Tracer("github.com/owulveryck/agentmail/internal/mailbox"),
		policy:    CallbackPropagate,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send appends msg to the recipient's mailbox, creating it if needed, then
// runs the recipient's callback, if one is registered, and waits for it.
func (c *Communicator) Send(ctx context.Context, msg *a2a.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	ctx, span := c.tracer.Start(ctx, "mailbox.send",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "agentmail"),
			attribute.String("messaging.operation", "publish"),
			attribute.String("a2a.message.id", msg.ID),
			attribute.String("a2a.message.type", string(msg.Type)),
			attribute.String("a2a.routing.from_agent", msg.SenderID),
			attribute.String("a2a.routing.to_agent", msg.RecipientID),
		))
	defer span.End()

	start := time.Now()
	c.queueFor(msg.RecipientID).push(msg)

	c.logger.DebugContext(ctx, "Message enqueued",
		"message_id", msg.ID,
		"message_type", string(msg.Type),
		"sender_id", msg.SenderID,
		"recipient_id", msg.RecipientID,
	)

	err := c.runCallback(ctx, msg)
	c.metrics.RecordMessageSent(ctx, msg.RecipientID, string(msg.Type), time.Since(start))
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return nil
	}

	c.metrics.RecordCallbackError(ctx, msg.RecipientID)
	span.RecordError(err)

	if c.policy == CallbackLogAndContinue {
		c.logger.WarnContext(ctx, "Callback failed, message kept in mailbox",
			"message_id", msg.ID,
			"recipient_id", msg.RecipientID,
			"error", err,
		)
		return nil
	}

	span.SetStatus(codes.Error, err.Error())
	c.logger.ErrorContext(ctx, "Callback failed",
		"message_id", msg.ID,
		"recipient_id", msg.RecipientID,
		"error", err,
	)
	return err
}

// Receive dequeues the next message for agentID. A timeout <= 0 waits until a
// message arrives or ctx is done. When the timeout elapses first, Receive
// returns (nil, nil).
func (c *Communicator) Receive(ctx context.Context, agentID string, timeout time.Duration) (*a2a.Message, error) {
	ctx, span := c.tracer.Start(ctx, "mailbox.receive",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "agentmail"),
			attribute.String("messaging.operation", "receive"),
			attribute.String("a2a.agent.id", agentID),
			attribute.Int64("mailbox.timeout_ms", timeout.Milliseconds()),
		))
	defer span.End()

	q := c.queueFor(agentID)
	start := time.Now()

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg, err := q.pop(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			c.metrics.RecordReceiveTimeout(ctx, agentID)
			span.AddEvent("timeout")
			return nil, nil
		}
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.String("a2a.message.id", msg.ID))
	span.SetStatus(codes.Ok, "")
	c.metrics.RecordMessageReceived(ctx, agentID, string(msg.Type), time.Since(start))
	c.logger.DebugContext(ctx, "Message dequeued",
		"message_id", msg.ID,
		"agent_id", agentID,
		"waited", time.Since(start),
	)
	return msg, nil
}

// RegisterCallback sets the push handler for agentID, replacing any previous
// one. A nil callback removes the registration.
func (c *Communicator) RegisterCallback(agentID string, cb Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb == nil {
		delete(c.callbacks, agentID)
		return
	}
	c.callbacks[agentID] = cb
}

// Pending reports how many messages wait in agentID's mailbox.
func (c *Communicator) Pending(agentID string) int {
	c.mu.RLock()
	q, ok := c.queues[agentID]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	return q.len()
}

// Agents lists every agent that has a mailbox, sorted.
func (c *Communicator) Agents() []string {
	c.mu.RLock()
	agents := make([]string, 0, len(c.queues))
	for id := range c.queues {
		agents = append(agents, id)
	}
	c.mu.RUnlock()
	sort.Strings(agents)
	return agents
}

func (c *Communicator) queueFor(agentID string) *queue {
	c.mu.RLock()
	q, ok := c.queues[agentID]
	c.mu.RUnlock()
	if ok {
		return q
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok = c.queues[agentID]; !ok {
		q = newQueue()
		c.queues[agentID] = q
	}
	return q
}

func (c *Communicator) runCallback(ctx context.Context, msg *a2a.Message) (err error) {
	c.mu.RLock()
	cb := c.callbacks[msg.RecipientID]
	c.mu.RUnlock()
	if cb == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = &CallbackError{AgentID: msg.RecipientID, MessageID: msg.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if cbErr := cb(ctx, msg); cbErr != nil {
		return &CallbackError{AgentID: msg.RecipientID, MessageID: msg.ID, Err: cbErr}
	}
	return nil
}
