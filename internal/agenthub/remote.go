package agenthub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/owulveryck/agentmail/internal/a2a"
	"github.com/owulveryck/agentmail/internal/mailbox"
	"github.com/owulveryck/agentmail/internal/observability"
)

// TraceContextKey is the envelope metadata key carrying W3C trace headers
// between a remote sender and a remote subscriber. RemoteCommunicator adds it
// on Send and strips it from every envelope it hands back.
const TraceContextKey = "otel_trace_context"

var (
	// ErrCallbackFailed is returned by RemoteCommunicator.Send when the
	// recipient's callback on the hub failed. The message is still queued.
	ErrCallbackFailed = errors.New("recipient callback failed")
	ErrClosed         = errors.New("communicator closed")

	errSubscriptionEnded = errors.New("hub ended the subscription")
)

const resubscribeDelay = time.Second

// RemoteCommunicator implements Communicator against a hub's Mailbox service.
type RemoteCommunicator struct {
	conn   grpc.ClientConnInterface
	logger *slog.Logger
	traces *observability.TraceManager

	mu     sync.Mutex
	subs   map[string]context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

func NewRemoteCommunicator(conn grpc.ClientConnInterface, logger *slog.Logger, traces *observability.TraceManager) *RemoteCommunicator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if traces == nil {
		traces = observability.NewTraceManager("agentmail-remote")
	}
	return &RemoteCommunicator{
		conn:   conn,
		logger: logger,
		traces: traces,
		subs:   make(map[string]context.CancelFunc),
	}
}

func (r *RemoteCommunicator) Send(ctx context.Context, msg *a2a.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	headers := map[string]string{}
	r.traces.InjectTraceContext(ctx, headers)
	out := *msg
	if len(headers) > 0 {
		out.Metadata = maps.Clone(msg.Metadata)
		if out.Metadata == nil {
			out.Metadata = map[string]any{}
		}
		carrier := make(map[string]any, len(headers))
		for k, v := range headers {
			carrier[k] = v
		}
		out.Metadata[TraceContextKey] = carrier
	}

	envelope, err := a2a.ToProto(&out)
	if err != nil {
		return err
	}

	if err := r.conn.Invoke(ctx, sendMethod, envelope, new(emptypb.Empty)); err != nil {
		if status.Code(err) == codes.Aborted {
			return fmt.Errorf("%w: %s", ErrCallbackFailed, status.Convert(err).Message())
		}
		return fmt.Errorf("send to %s: %w", msg.RecipientID, err)
	}
	return nil
}

// Receive asks the hub for the next message of agentID. The hub waits up to
// timeout; a timeout <= 0 waits until ctx is done.
func (r *RemoteCommunicator) Receive(ctx context.Context, agentID string, timeout time.Duration) (*a2a.Message, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"agent_id":   structpb.NewStringValue(agentID),
		"timeout_ms": structpb.NewNumberValue(float64(timeout) / float64(time.Millisecond)),
	}}
	resp := new(structpb.Struct)
	if err := r.conn.Invoke(ctx, receiveMethod, req, resp); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("receive for %s: %w", agentID, err)
	}

	if !resp.GetFields()["found"].GetBoolValue() {
		return nil, nil
	}
	msg, err := a2a.FromProto(resp.GetFields()["message"].GetStructValue())
	if err != nil {
		return nil, fmt.Errorf("receive for %s: %w", agentID, err)
	}
	_, msg = r.detachTraceContext(ctx, msg)
	return msg, nil
}

// RegisterCallback subscribes to pushes for agentID on the hub. It returns
// once the hub has the subscription in place, so every later Send to agentID
// reaches cb, or once the first attempt failed. The callback runs on a
// goroutine owned by r, one envelope at a time. Transport failures are logged
// and the subscription is retried. It stops when the hub ends the stream
// (another subscriber took over, or shutdown), when it is replaced or removed
// with a nil callback, or when r is closed.
func (r *RemoteCommunicator) RegisterCallback(agentID string, cb mailbox.Callback) {
	r.mu.Lock()
	if cancel, ok := r.subs[agentID]; ok {
		cancel()
		delete(r.subs, agentID)
	}
	if cb == nil || r.closed {
		r.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.subs[agentID] = cancel
	ready := make(chan struct{})
	var once sync.Once
	signal := func() { once.Do(func() { close(ready) }) }

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer signal()
		r.subscribeLoop(ctx, agentID, cb, signal)
	}()
	r.mu.Unlock()

	<-ready
}

// Close cancels every subscription and waits for their goroutines.
func (r *RemoteCommunicator) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	for agentID, cancel := range r.subs {
		cancel()
		delete(r.subs, agentID)
	}
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}

// subscribeLoop calls ready once the first subscription is acknowledged or
// the first attempt failed.
func (r *RemoteCommunicator) subscribeLoop(ctx context.Context, agentID string, cb mailbox.Callback, ready func()) {
	for {
		err := r.subscribe(ctx, agentID, cb, ready)
		ready()
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errSubscriptionEnded) {
			r.logger.InfoContext(ctx, "Subscription ended by hub", slog.String("agent_id", agentID))
			return
		}
		r.logger.WarnContext(ctx, "Subscription ended, retrying",
			slog.String("agent_id", agentID),
			slog.Any("error", err),
			slog.Duration("delay", resubscribeDelay),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

func (r *RemoteCommunicator) subscribe(ctx context.Context, agentID string, cb mailbox.Callback, ready func()) error {
	cs, err := r.conn.NewStream(ctx, &MailboxServiceDesc.Streams[0], subscribeMethod)
	if err != nil {
		return err
	}
	stream := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: cs}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"agent_id": structpb.NewStringValue(agentID),
	}}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	// The hub sends headers only after registering its callback. A nil header
	// means the stream failed; Recv below reports why.
	md, err := stream.Header()
	if err != nil {
		return err
	}
	if md != nil {
		ready()
	}

	for {
		envelope, err := stream.Recv()
		if err == io.EOF {
			return errSubscriptionEnded
		}
		if err != nil {
			return err
		}

		msg, err := a2a.FromProto(envelope)
		if err != nil {
			r.logger.ErrorContext(ctx, "Dropping undecodable envelope",
				slog.String("agent_id", agentID),
				slog.Any("error", err),
			)
			continue
		}

		msgCtx, msg := r.detachTraceContext(ctx, msg)
		msgCtx, span := r.traces.StartHandleSpan(msgCtx, agentID, msg)
		if err := cb(msgCtx, msg); err != nil {
			r.traces.RecordError(span, err)
			r.logger.ErrorContext(msgCtx, "Callback failed",
				slog.String("agent_id", agentID),
				slog.String("message_id", msg.ID),
				slog.Any("error", err),
			)
		} else {
			r.traces.SetSpanSuccess(span)
		}
		span.End()
	}
}

// detachTraceContext removes TraceContextKey from msg's metadata and returns
// ctx enriched with the remote span context it carried.
func (r *RemoteCommunicator) detachTraceContext(ctx context.Context, msg *a2a.Message) (context.Context, *a2a.Message) {
	raw, ok := msg.Metadata[TraceContextKey]
	if !ok {
		return ctx, msg
	}

	headers := map[string]string{}
	if carrier, ok := raw.(map[string]any); ok {
		for k, v := range carrier {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	out := *msg
	out.Metadata = maps.Clone(msg.Metadata)
	delete(out.Metadata, TraceContextKey)
	if len(out.Metadata) == 0 {
		out.Metadata = nil
	}
	return r.traces.ExtractTraceContext(ctx, headers), &out
}

func millis(ms float64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}
