package agenthub

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/owulveryck/agentmail/internal/a2a"
	"github.com/owulveryck/agentmail/internal/mailbox"
	"github.com/owulveryck/agentmail/internal/observability"
)

const (
	MailboxServiceName = "agentmail.v1.Mailbox"

	sendMethod      = "/" + MailboxServiceName + "/Send"
	receiveMethod   = "/" + MailboxServiceName + "/Receive"
	subscribeMethod = "/" + MailboxServiceName + "/Subscribe"

	// subscribedHeader is sent once the hub-side callback is in place.
	subscribedHeader = "agentmail-subscribed"
)

// ErrSubscriberGone reports a push to a subscription stream that already
// closed. The forwarder logs it and leaves the message queued.
var ErrSubscriberGone = errors.New("subscriber stream closed")

// MailboxServer is the server API of the agentmail.v1.Mailbox service. The
// messages are well-known protobuf types so no generated code is needed:
//
//	Send(envelope Struct) returns Empty
//	Receive({agent_id, timeout_ms} Struct) returns {found, message} Struct
//	Subscribe({agent_id} Struct) returns stream of envelope Struct
type MailboxServer interface {
	Send(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Receive(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Subscribe(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterMailboxServer registers srv on s.
func RegisterMailboxServer(s grpc.ServiceRegistrar, srv MailboxServer) {
	s.RegisterService(&MailboxServiceDesc, srv)
}

var MailboxServiceDesc = grpc.ServiceDesc{
	ServiceName: MailboxServiceName,
	HandlerType: (*MailboxServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Send", Handler: mailboxSendHandler},
		{MethodName: "Receive", Handler: mailboxReceiveHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: mailboxSubscribeHandler, ServerStreams: true},
	},
	Metadata: "agentmail/v1/mailbox.proto",
}

func mailboxSendHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MailboxServer).Send(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: sendMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MailboxServer).Send(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func mailboxReceiveHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MailboxServer).Receive(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: receiveMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MailboxServer).Receive(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func mailboxSubscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MailboxServer).Subscribe(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// MailboxService exposes a mailbox.Communicator over gRPC.
type MailboxService struct {
	Comm    *mailbox.Communicator
	Logger  *slog.Logger
	Traces  *observability.TraceManager
	Metrics *observability.MetricsManager

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
}

// subscription is one Subscribe stream. The hub-side callback writes to the
// stream directly, serialized by mu.
type subscription struct {
	agentID string
	stream  grpc.ServerStreamingServer[structpb.Struct]

	mu       sync.Mutex
	finished bool
	done     chan struct{}
}

func NewMailboxService(comm *mailbox.Communicator, logger *slog.Logger, traces *observability.TraceManager, metrics *observability.MetricsManager) *MailboxService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MailboxService{
		Comm:    comm,
		Logger:  logger,
		Traces:  traces,
		Metrics: metrics,
		subs:    make(map[string]*subscription),
	}
}

func (s *MailboxService) Send(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	msg, err := a2a.FromProto(req)
	if err != nil {
		return nil, s.rpcError(ctx, "Send", status.Errorf(codes.InvalidArgument, "invalid envelope: %v", err))
	}

	if s.Traces != nil {
		span := trace.SpanFromContext(ctx)
		s.Traces.AddComponentAttribute(span, "mailbox_service")
		s.Traces.AddMessageAttributes(span, msg)
	}

	if err := s.Comm.Send(ctx, msg); err != nil {
		var cbErr *mailbox.CallbackError
		switch {
		case errors.As(err, &cbErr):
			return nil, s.rpcError(ctx, "Send", status.Error(codes.Aborted, err.Error()))
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, s.rpcError(ctx, "Send", status.FromContextError(err).Err())
		default:
			return nil, s.rpcError(ctx, "Send", status.Error(codes.InvalidArgument, err.Error()))
		}
	}

	s.Logger.InfoContext(ctx, "Message routed",
		slog.String("message_id", msg.ID),
		slog.String("message_type", string(msg.Type)),
		slog.String("sender_id", msg.SenderID),
		slog.String("recipient_id", msg.RecipientID),
	)
	return &emptypb.Empty{}, nil
}

func (s *MailboxService) Receive(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	agentID := req.GetFields()["agent_id"].GetStringValue()
	if agentID == "" {
		return nil, s.rpcError(ctx, "Receive", status.Error(codes.InvalidArgument, "agent_id cannot be empty"))
	}
	timeout := millis(req.GetFields()["timeout_ms"].GetNumberValue())

	msg, err := s.Comm.Receive(ctx, agentID, timeout)
	if err != nil {
		return nil, s.rpcError(ctx, "Receive", status.FromContextError(err).Err())
	}
	if msg == nil {
		return &structpb.Struct{Fields: map[string]*structpb.Value{
			"found": structpb.NewBoolValue(false),
		}}, nil
	}

	envelope, err := a2a.ToProto(msg)
	if err != nil {
		return nil, s.rpcError(ctx, "Receive", status.Errorf(codes.Internal, "encode envelope: %v", err))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"found":   structpb.NewBoolValue(true),
		"message": structpb.NewStructValue(envelope),
	}}, nil
}

// Subscribe pushes every envelope sent to agent_id down the stream until the
// client goes away, a newer Subscribe for the same agent replaces it, or the
// service closes. The envelopes also stay in the mailbox.
func (s *MailboxService) Subscribe(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	agentID := req.GetFields()["agent_id"].GetStringValue()
	if agentID == "" {
		return s.rpcError(ctx, "Subscribe", status.Error(codes.InvalidArgument, "agent_id cannot be empty"))
	}

	sub := &subscription{agentID: agentID, stream: stream, done: make(chan struct{})}

	// Hold sub.mu until the header is out so no push overtakes it.
	sub.mu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.mu.Unlock()
		return status.Error(codes.Unavailable, "mailbox service is shutting down")
	}
	if prev, ok := s.subs[agentID]; ok {
		prev.finish()
	}
	s.subs[agentID] = sub
	s.Comm.RegisterCallback(agentID, s.forwarder(sub))
	s.mu.Unlock()
	err := stream.SendHeader(metadata.Pairs(subscribedHeader, agentID))
	sub.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.subs[agentID] == sub {
			delete(s.subs, agentID)
			s.Comm.RegisterCallback(agentID, nil)
		}
		s.mu.Unlock()
		sub.finish()
		s.Logger.InfoContext(ctx, "Agent unsubscribed", slog.String("agent_id", agentID))
	}()

	if err != nil {
		return err
	}
	s.Logger.InfoContext(ctx, "Agent subscribed", slog.String("agent_id", agentID))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-sub.done:
		return nil
	}
}

// Subscribed reports whether agentID currently has an open Subscribe stream.
func (s *MailboxService) Subscribed(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[agentID]
	return ok
}

// Close ends every Subscribe stream and refuses new ones. Call it before
// GracefulStop, which otherwise waits for the streams forever.
func (s *MailboxService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for agentID, sub := range s.subs {
		s.Comm.RegisterCallback(agentID, nil)
		sub.finish()
		delete(s.subs, agentID)
	}
}

func (s *MailboxService) forwarder(sub *subscription) mailbox.Callback {
	return func(ctx context.Context, msg *a2a.Message) error {
		span := trace.SpanFromContext(ctx)
		if s.Traces != nil {
			_, span = s.Traces.StartDeliverySpan(ctx, msg)
			defer span.End()
		}

		envelope, err := a2a.ToProto(msg)
		if err == nil {
			err = sub.send(envelope)
		}
		if err != nil && (errors.Is(err, ErrSubscriberGone) || sub.stream.Context().Err() != nil) {
			// The subscriber left; the message is still queued for pull.
			s.Logger.WarnContext(ctx, "Subscriber gone, message kept in mailbox",
				slog.String("agent_id", sub.agentID),
				slog.String("message_id", msg.ID),
				slog.Any("error", err),
			)
			return nil
		}
		if err != nil && s.Traces != nil {
			s.Traces.RecordError(span, err)
		}
		return err
	}
}

func (sub *subscription) send(envelope *structpb.Struct) error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.finished {
		return ErrSubscriberGone
	}
	return sub.stream.Send(envelope)
}

func (sub *subscription) finish() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.finished {
		sub.finished = true
		close(sub.done)
	}
}

func (s *MailboxService) rpcError(ctx context.Context, method string, err error) error {
	if s.Metrics != nil {
		s.Metrics.IncrementRPCErrors(ctx, method, status.Code(err).String())
	}
	s.Logger.WarnContext(ctx, "Mailbox RPC failed",
		slog.String("method", method),
		slog.Any("error", err),
	)
	return err
}
