package agenthub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/owulveryck/agentmail/internal/a2a"
	"github.com/owulveryck/agentmail/internal/config"
	"github.com/owulveryck/agentmail/internal/mailbox"
	"github.com/owulveryck/agentmail/internal/observability"
)

const (
	BackendInMemory = "inmemory"
	BackendGRPC     = "grpc"
)

var ErrUnknownBackend = errors.New("unknown A2A backend")

// Communicator is what agents need from a mailbox, wherever it lives.
type Communicator interface {
	Send(ctx context.Context, msg *a2a.Message) error
	Receive(ctx context.Context, agentID string, timeout time.Duration) (*a2a.Message, error)
	RegisterCallback(agentID string, cb mailbox.Callback)
}

var (
	_ Communicator = (*mailbox.Communicator)(nil)
	_ Communicator = (*RemoteCommunicator)(nil)
)

// Deps carries the optional collaborators of a communicator.
type Deps struct {
	Logger  *slog.Logger
	Metrics mailbox.Recorder
	Traces  *observability.TraceManager
	// DialOptions are appended to the defaults (insecure, otelgrpc) when the
	// grpc backend dials the hub.
	DialOptions []grpc.DialOption
}

// NewCommunicator builds the communicator named by cfg.Backend. The returned
// func releases it.
func NewCommunicator(ctx context.Context, cfg *config.AppConfig, deps Deps) (Communicator, func() error, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	switch strings.ToLower(cfg.Backend) {
	case "", BackendInMemory:
		policy, err := mailbox.ParseCallbackPolicy(cfg.CallbackPolicy)
		if err != nil {
			return nil, nil, err
		}
		opts := []mailbox.CommunicatorOption{
			mailbox.WithLogger(logger),
			mailbox.WithCallbackPolicy(policy),
		}
		if deps.Metrics != nil {
			opts = append(opts, mailbox.WithMetrics(deps.Metrics))
		}
		if deps.Traces != nil {
			opts = append(opts, mailbox.WithTracer(deps.Traces.Tracer()))
		}
		logger.InfoContext(ctx, "Using in-memory mailbox", slog.String("callback_policy", policy.String()))
		return mailbox.New(opts...), func() error { return nil }, nil

	case BackendGRPC:
		dialOpts := append([]grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		}, deps.DialOptions...)
		conn, err := grpc.NewClient(cfg.GetBrokerAddress(), dialOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create client for hub at %s: %w", cfg.GetBrokerAddress(), err)
		}
		remote := NewRemoteCommunicator(conn, logger, deps.Traces)
		logger.InfoContext(ctx, "Using remote mailbox", slog.String("hub_addr", cfg.GetBrokerAddress()))
		return remote, func() error {
			return errors.Join(remote.Close(), conn.Close())
		}, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
