package agenthub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/owulveryck/agentmail/internal/config"
	"github.com/owulveryck/agentmail/internal/mailbox"
	"github.com/owulveryck/agentmail/internal/observability"
)

const shutdownTimeout = 10 * time.Second

// Option customizes NewAgentHubServer and NewAgentHubClient.
type Option func(*options)

type options struct {
	obs         *observability.Observability
	listener    net.Listener
	dialOptions []grpc.DialOption
}

// WithObservability reuses obs instead of building one from the config. The
// caller keeps ownership and must shut it down.
func WithObservability(obs *observability.Observability) Option {
	return func(o *options) { o.obs = obs }
}

// WithListener makes the server accept on lis instead of the configured port.
func WithListener(lis net.Listener) Option {
	return func(o *options) { o.listener = lis }
}

// WithDialOptions adds dial options to the client connection.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOptions = append(o.dialOptions, opts...) }
}

// ObservabilityConfig derives the observability settings of a component from
// the application config.
func ObservabilityConfig(cfg *config.AppConfig, serviceName string) observability.Config {
	return observability.Config{
		ServiceName:    serviceName,
		ServiceVersion: cfg.ServiceVersion,
		JaegerEndpoint: cfg.JaegerEndpoint,
		Environment:    cfg.Environment,
		TracingEnabled: cfg.TracingEnabled,
		LogLevel:       cfg.LogLevel,
		LogFormat:      cfg.LogFormat,
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func setupObservability(cfg *config.AppConfig, serviceName string, o options) (*observability.Observability, bool, error) {
	if o.obs != nil {
		return o.obs, false, nil
	}
	obs, err := observability.NewObservability(ObservabilityConfig(cfg, serviceName))
	if err != nil {
		return nil, false, fmt.Errorf("failed to initialize observability: %w", err)
	}
	return obs, true, nil
}

// AgentHubServer is the mailbox hub: one in-process communicator exposed
// through the Mailbox gRPC service, with health and metrics endpoints.
type AgentHubServer struct {
	Server         *grpc.Server
	Listener       net.Listener
	Communicator   *mailbox.Communicator
	Service        *MailboxService
	Observability  *observability.Observability
	TraceManager   *observability.TraceManager
	MetricsManager *observability.MetricsManager
	HealthServer   *observability.HealthServer
	Logger         *slog.Logger
	Config         *config.AppConfig

	ownsObservability bool
	shutdownOnce      sync.Once
	shutdownErr       error
}

func NewAgentHubServer(cfg *config.AppConfig, opts ...Option) (*AgentHubServer, error) {
	o := buildOptions(opts)

	policy, err := mailbox.ParseCallbackPolicy(cfg.CallbackPolicy)
	if err != nil {
		return nil, err
	}

	obs, owns, err := setupObservability(cfg, "agentmail-hub", o)
	if err != nil {
		return nil, err
	}

	metricsManager, err := observability.NewMetricsManager(obs.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics manager: %w", err)
	}
	traceManager := observability.NewTraceManager(obs.Config.ServiceName)

	comm := mailbox.New(
		mailbox.WithLogger(obs.Logger.With("component", "mailbox")),
		mailbox.WithMetrics(metricsManager),
		mailbox.WithTracer(obs.Tracer),
		mailbox.WithCallbackPolicy(policy),
	)
	service := NewMailboxService(comm, obs.Logger.With("component", "mailbox_service"), traceManager, metricsManager)

	lis := o.listener
	if lis == nil {
		lis, err = net.Listen("tcp", cfg.GetListenAddress())
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.GetListenAddress(), err)
		}
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	RegisterMailboxServer(grpcServer, service)

	healthServer := observability.NewHealthServer(cfg.BrokerHealthPort, obs.Config.ServiceName, cfg.ServiceVersion)
	healthServer.AddChecker("self", observability.NewBasicHealthChecker("self", func(ctx context.Context) error {
		return nil
	}))
	healthServer.Handle("/mailboxes", mailboxesHandler(comm, service))

	return &AgentHubServer{
		Server:            grpcServer,
		Listener:          lis,
		Communicator:      comm,
		Service:           service,
		Observability:     obs,
		TraceManager:      traceManager,
		MetricsManager:    metricsManager,
		HealthServer:      healthServer,
		Logger:            obs.Logger,
		Config:            cfg,
		ownsObservability: owns,
	}, nil
}

// Run serves gRPC, health and metrics until ctx is done or one of them fails,
// then shuts everything down.
func (s *AgentHubServer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	ticker := NewMetricsTicker(gctx, s.MetricsManager, s.Config.MetricsTickInterval, s.Communicator)
	ticker.Start()

	g.Go(func() error {
		s.Logger.InfoContext(gctx, "Starting health server", slog.String("port", s.Config.BrokerHealthPort))
		if err := s.HealthServer.Start(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.Logger.InfoContext(gctx, "Mailbox hub listening",
			slog.String("address", s.Listener.Addr().String()),
			slog.String("health_endpoint", fmt.Sprintf("http://localhost:%s/health", s.Config.BrokerHealthPort)),
			slog.String("metrics_endpoint", fmt.Sprintf("http://localhost:%s/metrics", s.Config.BrokerHealthPort)),
		)
		if err := s.Server.Serve(s.Listener); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown ends subscriptions, drains in-flight RPCs and stops the health
// server. It is safe to call more than once.
func (s *AgentHubServer) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.Logger.InfoContext(ctx, "Shutting down mailbox hub")

		s.Service.Close()
		s.Server.GracefulStop()

		if err := s.HealthServer.Shutdown(ctx); err != nil {
			s.Logger.ErrorContext(ctx, "Error shutting down health server", slog.Any("error", err))
		}

		if s.ownsObservability {
			if err := s.Observability.Shutdown(ctx); err != nil {
				s.Logger.ErrorContext(ctx, "Observability shutdown failed - likely OTLP trace export issue",
					slog.Any("error", err),
					slog.String("otlp_endpoint", s.Observability.Config.JaegerEndpoint),
				)
				s.shutdownErr = err
			}
		}
	})
	return s.shutdownErr
}

type mailboxStat struct {
	AgentID    string `json:"agent_id"`
	Pending    int    `json:"pending"`
	Subscribed bool   `json:"subscribed"`
}

func mailboxesHandler(comm *mailbox.Communicator, service *MailboxService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents := comm.Agents()
		stats := make([]mailboxStat, 0, len(agents))
		for _, agentID := range agents {
			stats = append(stats, mailboxStat{
				AgentID:    agentID,
				Pending:    comm.Pending(agentID),
				Subscribed: service.Subscribed(agentID),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"mailboxes": stats})
	})
}

// AgentHubClient is an agent's connection to the hub, with its own health
// and metrics endpoints.
type AgentHubClient struct {
	Connection     *grpc.ClientConn
	Communicator   *RemoteCommunicator
	Observability  *observability.Observability
	TraceManager   *observability.TraceManager
	MetricsManager *observability.MetricsManager
	HealthServer   *observability.HealthServer
	Logger         *slog.Logger
	Config         *config.AppConfig
	ComponentName  string

	ownsObservability bool
	ticker            *MetricsTicker
}

func NewAgentHubClient(cfg *config.AppConfig, componentName string, opts ...Option) (*AgentHubClient, error) {
	o := buildOptions(opts)

	obs, owns, err := setupObservability(cfg, componentName, o)
	if err != nil {
		return nil, err
	}

	metricsManager, err := observability.NewMetricsManager(obs.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics manager: %w", err)
	}
	traceManager := observability.NewTraceManager(obs.Config.ServiceName)

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, o.dialOptions...)
	conn, err := grpc.NewClient(cfg.GetBrokerAddress(), dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for hub at %s: %w", cfg.GetBrokerAddress(), err)
	}

	healthServer := observability.NewHealthServer(cfg.GetHealthPort(componentName), obs.Config.ServiceName, cfg.ServiceVersion)
	healthServer.AddChecker("self", observability.NewBasicHealthChecker("self", func(ctx context.Context) error {
		return nil
	}))
	healthServer.AddChecker("hub_connection", observability.NewBasicHealthChecker("hub_connection", func(ctx context.Context) error {
		return connectionHealth(conn)
	}))

	return &AgentHubClient{
		Connection:        conn,
		Communicator:      NewRemoteCommunicator(conn, obs.Logger, traceManager),
		Observability:     obs,
		TraceManager:      traceManager,
		MetricsManager:    metricsManager,
		HealthServer:      healthServer,
		Logger:            obs.Logger,
		Config:            cfg,
		ComponentName:     componentName,
		ownsObservability: owns,
	}, nil
}

// Start starts the client's health server and metrics collection
func (c *AgentHubClient) Start(ctx context.Context) error {
	go func() {
		c.Logger.InfoContext(ctx, "Starting health server", slog.String("port", c.HealthServer.Port()))
		if err := c.HealthServer.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.Logger.ErrorContext(ctx, "Health server failed", slog.Any("error", err))
		}
	}()

	c.ticker = NewMetricsTicker(ctx, c.MetricsManager, c.Config.MetricsTickInterval, nil)
	c.ticker.Start()

	c.Logger.InfoContext(ctx, "Connected to mailbox hub",
		slog.String("hub_addr", c.Config.GetBrokerAddress()),
		slog.String("component", c.ComponentName),
	)
	return nil
}

// Shutdown gracefully shuts down the client
func (c *AgentHubClient) Shutdown(ctx context.Context) error {
	c.Logger.InfoContext(ctx, "Shutting down hub client", slog.String("component", c.ComponentName))

	if c.ticker != nil {
		c.ticker.Stop()
	}
	if err := c.Communicator.Close(); err != nil && !errors.Is(err, ErrClosed) {
		c.Logger.ErrorContext(ctx, "Error closing communicator", slog.Any("error", err))
	}
	if err := c.Connection.Close(); err != nil {
		c.Logger.ErrorContext(ctx, "Error closing gRPC connection", slog.Any("error", err))
	}
	if err := c.HealthServer.Shutdown(ctx); err != nil {
		c.Logger.ErrorContext(ctx, "Error shutting down health server", slog.Any("error", err))
	}

	if c.ownsObservability {
		if err := c.Observability.Shutdown(ctx); err != nil {
			c.Logger.ErrorContext(ctx, "Observability shutdown failed - likely OTLP trace export issue",
				slog.Any("error", err),
				slog.String("service", c.ComponentName),
				slog.String("otlp_endpoint", c.Observability.Config.JaegerEndpoint),
			)
			return err
		}
	}
	return nil
}

func connectionHealth(conn *grpc.ClientConn) error {
	switch state := conn.GetState(); state {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return fmt.Errorf("hub connection is %s", state)
	default:
		return nil
	}
}
