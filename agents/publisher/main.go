package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/owulveryck/agentmail/agents/demoskills"
	"github.com/owulveryck/agentmail/internal/a2a"
	"github.com/owulveryck/agentmail/internal/agenthub"
	"github.com/owulveryck/agentmail/internal/config"
	"github.com/owulveryck/agentmail/internal/mailbox"
	"github.com/owulveryck/agentmail/internal/observability"
	"github.com/owulveryck/agentmail/internal/subagent"
)

const (
	publisherAgentID = "agent_demo_publisher"
	echoAgentID      = "agent_echo"
)

// demoTasks are sent round robin; the last one has no skill and fails.
var demoTasks = []struct {
	taskType string
	params   map[string]any
}{
	{"greeting", map[string]any{"name": "Claude"}},
	{"math_calculation", map[string]any{"operation": "add", "a": 42.0, "b": 58.0}},
	{"random_number", map[string]any{"seed": 12345.0}},
	{"echo", map[string]any{"text": "ping"}},
	{"unknown_task", map[string]any{"data": "test"}},
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cfg := config.Load()
	obs, err := observability.NewObservability(agenthub.ObservabilityConfig(cfg, "publisher"))
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			obs.Logger.ErrorContext(shutdownCtx, "Observability shutdown failed", "error", err)
		}
	}()
	logger := obs.Logger

	if err := run(ctx, cfg, obs); err != nil {
		logger.ErrorContext(ctx, "Publisher demo failed", "error", err)
		return
	}
	logger.InfoContext(ctx, "Publisher demo finished")
}

func run(ctx context.Context, cfg *config.AppConfig, obs *observability.Observability) error {
	logger := obs.Logger
	metrics, err := observability.NewMetricsManager(obs.Meter)
	if err != nil {
		return err
	}
	traces := observability.NewTraceManager(obs.Config.ServiceName)

	comm, closeComm, err := agenthub.NewCommunicator(ctx, cfg, agenthub.Deps{
		Logger:  logger,
		Metrics: metrics,
		Traces:  traces,
	})
	if err != nil {
		return err
	}
	defer closeComm()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	var wg sync.WaitGroup

	// Without a hub the echo agent has to live in this process.
	if _, local := comm.(*mailbox.Communicator); local {
		echo, err := subagent.New(&subagent.Config{
			AgentID:        echoAgentID,
			Name:           "Echo Agent",
			Description:    "In-process echo agent",
			ReceiveTimeout: cfg.ReceiveTimeout,
		}, comm, subagent.WithLogger(logger), subagent.WithTraceManager(traces))
		if err != nil {
			return err
		}
		demoskills.Register(echo)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = echo.Run(runCtx)
		}()
	}

	publisher, err := subagent.New(&subagent.Config{
		AgentID:        publisherAgentID,
		Name:           "Demo Publisher",
		Description:    "Sends demo tasks and collects the responses",
		ReceiveTimeout: cfg.ReceiveTimeout,
	}, comm, subagent.WithLogger(logger), subagent.WithTraceManager(traces))
	if err != nil {
		return err
	}

	responses := make(chan *a2a.Message, cfg.PublisherCount)
	publisher.Handle(a2a.TypeTaskResponse, func(ctx context.Context, msg *a2a.Message) error {
		responses <- msg
		return nil
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = publisher.Run(runCtx)
	}()
	defer wg.Wait()
	defer stop()

	if err := publisher.Announce(ctx, echoAgentID); err != nil {
		return fmt.Errorf("announce: %w", err)
	}

	logger.InfoContext(ctx, "Publishing demo tasks",
		"count", cfg.PublisherCount,
		"backend", cfg.Backend,
		"recipient", echoAgentID,
	)
	pending := make(map[string]string, cfg.PublisherCount)
	for i := 0; i < cfg.PublisherCount; i++ {
		task := demoTasks[i%len(demoTasks)]
		msg, err := publisher.RequestTask(ctx, echoAgentID, task.taskType, task.params)
		if err != nil {
			return fmt.Errorf("publish %s: %w", task.taskType, err)
		}
		pending[msg.ID] = task.taskType
	}

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d responses missing: %w", len(pending), ctx.Err())
		case msg := <-responses:
			replyTo, _ := msg.Metadata[a2a.MetadataInReplyTo].(string)
			taskType, ok := pending[replyTo]
			if !ok {
				continue
			}
			delete(pending, replyTo)
			resp, _ := msg.Payload.(a2a.TaskResponse)
			logger.InfoContext(ctx, "Task response",
				"task_type", taskType,
				"success", resp.Success,
				"result", resp.Result,
				"error", resp.Error,
			)
		}
	}

	if peer, ok := publisher.Peer(echoAgentID); ok {
		logger.InfoContext(ctx, "Echo agent capabilities", "capabilities", peer.Capabilities)
	}
	return nil
}
