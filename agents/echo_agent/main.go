package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/owulveryck/agentmail/agents/demoskills"
	"github.com/owulveryck/agentmail/internal/agenthub"
	"github.com/owulveryck/agentmail/internal/config"
	"github.com/owulveryck/agentmail/internal/subagent"
)

const echoAgentID = "agent_echo"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	client, err := agenthub.NewAgentHubClient(cfg, "echo_agent")
	if err != nil {
		slog.Error("Failed to create hub client", "error", err)
		os.Exit(1)
	}

	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := client.Shutdown(shutdownCtx); err != nil {
			client.Logger.ErrorContext(shutdownCtx, "Error during shutdown", "error", err)
		}
	}()

	if err := client.Start(ctx); err != nil {
		client.Logger.ErrorContext(ctx, "Failed to start client", "error", err)
		return
	}

	agent, err := subagent.New(&subagent.Config{
		AgentID:        echoAgentID,
		Name:           "Echo Agent",
		Description:    "Answers demo tasks: echo, greeting, math_calculation, random_number",
		ReceiveTimeout: cfg.ReceiveTimeout,
	}, client.Communicator,
		subagent.WithLogger(client.Logger),
		subagent.WithTraceManager(client.TraceManager),
	)
	if err != nil {
		client.Logger.ErrorContext(ctx, "Failed to create agent", "error", err)
		return
	}
	demoskills.Register(agent)

	if err := agent.Run(ctx); err != nil {
		client.Logger.ErrorContext(ctx, "Agent stopped with error", "error", err)
	}
}
