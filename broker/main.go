package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/owulveryck/agentmail/internal/agenthub"
	"github.com/owulveryck/agentmail/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	hub, err := agenthub.NewAgentHubServer(cfg)
	if err != nil {
		slog.Error("Failed to create mailbox hub", "error", err)
		os.Exit(1)
	}

	if err := hub.Run(ctx); err != nil {
		hub.Logger.Error("Mailbox hub stopped with error", "error", err)
		os.Exit(1)
	}
	hub.Logger.Info("Mailbox hub stopped")
}
