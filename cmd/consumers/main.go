package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slotbook/cmd/consumers/jobs"
	"slotbook/internal/config"
	"slotbook/internal/consumers"
	"slotbook/internal/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	logger.Get().Info("Starting consumers service...")

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", "error", err)
	}

	// Override NATS client ID for consumers
	cfg.NATS.ClientID = "slotbook-consumers"

	// Create and start consumers
	consumerService, err := consumers.NewConsumerService(cfg)
	if err != nil {
		logger.Fatal("Failed to create consumer service", "error", err)
	}

	// Start consuming messages
	if err := consumerService.Start(); err != nil {
		logger.Fatal("Failed to start consumers", "error", err)
	}

	ctx, stopJobs := context.WithCancel(context.Background())
	engine := cfg.Engine
	background := jobs.EngineJobs(consumerService.App().Services,
		engine.ExpirySweepInterval, engine.RefundSweepInterval, engine.OutboxRelayInterval)
	for _, job := range background {
		job.Start(ctx)
	}

	logger.Get().Info("Consumers service started successfully")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Get().Info("Shutting down consumers service...")

	stopJobs()
	for _, job := range background {
		job.Stop()
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := consumerService.Shutdown(shutdownCtx); err != nil {
		logger.Get().Error("Error during shutdown", "error", err)
	}

	logger.Get().Info("Consumers service stopped")
}
