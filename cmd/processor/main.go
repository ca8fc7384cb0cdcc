// Command processor runs the background document-analysis pipeline: it
// claims queued analysis tasks, dispatches them to the AI provider under
// bounded concurrency and serves queue metrics for scraping.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/docassist/docassist-api/internal/config"
	"github.com/docassist/docassist-api/internal/platform/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "processor failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApplication(ctx, cfg, log)
	if err != nil {
		return err
	}

	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	log.Info("processor running", "max_concurrent", cfg.Pipeline.MaxConcurrent)

	<-ctx.Done()
	log.Info("shutdown signal received, draining workers")
	app.Stop()
	return nil
}
