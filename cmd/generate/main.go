// Command generate runs one generation and prints the result as JSON.
//
// It writes to the database directly and keeps its own workspace cache, so it
// must not share a database with a running API server; use the server's
// POST /api/v1/workspaces/:workspace/generations endpoint instead.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/lookbook/internal/app"
	"github.com/timmy/lookbook/internal/config"
	"github.com/timmy/lookbook/internal/domain"
	"github.com/timmy/lookbook/internal/logger"
	"github.com/timmy/lookbook/internal/service"
)

func main() {
	// Logs go to stderr; stdout carries the result.
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "text",
		Output:      os.Stderr,
		ServiceName: "lookbook-generate",
	})
	logger.SetDefaultLogger(appLogger)

	configPath := flag.String("config", "", "Path to config file")
	workspace := flag.String("workspace", "default", "Workspace to record the artifact in")
	providerName := flag.String("provider", "", "Provider name (default from config)")
	kind := flag.String("kind", "", "Job kind: generate, edit, recolor, upscale, remove_background, variation")
	prompt := flag.String("prompt", "", "Instruction for the model")
	parent := flag.String("parent", "", "Artifact to derive from")
	source := flag.String("source", "", "Source image URL when there is no parent artifact")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.SetComponent(appLogger.WithContext(ctx), "cli")

	studioApp, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize services")
	}
	defer studioApp.Close()

	appLogger.WithFields(logger.Fields{
		logger.FieldWorkspaceID: *workspace,
		logger.FieldProvider:    *providerName,
		"kind":                  *kind,
	}).Info("Starting generation")

	result, err := studioApp.Studio.Generate(ctx, *workspace, service.GenerateRequest{
		Provider:  *providerName,
		Kind:      domain.JobKind(*kind),
		Prompt:    *prompt,
		ParentID:  *parent,
		SourceURL: *source,
	})
	if err != nil {
		studioApp.Close()
		appLogger.WithError(err).Fatal("Generation failed")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		appLogger.WithError(err).Fatal("Failed to write result")
	}
}
