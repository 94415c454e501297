package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"relocation-assistant/handler"
	"relocation-assistant/internal/app"
	"relocation-assistant/internal/config"
)

func main() {
	ctx := context.Background()

	cfg, err := config.FromEnv(os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	assistant, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to assemble assistant", zap.Error(err))
	}
	defer func() {
		if err := assistant.Close(); err != nil {
			log.Error("failed to close resources", zap.Error(err))
		}
	}()

	h, err := handler.NewHandler(assistant.Chat,
		handler.WithWebhookSecret(cfg.WebhookSecret),
		handler.WithLogger(log),
	)
	if err != nil {
		log.Fatal("failed to create handler", zap.Error(err))
	}

	lambda.Start(h.Handle)
}
