package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/nimasrn/billing-engine/internal/app"
	"github.com/nimasrn/billing-engine/internal/config"
	"github.com/nimasrn/billing-engine/pkg/logger"
)

// Connections are opened during cold start and reused across invocations.
func main() {
	cfg, err := config.Load(app.EnvPath(os.Args))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to wire billing engine", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	for name, err := range a.CheckHealth(ctx) {
		logger.Warn("dependency not ready", "dependency", name, "error", err)
	}
	cancel()

	lambda.StartWithOptions(a.Router.Handle, lambda.WithEnableSIGTERM(func() {
		a.Close(context.Background())
	}))
}
