package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nimasrn/billing-engine/internal/app"
	"github.com/nimasrn/billing-engine/internal/config"
	"github.com/nimasrn/billing-engine/internal/processor"
	"github.com/nimasrn/billing-engine/pkg/logger"
	"github.com/nimasrn/billing-engine/pkg/prom"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, err := config.Load(app.EnvPath(os.Args))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	logger.Info("starting billing processor", "version", version, "commit", commit, "date", date)

	if err := prom.Create(app.Hostname(), cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("failed to wire billing engine", "error", err)
		return
	}
	defer a.Close(ctx)

	service, err := processor.NewProcessorService(a.Consumers(cfg.QueueConsumers), a.Consumer, a.HealthChecks(), processor.ServiceConfig{
		BatchSize:   cfg.QueueBatchSize,
		WaitTime:    cfg.QueueWaitTime,
		BatchBudget: cfg.QueueBatchBudget,
		Workers:     cfg.QueueConsumers,
		StopGrace:   cfg.ConsumerStopGrace,
	})
	if err != nil {
		logger.Error("failed to create the processor", "error", err)
		return
	}

	go prom.ListenAndServer(cfg.MetricsAddr, cfg.MetricsURI)

	if err := service.Start(); err != nil {
		logger.Error("failed to start processor", "error", err)
		return
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	if err := service.Stop(); err != nil {
		logger.Error("processor stop", "error", err)
	}
}
