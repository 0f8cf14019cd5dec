package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nimasrn/billing-engine/internal/app"
	"github.com/nimasrn/billing-engine/internal/config"
	"github.com/nimasrn/billing-engine/pkg/budget"
	"github.com/nimasrn/billing-engine/pkg/logger"
	"github.com/nimasrn/billing-engine/pkg/prom"
	"github.com/robfig/cron/v3"
)

// The scheduler triggers a fetch run on FETCH_SCHEDULE. A run that is still
// going when the next tick fires makes that tick a no-op.
func main() {
	cfg, err := config.Load(app.EnvPath(os.Args))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	if err := prom.Create(app.Hostname(), cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("failed to wire billing engine", "error", err)
		return
	}
	defer a.Close(context.Background())

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err = c.AddFunc(cfg.FetchSchedule, func() {
		rctx, rcancel := context.WithTimeout(ctx, cfg.FetchBudget)
		defer rcancel()
		stats := a.Fetcher.Run(rctx, budget.FromContext(rctx, cfg.FetchBudget))
		logger.Info("scheduled fetch finished", "seen", stats.Seen, "fired", stats.Fired, "reverted", stats.Reverted, "stopped", stats.Stopped)
	})
	if err != nil {
		logger.Error("invalid fetch schedule", "schedule", cfg.FetchSchedule, "error", err)
		return
	}

	go prom.ListenAndServer(cfg.MetricsAddr, cfg.MetricsURI)

	c.Start()
	logger.Info("scheduler started", "schedule", cfg.FetchSchedule, "budget", cfg.FetchBudget)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	cancel()
	<-c.Stop().Done()
	logger.Info("scheduler stopped")
}
