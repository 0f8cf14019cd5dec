package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimasrn/billing-engine/internal/app"
	"github.com/nimasrn/billing-engine/internal/config"
	"github.com/nimasrn/billing-engine/internal/handlers"
	xhttp "github.com/nimasrn/billing-engine/pkg/http"
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
	logger.Info("starting billing api", "version", version, "commit", commit, "date", date)

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

	// invoke runs a whole fetch or batch, so it gets the larger of the two budgets
	budget := cfg.FetchBudget
	if cfg.QueueBatchBudget > budget {
		budget = cfg.QueueBatchBudget
	}

	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(budget + 5*time.Second))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()
	s.Router.GET(cfg.MetricsURI, prom.Handler())

	g := s.Router.Group("/api/v1")
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(a))
	handlers.RegisterInvokeRoutes(g, handlers.NewInvokeHandler(a.Router, budget))
	handlers.RegisterStatsRoutes(g, handlers.NewStatsHandler(a.Gateway))

	go func() {
		if err := s.ListenAndServe(cfg.HttpListenAddr); err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	s.Shutdown()
}
