// Package app opens every connection once per process and builds the
// billing components on top of them.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nimasrn/billing-engine/internal/config"
	gateway "github.com/nimasrn/billing-engine/internal/gateways"
	"github.com/nimasrn/billing-engine/internal/invocation"
	"github.com/nimasrn/billing-engine/internal/mirror"
	"github.com/nimasrn/billing-engine/internal/processor"
	"github.com/nimasrn/billing-engine/internal/queue"
	"github.com/nimasrn/billing-engine/internal/repository"
	"github.com/nimasrn/billing-engine/internal/services"
	"github.com/nimasrn/billing-engine/pkg/logger"
	"github.com/nimasrn/billing-engine/pkg/pg"
	"github.com/nimasrn/billing-engine/pkg/redis"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"
)

type App struct {
	Config *config.Config

	DB    *pg.DB
	Redis redis.RedisAdapter
	Mongo *mongo.Client
	Queue queue.Client

	Transactions *repository.TransactionRepository
	Credentials  *repository.CredentialRepository
	Mirror       *mirror.Store
	Gateway      *gateway.DatacapClient

	Dispatcher *services.DispatchService
	Fetcher    *services.FetchService
	Recurrence *services.RecurrenceService
	Resolver   *processor.StatusResolver
	Consumer   *processor.TransactionProcessor
	Router     *invocation.Router
}

// New connects to Postgres, Redis and MongoDB concurrently, retrying each
// until StartupRetryTimeout, and wires the components.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	retryCodes, err := cfg.RetryTable()
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		db, err := ConnectPostgres(gctx, cfg)
		a.DB = db
		return err
	})
	g.Go(func() error {
		rd, err := ConnectRedis(gctx, cfg)
		a.Redis = rd
		return err
	})
	g.Go(func() error {
		client, err := mirror.Connect(gctx, cfg.MongoURI, cfg.StartupRetryTimeout)
		a.Mongo = client
		return err
	})
	if err := g.Wait(); err != nil {
		a.Close(context.Background())
		return nil, err
	}

	a.Queue, err = NewQueue(cfg, a.Redis)
	if err != nil {
		a.Close(context.Background())
		return nil, err
	}

	a.Transactions = repository.NewTransactionRepository(a.DB)
	a.Credentials = repository.NewCredentialRepository(a.DB)
	a.Mirror = mirror.NewStore(a.Mongo.Database(cfg.MongoDatabase).Collection(cfg.MongoCollection))
	a.Gateway = gateway.NewDatacapClient(gateway.DatacapConfig{
		BaseURL:          cfg.DatacapBaseURL,
		SalePath:         cfg.DatacapSalePath,
		DefaultMID:       cfg.DatacapMID,
		UserAgent:        cfg.UserAgent,
		Timeout:          cfg.DatacapTimeout,
		MaxConns:         cfg.DatacapMaxConns,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerTimeout:   cfg.BreakerTimeout,
	}, nil)

	publisher := queue.NewPublisher(a.Queue, cfg.QueueMessageGroupID)
	a.Dispatcher = services.NewDispatchService(a.Transactions, a.Mirror, publisher, services.DispatchConfig{
		Grace:        cfg.DispatchGrace,
		AnchorOffset: cfg.DispatchAnchorOffset,
	})
	a.Fetcher = services.NewFetchService(a.Transactions, a.Dispatcher, services.FetchConfig{
		PageSize:  cfg.FetchLimit,
		StopGrace: cfg.FetchStopGrace,
	})
	a.Recurrence = services.NewRecurrenceService(a.Transactions, a.Redis, cfg.SlotLockTTL)
	a.Resolver = processor.NewStatusResolver(a.Transactions, a.Mirror, retryCodes, cfg.RetryVisibilityTimeout)
	a.Consumer = processor.NewTransactionProcessor(
		a.Transactions,
		gateway.NewPaymentAdapter(a.Credentials, a.Gateway),
		a.Resolver,
		a.Recurrence,
		a.Queue,
		processor.NewChargeGuard(a.Redis, cfg.ChargeLockTTL),
		processor.TransactionProcessorConfig{
			StopGrace:         cfg.ConsumerStopGrace,
			DefaultVisibility: cfg.QueueVisibilityTimeout,
		},
	)
	a.Router = invocation.NewRouter(a.Fetcher, a.Consumer, cfg.FetchBudget)

	logger.Info("billing engine wired", "queue_backend", cfg.QueueBackend, "gateway", cfg.DatacapBaseURL)
	return a, nil
}

func ConnectPostgres(ctx context.Context, cfg *config.Config) (*pg.DB, error) {
	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), cfg.Debug())
	if err != nil {
		return nil, fmt.Errorf("failed connecting to pg: %w", err)
	}
	if err := retryPing(ctx, "postgres", cfg.StartupRetryTimeout, db.Ping); err != nil {
		return nil, err
	}
	return db, nil
}

// ConnectRedis retries the initial connect as well as the ping, since the
// adapter refuses to construct against an unreachable server.
func ConnectRedis(ctx context.Context, cfg *config.Config) (redis.RedisAdapter, error) {
	var adapter redis.RedisAdapter
	connect := func(ctx context.Context) error {
		if adapter == nil {
			a, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
				Addrs:      []string{cfg.RedisAddr},
				ClientName: cfg.AppName,
				DB:         cfg.RedisDatabase,
				Username:   cfg.RedisUsername,
				Password:   cfg.RedisPassword,
			})
			if err != nil {
				return err
			}
			adapter = a
		}
		return adapter.Client().Ping(ctx).Err()
	}
	if err := retryPing(ctx, "redis", cfg.StartupRetryTimeout, connect); err != nil {
		return nil, err
	}
	return adapter, nil
}

func NewQueue(cfg *config.Config, adapter redis.RedisAdapter) (queue.Client, error) {
	if cfg.QueueBackend == config.QueueBackendSQS {
		q, err := queue.NewSQSQueue(queue.SQSConfig{
			QueueURL: cfg.QueueURL,
			Region:   cfg.QueueRegion,
			Endpoint: cfg.QueueEndpoint,
		})
		if err != nil {
			return nil, err
		}
		return q, nil
	}

	q, err := queue.NewRedisQueue(adapter, queue.RedisConfig{
		Name:              cfg.QueueName,
		ConsumerGroup:     cfg.QueueConsumerGroup,
		ConsumerName:      cfg.QueueConsumerName,
		MaxRetries:        cfg.QueueMaxRetries,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		MaxLen:            cfg.QueueMaxLen,
		EnableDLQ:         cfg.QueueEnableDLQ,
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Consumers returns n receive handles. Stream consumers need distinct names
// inside the group; SQS handles are interchangeable.
func (a *App) Consumers(n int) []queue.Client {
	out := make([]queue.Client, 0, n)
	for i := 0; i < n; i++ {
		if rq, ok := a.Queue.(*queue.RedisQueue); ok {
			out = append(out, rq.WithConsumer(fmt.Sprintf("%s-%d", a.Config.QueueConsumerName, i)))
			continue
		}
		out = append(out, a.Queue)
	}
	return out
}

func (a *App) HealthChecks() map[string]processor.HealthCheck {
	return map[string]processor.HealthCheck{
		"postgres": a.DB.Ping,
		"redis":    func(ctx context.Context) error { return a.Redis.Client().Ping(ctx).Err() },
		"mongo":    a.Mirror.Ping,
	}
}

// CheckHealth runs the dependency checks once.
func (a *App) CheckHealth(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for name, check := range a.HealthChecks() {
		if err := check(ctx); err != nil {
			failures[name] = err
		}
	}
	return failures
}

func (a *App) Close(ctx context.Context) {
	if a.Mongo != nil {
		if err := a.Mongo.Disconnect(ctx); err != nil {
			logger.Warn("mongo disconnect failed", "error", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Client().Close(); err != nil {
			logger.Warn("redis close failed", "error", err)
		}
	}
	logger.Sync()
}

func retryPing(ctx context.Context, name string, maxWait time.Duration, ping func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxWait
	op := func() error {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return ping(pctx)
	}
	notify := func(err error, next time.Duration) {
		logger.Warn(name+" not ready, retrying", "error", err, "next", next)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify); err != nil {
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	logger.Info(name + " connected")
	return nil
}
