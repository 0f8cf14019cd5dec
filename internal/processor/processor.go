package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/billing-engine/internal/queue"
	"github.com/nimasrn/billing-engine/pkg/budget"
	"github.com/nimasrn/billing-engine/pkg/logger"
	"github.com/nimasrn/billing-engine/pkg/worker"
)

const HealthInterval = time.Second * 30
const MetricsInterval = time.Second * 30

// BatchProcessor handles one received batch within a budget.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, msgs []*queue.Message, b budget.Budget) BatchResult
	GetType() string
}

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

type ServiceConfig struct {
	BatchSize   int
	WaitTime    time.Duration
	BatchBudget time.Duration
	Workers     int
	StopGrace   time.Duration
}

// ProcessorService is the long-running consumer: one poller per queue
// handle feeds received batches to a worker pool.
type ProcessorService struct {
	consumers []queue.Client
	processor BatchProcessor
	checks    map[string]HealthCheck
	config    ServiceConfig
	metrics   *ServiceMetrics
	worker    *worker.WorkerManager
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

type batchJob struct {
	msgs []*queue.Message
	done chan struct{}
}

func NewProcessorService(consumers []queue.Client, processor BatchProcessor, checks map[string]HealthCheck, config ServiceConfig) (*ProcessorService, error) {
	if len(consumers) == 0 {
		return nil, errors.New("at least one queue consumer is required")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.BatchBudget <= 0 {
		config.BatchBudget = time.Minute
	}
	if config.Workers <= 0 {
		config.Workers = len(consumers)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessorService{
		consumers: consumers,
		processor: processor,
		checks:    checks,
		config:    config,
		metrics:   NewServiceMetrics(),
		worker:    worker.NewWorkerManager(len(consumers), config.Workers),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

func (s *ProcessorService) Start() error {
	logger.Info("Starting Processor Service...", "type", s.processor.GetType())

	s.worker.SetWorker(s.workerHandler)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(s.ctx); err != nil && !errors.Is(err, worker.ErrStopped) {
			logger.Error("Worker manager stopped", "error", err)
		}
	}()

	for i, c := range s.consumers {
		s.wg.Add(1)
		go s.poll(i, c)
		logger.Info("Started consumer instance", "instance", i)
	}

	s.wg.Add(2)
	go s.metricsReporter()
	go s.healthChecker()

	logger.Info("Processor Service started", "consumers", len(s.consumers), "workers", s.config.Workers)
	return nil
}

// poll receives a batch and waits for it to be processed before asking for
// the next one, so a consumer never holds more than one batch invisible.
func (s *ProcessorService) poll(instance int, c queue.Client) {
	defer s.wg.Done()

	for {
		if s.ctx.Err() != nil {
			return
		}

		msgs, err := c.Receive(s.ctx, s.config.BatchSize, s.config.WaitTime)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			logger.Error("Failed to receive messages", "instance", instance, "error", err)
			select {
			case <-time.After(time.Second):
			case <-s.ctx.Done():
				return
			}
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		job := &batchJob{msgs: msgs, done: make(chan struct{})}
		if err := s.worker.Enqueue(s.ctx, job); err != nil {
			logger.Warn("Batch not enqueued, messages become visible again", "instance", instance, "error", err)
			return
		}
		select {
		case <-job.done:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) workerHandler(ctx context.Context, workerIndex int, job interface{}) {
	b, ok := job.(*batchJob)
	if !ok {
		logger.Error("Invalid job type in worker", "worker", workerIndex)
		return
	}
	defer close(b.done)

	// the batch gets its own deadline so shutdown lets in-flight charges finish
	batchCtx, cancel := context.WithTimeout(context.Background(), s.config.BatchBudget)
	defer cancel()

	start := time.Now()
	res := s.processor.ProcessBatch(batchCtx, b.msgs, budget.FromContext(batchCtx, s.config.BatchBudget))
	s.metrics.RecordBatch(len(b.msgs), len(res.BatchItemFailures), time.Since(start))
}

func (s *ProcessorService) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) reportMetrics() {
	stats := s.metrics.GetStats()
	logger.Info("Metrics", "total_batches", stats["total_batches"], "total_messages", stats["total_messages"], "total_failed", stats["total_failed"], "rate_per_second", stats["rate_per_second"], "avg_batch_ms", stats["avg_batch_ms"], "uptime_seconds", stats["uptime_seconds"])

	for i, c := range s.consumers {
		reporter, ok := c.(queue.StatsReporter)
		if !ok {
			continue
		}
		if qStats, err := reporter.GetStats(); err == nil {
			logger.Info("Queue stats", "queue", i, "total", qStats.TotalMessages, "pending", qStats.PendingMessages)
		}
	}
}

func (s *ProcessorService) Stats() map[string]interface{} {
	return s.metrics.GetStats()
}

func (s *ProcessorService) healthChecker() {
	defer s.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CheckHealth(s.ctx)
		case <-s.ctx.Done():
			return
		}
	}
}

// CheckHealth runs every registered check and returns the failures by name.
func (s *ProcessorService) CheckHealth(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for name, check := range s.checks {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := check(cctx)
		cancel()
		if err != nil {
			logger.Error("HEALTH CHECK FAILED", "dependency", name, "error", err)
			failures[name] = err
		}
	}
	if len(failures) == 0 {
		logger.Debug("HEALTH CHECK: OK - Service healthy")
	}
	return failures
}

// Stop cancels polling, lets running batches finish within StopGrace and
// waits for the background loops.
func (s *ProcessorService) Stop() error {
	logger.Info("Shutting down Processor Service...")
	s.cancel()
	s.worker.Exit()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	grace := s.config.StopGrace + s.config.BatchBudget
	select {
	case <-done:
	case <-time.After(grace):
		return fmt.Errorf("processor did not stop within %s", grace)
	}

	s.reportMetrics()
	logger.Info("Processor Service stopped")
	return nil
}
