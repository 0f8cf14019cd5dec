package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nimasrn/billing-engine/internal/queue"
	"github.com/nimasrn/billing-engine/internal/testutil"
	"github.com/nimasrn/billing-engine/pkg/budget"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubQueue hands out its batches in order, then long-polls empty.
type stubQueue struct {
	mu      sync.Mutex
	batches [][]*queue.Message
}

func (q *stubQueue) Send(ctx context.Context, in queue.SendInput) (string, error) {
	return "", errors.New("not supported")
}

func (q *stubQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]*queue.Message, error) {
	q.mu.Lock()
	if len(q.batches) > 0 {
		next := q.batches[0]
		q.batches = q.batches[1:]
		q.mu.Unlock()
		return next, nil
	}
	q.mu.Unlock()

	select {
	case <-time.After(20 * time.Millisecond):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *stubQueue) Delete(ctx context.Context, receiptHandle string) error { return nil }

func (q *stubQueue) ChangeVisibility(ctx context.Context, receiptHandle string, timeout time.Duration) error {
	return nil
}

type countingProcessor struct {
	messages  atomic.Int64
	hadBudget atomic.Bool
}

func (p *countingProcessor) ProcessBatch(ctx context.Context, msgs []*queue.Message, b budget.Budget) BatchResult {
	p.messages.Add(int64(len(msgs)))
	if _, ok := ctx.Deadline(); ok && b.Remaining() > 0 {
		p.hadBudget.Store(true)
	}
	var res BatchResult
	for _, m := range msgs {
		if m.ID == "bad" {
			res.BatchItemFailures = append(res.BatchItemFailures, BatchItemFailure{ItemIdentifier: m.ID})
		}
	}
	return res
}

func (p *countingProcessor) GetType() string { return queue.TypeProcessTransactions }

func TestProcessorService_ConsumesBatches(t *testing.T) {
	q1 := &stubQueue{batches: [][]*queue.Message{
		{{ID: "a"}, {ID: "b"}},
		{{ID: "bad"}},
	}}
	q2 := &stubQueue{batches: [][]*queue.Message{{{ID: "c"}}}}
	proc := &countingProcessor{}

	svc, err := NewProcessorService([]queue.Client{q1, q2}, proc, nil, ServiceConfig{
		BatchSize:   10,
		WaitTime:    10 * time.Millisecond,
		BatchBudget: 5 * time.Second,
		Workers:     2,
		StopGrace:   time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Start())

	testutil.AssertEventually(t, 2*time.Second, func() bool {
		return proc.messages.Load() == 4
	}, "batches were not processed")
	require.NoError(t, svc.Stop())

	assert.True(t, proc.hadBudget.Load())
	stats := svc.Stats()
	assert.Equal(t, int64(3), stats["total_batches"])
	assert.Equal(t, int64(4), stats["total_messages"])
	assert.Equal(t, int64(1), stats["total_failed"])
}

func TestProcessorService_RequiresConsumer(t *testing.T) {
	_, err := NewProcessorService(nil, &countingProcessor{}, nil, ServiceConfig{})
	assert.Error(t, err)
}

func TestProcessorService_CheckHealth(t *testing.T) {
	down := errors.New("connection refused")
	svc, err := NewProcessorService([]queue.Client{&stubQueue{}}, &countingProcessor{}, map[string]HealthCheck{
		"postgres": func(ctx context.Context) error { return nil },
		"mongo":    func(ctx context.Context) error { return down },
	}, ServiceConfig{})
	require.NoError(t, err)

	failures := svc.CheckHealth(context.Background())
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures["mongo"], down)
}
