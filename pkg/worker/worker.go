package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/nimasrn/billing-engine/pkg/logger"
)

var ErrStopped = errors.New("worker manager stopped")

type WorkerHandler = func(ctx context.Context, workerIndex int, job interface{})

type WorkerManager struct {
	jobChannel     chan interface{}
	numberOfWorker int
	do             WorkerHandler
	waiter         sync.WaitGroup
	done           chan struct{}
	stopOnce       sync.Once
}

// NewWorkerManager
// is a job manager based on go routines. Define the number of internal
// workers and publish jobs with Enqueue. Workers stop when the context given
// to Start is cancelled or Exit is called; jobs already taken are finished
// first, jobs still buffered are dropped.
func NewWorkerManager(bufferSize, numberOfWorkers int) *WorkerManager {
	if numberOfWorkers <= 0 {
		numberOfWorkers = 1
	}
	return &WorkerManager{
		numberOfWorker: numberOfWorkers,
		jobChannel:     make(chan interface{}, bufferSize),
		done:           make(chan struct{}),
	}
}

func (w *WorkerManager) GetUnreadCount() int64 {
	return int64(len(w.jobChannel))
}

func (w *WorkerManager) SetWorker(worker WorkerHandler) {
	w.do = worker
}

// Enqueue
// publishes a job, blocking while the buffer is full.
func (w *WorkerManager) Enqueue(ctx context.Context, val interface{}) error {
	select {
	case w.jobChannel <- val:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return ErrStopped
	}
}

// Start
// runs the workers and blocks until all of them returned.
func (w *WorkerManager) Start(ctx context.Context) error {
	if w.do == nil {
		return errors.New("worker handler is not set")
	}
	w.waiter.Add(w.numberOfWorker)
	for i := 0; i < w.numberOfWorker; i++ {
		go func(index int) {
			defer w.waiter.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-w.done:
					return
				case job := <-w.jobChannel:
					w.do(ctx, index, job)
				}
			}
		}(i)
	}
	w.waiter.Wait()
	return ErrStopped
}

// Exit
// stops every worker once its current job is done.
func (w *WorkerManager) Exit() {
	w.stopOnce.Do(func() {
		logger.Info("Exit() is called and worker manager is going to be shutdown")
		close(w.done)
	})
}
