package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/billing-engine/internal/model"
	"github.com/nimasrn/billing-engine/internal/queue"
	"github.com/nimasrn/billing-engine/internal/repository"
	"github.com/nimasrn/billing-engine/pkg/budget"
	"github.com/nimasrn/billing-engine/pkg/logger"
	"github.com/nimasrn/billing-engine/pkg/prom"
)

var ErrBudgetExhausted = errors.New("not enough time left to process the transaction")

type TransactionReader interface {
	Get(ctx context.Context, id string) (*model.Transaction, error)
}

type Charger interface {
	Charge(ctx context.Context, txn *model.Transaction) (*model.PaymentResponse, error)
}

type Resolver interface {
	Resolve(ctx context.Context, id string, resp *model.PaymentResponse) (model.TransactionStatus, error)
}

type Scheduler interface {
	AddNext(ctx context.Context, parent *model.Transaction, resp *model.PaymentResponse) (*model.Transaction, error)
}

// Acknowledger is the part of queue.Client the consumer settles deliveries with.
type Acknowledger interface {
	Delete(ctx context.Context, receiptHandle string) error
	ChangeVisibility(ctx context.Context, receiptHandle string, timeout time.Duration) error
}

type TransactionProcessorConfig struct {
	// StopGrace is the least budget a message needs before the gateway call.
	StopGrace time.Duration
	// DefaultVisibility hides a failed message when its error carries no hint.
	DefaultVisibility time.Duration
}

type BatchItemFailure struct {
	ItemIdentifier string `json:"itemIdentifier"`
}

type BatchResult struct {
	BatchItemFailures []BatchItemFailure `json:"batchItemFailures"`
}

func (r BatchResult) Empty() bool {
	return len(r.BatchItemFailures) == 0
}

// TransactionProcessor charges queued transactions. Each message is handled
// on its own goroutine and a failure only affects that message.
type TransactionProcessor struct {
	store     TransactionReader
	charger   Charger
	resolver  Resolver
	scheduler Scheduler
	ack       Acknowledger
	guard     *ChargeGuard
	config    TransactionProcessorConfig
}

func NewTransactionProcessor(store TransactionReader, charger Charger, resolver Resolver, scheduler Scheduler, ack Acknowledger, guard *ChargeGuard, config TransactionProcessorConfig) *TransactionProcessor {
	if config.DefaultVisibility <= 0 {
		config.DefaultVisibility = time.Hour
	}
	return &TransactionProcessor{
		store:     store,
		charger:   charger,
		resolver:  resolver,
		scheduler: scheduler,
		ack:       ack,
		guard:     guard,
		config:    config,
	}
}

func (p *TransactionProcessor) GetType() string {
	return queue.TypeProcessTransactions
}

func (p *TransactionProcessor) ProcessBatch(ctx context.Context, msgs []*queue.Message, b budget.Budget) BatchResult {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result BatchResult
	)

	for _, msg := range msgs {
		wg.Add(1)
		go func(msg *queue.Message) {
			defer wg.Done()
			err := p.Process(ctx, msg, b)
			if err == nil {
				return
			}
			p.release(ctx, msg, err)

			mu.Lock()
			result.BatchItemFailures = append(result.BatchItemFailures, BatchItemFailure{ItemIdentifier: msg.ID})
			mu.Unlock()
		}(msg)
	}
	wg.Wait()

	if n := len(result.BatchItemFailures); n > 0 {
		prom.AddBatchFailures(n)
		logger.Warn("batch finished with failures", "messages", len(msgs), "failed", n)
	}
	return result
}

// Process handles one delivery. A nil return means the message was settled
// and deleted; any error leaves it on the queue.
func (p *TransactionProcessor) Process(ctx context.Context, msg *queue.Message, b budget.Budget) error {
	id, err := transactionID(msg.Body)
	if err != nil {
		return err
	}
	log := logger.With("transaction_id", id, "message_id", msg.ID, "attempt", msg.Attempts)

	txn, err := p.store.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		log.Info("queued transaction not found, retrying later")
		return &RetryError{Reason: "transaction not found", VisibilityTimeout: NotFoundVisibility, Err: err}
	}
	if err != nil {
		return fmt.Errorf("read transaction %s: %w", id, err)
	}

	if txn.Status.IsTerminal() {
		log.Info("transaction already settled, acknowledging", "status", txn.Status)
		if err := p.ack.Delete(ctx, msg.ReceiptHandle); err != nil {
			return fmt.Errorf("delete settled message: %w", err)
		}
		return nil
	}

	if b.Remaining() < p.config.StopGrace {
		log.Warn("budget too low to charge", "remaining", b.Remaining(), "grace", p.config.StopGrace)
		return ErrBudgetExhausted
	}

	release, err := p.guard.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	resp, err := p.charger.Charge(ctx, txn)
	if err != nil {
		return fmt.Errorf("charge %s: %w", id, err)
	}

	status, err := p.resolver.Resolve(ctx, id, resp)
	if err != nil {
		return err
	}

	if err := p.ack.Delete(ctx, msg.ReceiptHandle); err != nil {
		// the next delivery finds the transaction settled and acknowledges it
		log.Warn("failed to delete processed message", "error", err)
	}

	if status != model.TransactionStatusCompleted {
		log.Info("transaction failed", "return_code", resp.ReturnCode, "status", resp.Status)
		return nil
	}

	child, err := p.scheduler.AddNext(ctx, txn, resp)
	switch {
	case err != nil:
		log.Error("failed to schedule next transaction", "error", err)
	case child == nil:
		log.Info("next transaction already scheduled")
	default:
		log.Info("next transaction scheduled", "child_id", child.ID, "time", child.Time)
	}
	return nil
}

func (p *TransactionProcessor) release(ctx context.Context, msg *queue.Message, cause error) {
	visibility := VisibilityFor(cause, p.config.DefaultVisibility)
	logger.Error("message processing failed", "message_id", msg.ID, "visibility", visibility, "error", cause)

	if msg.ReceiptHandle == "" {
		return
	}
	if err := p.ack.ChangeVisibility(ctx, msg.ReceiptHandle, visibility); err != nil {
		logger.Error("failed to change message visibility", "message_id", msg.ID, "error", err)
	}
}

func transactionID(body []byte) (string, error) {
	var snapshot struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return "", fmt.Errorf("decode message body: %w", err)
	}
	if snapshot.ID == "" {
		return "", errors.New("message body has no transaction id")
	}
	return snapshot.ID, nil
}
