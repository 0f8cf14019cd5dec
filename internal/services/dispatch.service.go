package services

import (
	"context"
	"fmt"
	"time"

	"github.com/nimasrn/billing-engine/internal/model"
	"github.com/nimasrn/billing-engine/pkg/logger"
	"github.com/nimasrn/billing-engine/pkg/prom"
	"golang.org/x/sync/errgroup"
)

type DispatchOutcome string

const (
	DispatchNotDue   DispatchOutcome = "not_due"
	DispatchSkipped  DispatchOutcome = "skipped"
	DispatchFired    DispatchOutcome = "fired"
	DispatchReverted DispatchOutcome = "reverted"
	// DispatchLost means another dispatcher moved the transaction first.
	DispatchLost DispatchOutcome = "lost"
)

// LeftCandidates reports whether the transaction is no longer future_payment
// after the outcome.
func (o DispatchOutcome) LeftCandidates() bool {
	return o == DispatchFired || o == DispatchLost
}

type DispatchRepository interface {
	MarkInProgress(ctx context.Context, id string) (bool, error)
	RevertToFuturePayment(ctx context.Context, id string) error
}

type MirrorWriter interface {
	Upsert(ctx context.Context, txn *model.Transaction) error
}

type TransactionPublisher interface {
	PublishTransaction(ctx context.Context, txn *model.Transaction) (string, error)
}

type DispatchConfig struct {
	// Grace lets a transaction fire this long before its anchor.
	Grace time.Duration
	// AnchorOffset is added to the start of the due day in the
	// transaction's zone to get the fire time.
	AnchorOffset time.Duration
}

// DispatchService decides whether a due transaction fires and hands it to
// the payment queue.
type DispatchService struct {
	repo      DispatchRepository
	mirror    MirrorWriter
	publisher TransactionPublisher
	config    DispatchConfig
	now       func() time.Time
}

func NewDispatchService(repo DispatchRepository, mirror MirrorWriter, publisher TransactionPublisher, config DispatchConfig) *DispatchService {
	return &DispatchService{
		repo:      repo,
		mirror:    mirror,
		publisher: publisher,
		config:    config,
		now:       time.Now,
	}
}

// FireAt returns the instant txn becomes due: the start of its due day in
// the recurrence zone plus the anchor offset.
func (s *DispatchService) FireAt(txn *model.Transaction) (time.Time, error) {
	zone := ""
	if txn.Recurrence != nil {
		zone = txn.Recurrence.TimeZone
	}
	loc, err := model.LoadLocation(zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time zone %q: %w", zone, err)
	}
	y, m, d := txn.Time.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).Add(s.config.AnchorOffset), nil
}

// IsDue reports whether txn should fire at now.
func (s *DispatchService) IsDue(txn *model.Transaction, now time.Time) (bool, error) {
	anchor, err := s.FireAt(txn)
	if err != nil {
		return false, err
	}
	if !now.Before(anchor) {
		return true, nil
	}
	return anchor.Sub(now) < s.config.Grace, nil
}

// Handle fires txn when it is due. The in-progress claim is conditional, so
// two dispatchers racing on one row enqueue it once. A failed enqueue puts
// the row back to future_payment for the next pass.
func (s *DispatchService) Handle(ctx context.Context, txn *model.Transaction) (outcome DispatchOutcome, err error) {
	defer func() { prom.IncDispatch(string(outcome)) }()

	log := logger.With("transaction_id", txn.ID, "managed_academy", txn.ManagedAcademy)

	if txn.Time.IsZero() {
		log.Info("transaction has no due time, skipping")
		return DispatchSkipped, nil
	}
	if txn.Status != model.TransactionStatusFuturePayment {
		log.Info("transaction is not scheduled, skipping", "status", txn.Status)
		return DispatchSkipped, nil
	}

	due, err := s.IsDue(txn, s.now())
	if err != nil {
		return DispatchSkipped, err
	}
	if !due {
		log.Debug("transaction not due yet", "time", txn.Time)
		return DispatchNotDue, nil
	}

	claimed, err := s.repo.MarkInProgress(ctx, txn.ID)
	if err != nil {
		return DispatchSkipped, fmt.Errorf("mark %s in progress: %w", txn.ID, err)
	}
	if !claimed {
		log.Info("transaction already claimed by another dispatcher")
		return DispatchLost, nil
	}
	txn.Status = model.TransactionStatusInProgress

	var g errgroup.Group
	if s.mirror != nil {
		g.Go(func() error {
			if err := s.mirror.Upsert(ctx, txn); err != nil {
				log.Error("mirror upsert failed", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		_, err := s.publisher.PublishTransaction(ctx, txn)
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("unable to enqueue transaction, reverting", "error", err)
		txn.Status = model.TransactionStatusFuturePayment
		if rerr := s.repo.RevertToFuturePayment(ctx, txn.ID); rerr != nil {
			log.Error("revert to future_payment failed", "error", rerr)
		}
		return DispatchReverted, nil
	}

	log.Info("transaction dispatched", "time", txn.Time)
	return DispatchFired, nil
}
