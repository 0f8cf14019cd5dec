package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/billing-engine/internal/model"
	"github.com/nimasrn/billing-engine/pkg/logger"
	"github.com/nimasrn/billing-engine/pkg/redis"
)

var ErrSlotBusy = errors.New("next transaction slot is being scheduled by another worker")

type RecurrenceRepository interface {
	Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	ListFutureForTenant(ctx context.Context, tenant string) ([]*model.Transaction, error)
}

// RecurrenceService creates the next cycle's transaction after a successful
// charge. At most one future transaction exists per tenant and calendar date.
type RecurrenceService struct {
	repo    RecurrenceRepository
	redis   redis.RedisAdapter
	lockTTL time.Duration
}

// NewRecurrenceService serializes scheduling per tenant and date through
// redis. A nil adapter only keeps the duplicate scan.
func NewRecurrenceService(repo RecurrenceRepository, adapter redis.RedisAdapter, lockTTL time.Duration) *RecurrenceService {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &RecurrenceService{repo: repo, redis: adapter, lockTTL: lockTTL}
}

// NextDate moves base forward by one interval. Month arithmetic follows
// time.AddDate, so Jan 31 + 1 month is Mar 2 or 3.
func NextDate(base time.Time, interval model.Interval) time.Time {
	switch interval.Normalize() {
	case model.IntervalWeekly:
		return base.AddDate(0, 0, 7)
	case model.IntervalBiWeekly:
		next := base.AddDate(0, 0, 14)
		for i := 0; i < 7 && next.Weekday() != base.Weekday(); i++ {
			next = next.AddDate(0, 0, 1)
		}
		return next
	case model.IntervalMonthly:
		return base.AddDate(0, 1, 0)
	case model.IntervalBiYearly:
		return base.AddDate(0, 6, 0)
	case model.IntervalYearly:
		return base.AddDate(1, 0, 0)
	default:
		return base.AddDate(0, 0, 1)
	}
}

// SameDate compares calendar dates in loc, ignoring the time of day.
func SameDate(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// AddNext returns the created child, or nil when the tenant already has a
// future transaction on the next date.
func (s *RecurrenceService) AddNext(ctx context.Context, parent *model.Transaction, resp *model.PaymentResponse) (*model.Transaction, error) {
	if parent.Recurrence == nil {
		return nil, fmt.Errorf("transaction %s has no recurrence", parent.ID)
	}

	loc := recurrenceLocation(parent.Recurrence)
	next := NextDate(parent.CycleBase().In(loc), parent.Recurrence.Interval)

	if s.redis != nil {
		key := fmt.Sprintf("slot:%s:%s", parent.ManagedAcademy, next.Format(time.DateOnly))
		lock, err := redis.Acquire(s.redis, key, s.lockTTL)
		if errors.Is(err, redis.ErrLockHeld) {
			return nil, ErrSlotBusy
		}
		if err != nil {
			return nil, fmt.Errorf("acquire slot lock: %w", err)
		}
		defer func() {
			if err := lock.Release(); err != nil {
				logger.Warn("slot lock release failed", "key", key, "error", err)
			}
		}()
	}

	existing, err := s.repo.ListFutureForTenant(ctx, parent.ManagedAcademy)
	if err != nil {
		return nil, fmt.Errorf("list future transactions: %w", err)
	}
	for _, t := range existing {
		if SameDate(t.Time, next, loc) {
			logger.Info("future transaction already exists for date, skipping", "managed_academy", parent.ManagedAcademy, "date", next.Format(time.DateOnly), "existing_id", t.ID)
			return nil, nil
		}
	}

	child, err := s.repo.Create(ctx, BuildChild(parent, resp, next))
	if err != nil {
		return nil, fmt.Errorf("create child transaction: %w", err)
	}
	logger.Info("child transaction created", "parent_id", parent.ID, "child_id", child.ID, "time", child.Time)
	return child, nil
}

// BuildChild copies the parent's billing terms onto a new, identity-free
// transaction due at next. Token and recurring data come from the payment
// response, since the gateway rotates them.
func BuildChild(parent *model.Transaction, resp *model.PaymentResponse, next time.Time) *model.Transaction {
	rec := parent.Recurrence

	token, recurringData := resp.Token, resp.RecurringData
	if token == "" {
		token = rec.Token
	}
	if recurringData == "" {
		recurringData = rec.RecurringData
	}
	product := rec.Product
	if product == "" {
		product = model.DefaultProduct
	}

	root := parent.RootID()
	start := next
	var metadata map[string]any
	if parent.Metadata != nil {
		metadata = make(map[string]any, len(parent.Metadata))
		for k, v := range parent.Metadata {
			metadata[k] = v
		}
	}

	return &model.Transaction{
		Time:              next,
		Status:            model.TransactionStatusFuturePayment,
		ManagedAcademy:    parent.ManagedAcademy,
		ParentTransaction: &root,
		TotalAmount:       rec.TotalAmount,
		ProcessedBy:       model.ProcessedByRecurringSystem,
		Recurrence: &model.Recurrence{
			Interval:      rec.Interval,
			TotalAmount:   rec.TotalAmount,
			Token:         token,
			TimeZone:      rec.TimeZone,
			RecurringData: recurringData,
			Product:       product,
			StartDate:     &start,
		},
		PaymentAttempts: []model.PaymentAttempt{},
		Metadata:        metadata,
	}
}

func recurrenceLocation(r *model.Recurrence) *time.Location {
	if r.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.TimeZone)
	if err != nil {
		logger.Warn("unknown recurrence time zone, using UTC", "time_zone", r.TimeZone, "error", err)
		return time.UTC
	}
	return loc
}
