package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/billing-engine/internal/model"
	"github.com/nimasrn/billing-engine/pkg/pg"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a transaction or credential does not exist.
	ErrNotFound = errors.New("record not found")
)

type TransactionRepository struct {
	*pg.DB
}

func NewTransactionRepository(db *pg.DB) *TransactionRepository {
	return &TransactionRepository{
		db,
	}
}

// Create inserts a new transaction together with any attempts it already
// carries. An empty ID is assigned by the entity hook.
func (r *TransactionRepository) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	if err := txn.Validate(); err != nil {
		return nil, err
	}
	entity := toTransactionEntity(txn)

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toTransactionModel(entity), nil
}

func (r *TransactionRepository) Get(ctx context.Context, id string) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Write(ctx).
		Preload("PaymentAttempts", func(db *gorm.DB) *gorm.DB {
			return db.Order("time ASC, id ASC")
		}).
		Where("id = ?", id).
		First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toTransactionModel(&entity), nil
}

// FindDue returns one page of fire candidates ordered by due time.
func (r *TransactionRepository) FindDue(ctx context.Context, limit, offset int) ([]*model.Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var entities []*TransactionEntity
	err := r.Read(ctx).
		Where("status = ?", model.TransactionStatusFuturePayment).
		Where("has_recurrence = ?", true).
		Where("recurrence_token <> '' AND recurrence_recurring_data <> '' AND recurrence_interval <> ''").
		Where("completed IS NULL AND cancelled IS NULL").
		Order("time ASC, id ASC").
		Limit(limit).
		Offset(offset).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toTransactionModels(entities), nil
}

// ListFutureForTenant returns every scheduled transaction of the tenant that
// carries a recurrence.
func (r *TransactionRepository) ListFutureForTenant(ctx context.Context, tenant string) ([]*model.Transaction, error) {
	var entities []*TransactionEntity
	err := r.Write(ctx).
		Where("managed_academy = ?", tenant).
		Where("status = ?", model.TransactionStatusFuturePayment).
		Where("has_recurrence = ?", true).
		Order("time ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toTransactionModels(entities), nil
}

// MarkInProgress moves a future_payment transaction to inprogress. It reports
// false when the row was no longer future_payment.
func (r *TransactionRepository) MarkInProgress(ctx context.Context, id string) (bool, error) {
	res := r.Write(ctx).
		Model(&TransactionEntity{}).
		Where("id = ? AND status = ?", id, model.TransactionStatusFuturePayment).
		Updates(map[string]interface{}{
			"status":     model.TransactionStatusInProgress,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// RevertToFuturePayment undoes MarkInProgress after a failed enqueue.
func (r *TransactionRepository) RevertToFuturePayment(ctx context.Context, id string) error {
	res := r.Write(ctx).
		Model(&TransactionEntity{}).
		Where("id = ? AND status = ?", id, model.TransactionStatusInProgress).
		Updates(map[string]interface{}{
			"status":     model.TransactionStatusFuturePayment,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyOutcome appends the attempt and, when outcome is set, moves the
// transaction to its terminal status in the same database transaction.
func (r *TransactionRepository) ApplyOutcome(ctx context.Context, id string, attempt model.PaymentAttempt, outcome *model.Outcome) error {
	return r.WithinTransaction(ctx, func(ctx context.Context) error {
		db := r.Write(ctx)

		updates := map[string]interface{}{"updated_at": time.Now().UTC()}
		if outcome != nil {
			updates["status"] = outcome.Status
			switch outcome.Status {
			case model.TransactionStatusCompleted:
				updates["completed"] = outcome.At
			case model.TransactionStatusFailed:
				updates["failed"] = outcome.At
			}
		}

		res := db.Model(&TransactionEntity{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		return db.Create(toPaymentAttemptEntity(id, attempt)).Error
	})
}
