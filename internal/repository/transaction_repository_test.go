package repository

import (
	"context"
	"testing"
	"time"

	"github.com/nimasrn/billing-engine/internal/fixtures"
	"github.com/nimasrn/billing-engine/internal/model"
	"github.com/nimasrn/billing-engine/internal/testutil"
	"github.com/nimasrn/billing-engine/pkg/pg"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *pg.DB {
	return testutil.SetupTestDB(t, Entities()...)
}

func TestTransactionRepository_Create(t *testing.T) {
	repo := NewTransactionRepository(setupTestDB(t))
	ctx := context.Background()
	due := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	t.Run("assigns an id and keeps the recurrence", func(t *testing.T) {
		txn := fixtures.NewRecurringTransaction("academy-1", due, model.IntervalWeekly)
		txn.Metadata = map[string]any{"plan": "gold"}

		created, err := repo.Create(ctx, txn)
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)

		got, err := repo.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "academy-1", got.ManagedAcademy)
		assert.Equal(t, model.TransactionStatusFuturePayment, got.Status)
		require.NotNil(t, got.Recurrence)
		assert.Equal(t, model.IntervalWeekly, got.Recurrence.Interval)
		assert.Equal(t, txn.Recurrence.Token, got.Recurrence.Token)
		assert.True(t, txn.Recurrence.TotalAmount.Equal(got.Recurrence.TotalAmount))
		assert.True(t, due.Equal(got.Time))
		assert.Equal(t, "gold", got.Metadata["plan"])
		assert.Empty(t, got.PaymentAttempts)
	})

	t.Run("keeps a caller supplied id", func(t *testing.T) {
		txn := fixtures.NewRecurringTransaction("academy-1", due, model.IntervalMonthly)
		txn.ID = "txn-fixed"

		created, err := repo.Create(ctx, txn)
		require.NoError(t, err)
		assert.Equal(t, "txn-fixed", created.ID)
	})

	t.Run("transaction without recurrence", func(t *testing.T) {
		created, err := repo.Create(ctx, &model.Transaction{
			Time:           due,
			Status:         model.TransactionStatusCompleted,
			ManagedAcademy: "academy-1",
			TotalAmount:    decimal.NewFromInt(10),
		})
		require.NoError(t, err)

		got, err := repo.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Nil(t, got.Recurrence)
	})

	t.Run("rejects invalid transactions", func(t *testing.T) {
		_, err := repo.Create(ctx, &model.Transaction{Time: due, Status: "pending"})
		assert.Error(t, err)
	})
}

func TestTransactionRepository_GetNotFound(t *testing.T) {
	repo := NewTransactionRepository(setupTestDB(t))

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransactionRepository_FindDue(t *testing.T) {
	repo := NewTransactionRepository(setupTestDB(t))
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	var eligible []string
	for i := 2; i >= 0; i-- {
		created, err := repo.Create(ctx, fixtures.NewRecurringTransaction("academy-1", base.AddDate(0, 0, i), model.IntervalMonthly))
		require.NoError(t, err)
		eligible = append([]string{created.ID}, eligible...)
	}

	inProgress := fixtures.NewRecurringTransaction("academy-1", base, model.IntervalMonthly)
	inProgress.Status = model.TransactionStatusInProgress
	_, err := repo.Create(ctx, inProgress)
	require.NoError(t, err)

	noToken := fixtures.NewRecurringTransaction("academy-1", base, model.IntervalMonthly)
	noToken.Recurrence.Token = ""
	_, err = repo.Create(ctx, noToken)
	require.NoError(t, err)

	cancelled := fixtures.NewRecurringTransaction("academy-1", base, model.IntervalMonthly)
	cancelled.Cancelled = testutil.Ptr(base)
	_, err = repo.Create(ctx, cancelled)
	require.NoError(t, err)

	_, err = repo.Create(ctx, &model.Transaction{
		Time:           base,
		Status:         model.TransactionStatusFuturePayment,
		ManagedAcademy: "academy-1",
	})
	require.NoError(t, err)

	t.Run("returns only eligible rows ordered by time", func(t *testing.T) {
		due, err := repo.FindDue(ctx, 10, 0)
		require.NoError(t, err)
		require.Len(t, due, 3)
		for i, txn := range due {
			assert.Equal(t, eligible[i], txn.ID)
		}
	})

	t.Run("pages with limit and offset", func(t *testing.T) {
		page, err := repo.FindDue(ctx, 2, 2)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, eligible[2], page[0].ID)

		empty, err := repo.FindDue(ctx, 2, 3)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestTransactionRepository_MarkInProgressAndRevert(t *testing.T) {
	repo := NewTransactionRepository(setupTestDB(t))
	ctx := context.Background()

	created, err := repo.Create(ctx, fixtures.NewRecurringTransaction("academy-1", time.Now().UTC(), model.IntervalDaily))
	require.NoError(t, err)

	claimed, err := repo.MarkInProgress(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	again, err := repo.MarkInProgress(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, again, "second claim must lose")

	require.NoError(t, repo.RevertToFuturePayment(ctx, created.ID))
	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusFuturePayment, got.Status)

	assert.ErrorIs(t, repo.RevertToFuturePayment(ctx, created.ID), ErrNotFound)
}

func TestTransactionRepository_ApplyOutcome(t *testing.T) {
	repo := NewTransactionRepository(setupTestDB(t))
	ctx := context.Background()
	created, err := repo.Create(ctx, fixtures.NewRecurringTransaction("academy-1", time.Now().UTC(), model.IntervalDaily))
	require.NoError(t, err)

	retry := model.PaymentAttempt{Time: time.Now().UTC(), Status: "Error", ReturnCode: "500", TranCode: model.TranCodeSale}
	require.NoError(t, repo.ApplyOutcome(ctx, created.ID, retry, nil))

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusFuturePayment, got.Status)
	require.Len(t, got.PaymentAttempts, 1)

	completedAt := time.Now().UTC()
	final := model.PaymentAttempt{Time: completedAt.Add(time.Second), Success: true, Status: "Approved", TranCode: model.TranCodeSale}
	require.NoError(t, repo.ApplyOutcome(ctx, created.ID, final, &model.Outcome{Status: model.TransactionStatusCompleted, At: completedAt}))

	got, err = repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCompleted, got.Status)
	require.NotNil(t, got.Completed)
	assert.WithinDuration(t, completedAt, *got.Completed, time.Millisecond)
	assert.Nil(t, got.Failed)
	require.Len(t, got.PaymentAttempts, 2)
	assert.Equal(t, "500", got.PaymentAttempts[0].ReturnCode)
	assert.True(t, got.PaymentAttempts[1].Success)

	t.Run("unknown transaction leaves no orphan attempt", func(t *testing.T) {
		err := repo.ApplyOutcome(ctx, "missing", final, &model.Outcome{Status: model.TransactionStatusFailed, At: completedAt})
		assert.ErrorIs(t, err, ErrNotFound)

		var count int64
		require.NoError(t, repo.Read(ctx).Model(&PaymentAttemptEntity{}).Where("transaction_id = ?", "missing").Count(&count).Error)
		assert.Zero(t, count)
	})
}

func TestTransactionRepository_ListFutureForTenant(t *testing.T) {
	repo := NewTransactionRepository(setupTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := repo.Create(ctx, fixtures.NewRecurringTransaction("academy-1", now, model.IntervalWeekly))
	require.NoError(t, err)
	_, err = repo.Create(ctx, fixtures.NewRecurringTransaction("academy-2", now, model.IntervalWeekly))
	require.NoError(t, err)
	done := fixtures.NewRecurringTransaction("academy-1", now, model.IntervalWeekly)
	done.Status = model.TransactionStatusCompleted
	_, err = repo.Create(ctx, done)
	require.NoError(t, err)

	list, err := repo.ListFutureForTenant(ctx, "academy-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "academy-1", list[0].ManagedAcademy)
}
