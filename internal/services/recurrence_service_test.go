package services

import (
	"context"
	"testing"
	"time"

	"github.com/nimasrn/billing-engine/internal/fixtures"
	"github.com/nimasrn/billing-engine/internal/model"
	"github.com/nimasrn/billing-engine/internal/repository"
	"github.com/nimasrn/billing-engine/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextDate(t *testing.T) {
	jan1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		base     time.Time
		interval model.Interval
		want     time.Time
	}{
		{"weekly", jan1, model.IntervalWeekly, time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)},
		{"weekly alias", jan1, "Weekly", time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)},
		{"bi-weekly keeps the weekday", jan1, model.IntervalBiWeekly, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"monthly", jan1, model.IntervalMonthly, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"monthly overflow normalizes", time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), model.IntervalMonthly, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)},
		{"bi-yearly", jan1, model.IntervalBiYearly, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)},
		{"yearly", jan1, model.IntervalYearly, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"unknown interval is daily", jan1, "fortnightly-ish", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextDate(tt.base, tt.interval)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
		})
	}

	t.Run("wall clock survives a daylight saving change", func(t *testing.T) {
		ny, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)

		got := NextDate(time.Date(2025, 3, 5, 0, 0, 0, 0, ny), model.IntervalWeekly)
		assert.True(t, got.Equal(time.Date(2025, 3, 12, 0, 0, 0, 0, ny)), "got %s", got)
		assert.Equal(t, 0, got.Hour())
	})
}

func TestSameDate(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	a := time.Date(2025, 1, 8, 3, 0, 0, 0, time.UTC)
	b := time.Date(2025, 1, 8, 22, 0, 0, 0, time.UTC)
	assert.True(t, SameDate(a, b, time.UTC))
	// 03:00 UTC is still Jan 7 in New York
	assert.False(t, SameDate(a, b, ny))
}

func TestBuildChild(t *testing.T) {
	root := "txn-root"
	parent := fixtures.NewRecurringTransaction("academy-1", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), model.IntervalWeekly)
	parent.ID = "txn-2"
	parent.ParentTransaction = &root
	parent.Recurrence.Product = ""
	parent.Metadata = map[string]any{"plan": "gold"}
	parent.PaymentAttempts = []model.PaymentAttempt{{ReturnCode: "000000"}}
	next := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)

	t.Run("takes rotated credentials from the response", func(t *testing.T) {
		child := BuildChild(parent, &model.PaymentResponse{Token: "DC4:new", RecurringData: "rd-new"}, next)

		assert.Empty(t, child.ID)
		assert.Equal(t, model.TransactionStatusFuturePayment, child.Status)
		assert.Equal(t, next, child.Time)
		require.NotNil(t, child.ParentTransaction)
		assert.Equal(t, root, *child.ParentTransaction)
		assert.Equal(t, model.ProcessedByRecurringSystem, child.ProcessedBy)
		assert.True(t, parent.Recurrence.TotalAmount.Equal(child.TotalAmount))
		assert.Equal(t, "DC4:new", child.Recurrence.Token)
		assert.Equal(t, "rd-new", child.Recurrence.RecurringData)
		assert.Equal(t, model.DefaultProduct, child.Recurrence.Product)
		require.NotNil(t, child.Recurrence.StartDate)
		assert.Equal(t, next, *child.Recurrence.StartDate)
		assert.Empty(t, child.PaymentAttempts)
		assert.Nil(t, child.Completed)

		child.Metadata["plan"] = "silver"
		assert.Equal(t, "gold", parent.Metadata["plan"])
	})

	t.Run("keeps the parent's credentials when the response has none", func(t *testing.T) {
		child := BuildChild(parent, &model.PaymentResponse{}, next)
		assert.Equal(t, parent.Recurrence.Token, child.Recurrence.Token)
		assert.Equal(t, parent.Recurrence.RecurringData, child.Recurrence.RecurringData)
	})

	t.Run("first cycle points at the parent itself", func(t *testing.T) {
		first := fixtures.NewRecurringTransaction("academy-1", next, model.IntervalWeekly)
		first.ID = "txn-1"
		child := BuildChild(first, &model.PaymentResponse{}, next)
		assert.Equal(t, "txn-1", *child.ParentTransaction)
	})
}

func setupRecurrence(t *testing.T, withRedis bool) (*RecurrenceService, *repository.TransactionRepository) {
	t.Helper()
	repo := repository.NewTransactionRepository(testutil.SetupTestDB(t, repository.Entities()...))
	if !withRedis {
		return NewRecurrenceService(repo, nil, 0), repo
	}
	_, adapter := testutil.SetupTestRedis(t)
	return NewRecurrenceService(repo, adapter, time.Second), repo
}

func createParent(t *testing.T, repo *repository.TransactionRepository, tenant string, due time.Time, zone string) *model.Transaction {
	t.Helper()
	txn := fixtures.NewRecurringTransaction(tenant, due, model.IntervalWeekly)
	txn.Status = model.TransactionStatusCompleted
	txn.Recurrence.TimeZone = zone
	created, err := repo.Create(context.Background(), txn)
	require.NoError(t, err)
	return created
}

func TestRecurrenceService_AddNext(t *testing.T) {
	ctx := context.Background()

	t.Run("creates one child and skips the duplicate", func(t *testing.T) {
		svc, repo := setupRecurrence(t, true)
		parent := createParent(t, repo, "academy-1", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "UTC")

		child, err := svc.AddNext(ctx, parent, fixtures.ApprovedResponse(parent))
		require.NoError(t, err)
		require.NotNil(t, child)
		assert.NotEmpty(t, child.ID)
		assert.True(t, child.Time.Equal(time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)))

		again, err := svc.AddNext(ctx, parent, fixtures.ApprovedResponse(parent))
		require.NoError(t, err)
		assert.Nil(t, again)

		future, err := repo.ListFutureForTenant(ctx, "academy-1")
		require.NoError(t, err)
		assert.Len(t, future, 1)
	})

	t.Run("other tenants do not block the date", func(t *testing.T) {
		svc, repo := setupRecurrence(t, false)
		due := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

		for _, tenant := range []string{"academy-1", "academy-2"} {
			parent := createParent(t, repo, tenant, due, "UTC")
			child, err := svc.AddNext(ctx, parent, &model.PaymentResponse{})
			require.NoError(t, err)
			assert.NotNil(t, child)
		}
	})

	t.Run("billing date drives the cycle", func(t *testing.T) {
		svc, repo := setupRecurrence(t, false)
		parent := createParent(t, repo, "academy-1", time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), "UTC")
		billed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		parent.BillingDate = &billed

		child, err := svc.AddNext(ctx, parent, &model.PaymentResponse{})
		require.NoError(t, err)
		require.NotNil(t, child)
		assert.True(t, child.Time.Equal(time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("arithmetic runs in the recurrence zone", func(t *testing.T) {
		svc, repo := setupRecurrence(t, false)
		// midnight in New York
		parent := createParent(t, repo, "academy-1", time.Date(2025, 1, 1, 5, 0, 0, 0, time.UTC), "America/New_York")

		child, err := svc.AddNext(ctx, parent, &model.PaymentResponse{})
		require.NoError(t, err)
		require.NotNil(t, child)
		assert.True(t, child.Time.Equal(time.Date(2025, 1, 8, 5, 0, 0, 0, time.UTC)), "child due %s", child.Time)
	})

	t.Run("unknown zone falls back to utc", func(t *testing.T) {
		svc, repo := setupRecurrence(t, false)
		parent := createParent(t, repo, "academy-1", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "Mars/Olympus_Mons")

		child, err := svc.AddNext(ctx, parent, &model.PaymentResponse{})
		require.NoError(t, err)
		require.NotNil(t, child)
		assert.True(t, child.Time.Equal(time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("held slot lock reports busy", func(t *testing.T) {
		repo := repository.NewTransactionRepository(testutil.SetupTestDB(t, repository.Entities()...))
		mr, adapter := testutil.SetupTestRedis(t)
		svc := NewRecurrenceService(repo, adapter, time.Second)
		parent := createParent(t, repo, "academy-1", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "UTC")

		require.NoError(t, mr.Set("slot:academy-1:2025-01-08", "other-worker"))
		_, err := svc.AddNext(ctx, parent, &model.PaymentResponse{})
		assert.ErrorIs(t, err, ErrSlotBusy)

		mr.Del("slot:academy-1:2025-01-08")
		child, err := svc.AddNext(ctx, parent, &model.PaymentResponse{})
		require.NoError(t, err)
		assert.NotNil(t, child)
		assert.False(t, mr.Exists("slot:academy-1:2025-01-08"))
	})

	t.Run("missing recurrence is an error", func(t *testing.T) {
		svc, _ := setupRecurrence(t, false)
		_, err := svc.AddNext(ctx, &model.Transaction{ID: "txn-1"}, &model.PaymentResponse{})
		assert.Error(t, err)
	})
}
