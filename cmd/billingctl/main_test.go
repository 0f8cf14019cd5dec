package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/nimasrn/billing-engine/internal/mirror"
	"github.com/nimasrn/billing-engine/internal/model"
	"github.com/nimasrn/billing-engine/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type getterFunc func(ctx context.Context, id string) (*model.Transaction, error)

func (f getterFunc) Get(ctx context.Context, id string) (*model.Transaction, error) {
	return f(ctx, id)
}

func fixedGetter(txn *model.Transaction, err error) getterFunc {
	return func(context.Context, string) (*model.Transaction, error) { return txn, err }
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestNextDateCmd(t *testing.T) {
	out, err := run(t, "next-date", "2025-01-31", "--interval", "monthly", "-n", "3", "--zone", "UTC")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-03\n2025-04-03\n2025-05-03\n", out)

	out, err = run(t, "next-date", "2025-01-01", "-i", "weekly")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-08\n", out)

	_, err = run(t, "next-date", "01/31/2025")
	assert.Error(t, err)

	_, err = run(t, "next-date", "2025-01-31", "--zone", "Mars/Olympus")
	assert.Error(t, err)
}

func TestMigrateCmdRejectsUnknownCommand(t *testing.T) {
	_, err := run(t, "migrate", "sideways")
	assert.Error(t, err)
}

func TestInspectTransaction(t *testing.T) {
	ctx := context.Background()
	completed := &model.Transaction{
		ID:              "txn-1",
		Status:          model.TransactionStatusCompleted,
		PaymentAttempts: []model.PaymentAttempt{{Success: true}},
	}

	t.Run("mirror in sync", func(t *testing.T) {
		mirrored := *completed
		res, err := inspectTransaction(ctx, fixedGetter(completed, nil), fixedGetter(&mirrored, nil), "txn-1")
		require.NoError(t, err)
		assert.True(t, res.InSync)
	})

	t.Run("mirror behind primary", func(t *testing.T) {
		stale := &model.Transaction{ID: "txn-1", Status: model.TransactionStatusInProgress}
		res, err := inspectTransaction(ctx, fixedGetter(completed, nil), fixedGetter(stale, nil), "txn-1")
		require.NoError(t, err)
		assert.False(t, res.InSync)
		assert.Equal(t, model.TransactionStatusInProgress, res.Mirror.Status)
	})

	t.Run("missing mirror document", func(t *testing.T) {
		res, err := inspectTransaction(ctx, fixedGetter(completed, nil), fixedGetter(nil, mirror.ErrNotFound), "txn-1")
		require.NoError(t, err)
		assert.Nil(t, res.Mirror)
		assert.False(t, res.InSync)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		_, err := inspectTransaction(ctx, fixedGetter(nil, repository.ErrNotFound), fixedGetter(nil, mirror.ErrNotFound), "nope")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}
