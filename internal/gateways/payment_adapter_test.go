package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nimasrn/billing-engine/internal/fixtures"
	"github.com/nimasrn/billing-engine/internal/model"
	"github.com/nimasrn/billing-engine/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCredentialStore struct {
	mock.Mock
}

func (m *MockCredentialStore) GetByTenant(ctx context.Context, tenant string) (*model.Credential, error) {
	args := m.Called(ctx, tenant)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Credential), args.Error(1)
}

type MockSaleClient struct {
	mock.Mock
}

func (m *MockSaleClient) Sale(ctx context.Context, cred *model.Credential, req SaleRequest) (*model.PaymentResponse, error) {
	args := m.Called(ctx, cred, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentResponse), args.Error(1)
}

func chargeable() *model.Transaction {
	txn := fixtures.NewRecurringTransaction("academy-1", time.Now(), model.IntervalMonthly)
	txn.ID = "txn-1"
	txn.Recurrence.TotalAmount = decimal.RequireFromString("49.9")
	return txn
}

func TestPaymentAdapter_Charge(t *testing.T) {
	ctx := context.Background()

	t.Run("missing credentials synthesizes a failure without calling the gateway", func(t *testing.T) {
		store := new(MockCredentialStore)
		client := new(MockSaleClient)
		store.On("GetByTenant", ctx, "academy-1").Return(nil, repository.ErrNotFound)

		txn := chargeable()
		resp, err := NewPaymentAdapter(store, client).Charge(ctx, txn)
		require.NoError(t, err)

		assert.Equal(t, OriginSystem, resp.ResponseOrigin)
		assert.Equal(t, "1001", resp.ReturnCode)
		assert.Equal(t, "no-initiated", resp.Status)
		assert.Equal(t, "Credentials not found", resp.Message)
		assert.Equal(t, 500, resp.HttpStatus)
		assert.Equal(t, model.FlexString("49.90"), resp.Amount)
		assert.Equal(t, model.FlexString("false"), resp.Authorized)
		assert.Equal(t, txn.Recurrence.Token, resp.Token)
		assert.Equal(t, txn.Recurrence.RecurringData, resp.RecurringData)
		assert.Equal(t, "txn-1", resp.InvoiceNo)
		assert.False(t, resp.Succeeded())
		client.AssertNotCalled(t, "Sale", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("lookup errors are returned", func(t *testing.T) {
		store := new(MockCredentialStore)
		client := new(MockSaleClient)
		store.On("GetByTenant", ctx, "academy-1").Return(nil, errors.New("db down"))

		_, err := NewPaymentAdapter(store, client).Charge(ctx, chargeable())
		assert.Error(t, err)
		client.AssertNotCalled(t, "Sale", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("sends the recurrence with tenant credentials", func(t *testing.T) {
		store := new(MockCredentialStore)
		client := new(MockSaleClient)
		cred := &model.Credential{ManagedAcademy: "academy-1", MID: "mid", APIPrivateKey: "key"}
		store.On("GetByTenant", ctx, "academy-1").Return(cred, nil)

		txn := chargeable()
		want := SaleRequest{
			Token:         txn.Recurrence.Token,
			Amount:        "49.90",
			InvoiceNo:     "txn-1",
			RefNo:         "txn-1",
			RecurringData: txn.Recurrence.RecurringData,
		}
		approved := &model.PaymentResponse{Status: model.PaymentStatusApproved, HttpStatus: 200}
		client.On("Sale", ctx, cred, want).Return(approved, nil)

		resp, err := NewPaymentAdapter(store, client).Charge(ctx, txn)
		require.NoError(t, err)
		assert.Same(t, approved, resp)
		client.AssertExpectations(t)
	})

	t.Run("transaction without recurrence", func(t *testing.T) {
		txn := chargeable()
		txn.Recurrence = nil
		_, err := NewPaymentAdapter(new(MockCredentialStore), new(MockSaleClient)).Charge(ctx, txn)
		assert.ErrorIs(t, err, ErrNoRecurrence)
	})
}
