package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nimasrn/billing-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockOutcomeStore struct {
	mock.Mock
}

func (m *MockOutcomeStore) ApplyOutcome(ctx context.Context, id string, attempt model.PaymentAttempt, outcome *model.Outcome) error {
	args := m.Called(ctx, id, attempt, outcome)
	return args.Error(0)
}

var resolvedAt = time.Date(2025, 1, 1, 6, 0, 0, 0, time.UTC)

func newTestResolver(primary, mirror OutcomeStore, codes map[string]time.Duration, def time.Duration) *StatusResolver {
	r := NewStatusResolver(primary, mirror, codes, def)
	r.now = func() time.Time { return resolvedAt }
	return r
}

func outcomeWith(status model.TransactionStatus) interface{} {
	return mock.MatchedBy(func(o *model.Outcome) bool {
		return o != nil && o.Status == status && o.At.Equal(resolvedAt)
	})
}

func noOutcome() interface{} {
	return mock.MatchedBy(func(o *model.Outcome) bool { return o == nil })
}

func TestStatusResolver_Final(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		status string
		want   model.TransactionStatus
	}{
		{"approved completes", model.PaymentStatusApproved, model.TransactionStatusCompleted},
		{"success completes", model.PaymentStatusSuccess, model.TransactionStatusCompleted},
		{"decline fails", "Declined", model.TransactionStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary, mirror := new(MockOutcomeStore), new(MockOutcomeStore)
			resp := &model.PaymentResponse{Status: tt.status, ReturnCode: "000000", HttpStatus: 200, Amount: "10.00", RefNo: "r1"}

			attempt := mock.MatchedBy(func(a model.PaymentAttempt) bool {
				return a.TranCode == model.TranCodeSale && a.Status == tt.status && a.Amount == "10.00" &&
					a.Success == (tt.want == model.TransactionStatusCompleted) && a.Time.Equal(resolvedAt)
			})
			primary.On("ApplyOutcome", ctx, "txn-1", attempt, outcomeWith(tt.want)).Return(nil).Once()
			mirror.On("ApplyOutcome", ctx, "txn-1", attempt, outcomeWith(tt.want)).Return(nil).Once()

			status, err := newTestResolver(primary, mirror, nil, 0).Resolve(ctx, "txn-1", resp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
			primary.AssertExpectations(t)
			mirror.AssertExpectations(t)
		})
	}
}

func TestStatusResolver_Retry(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		codes   map[string]time.Duration
		def     time.Duration
		resp    *model.PaymentResponse
		wantVis time.Duration
	}{
		{
			name:    "table hint wins",
			codes:   map[string]time.Duration{"003007": 2 * time.Hour},
			def:     30 * time.Minute,
			resp:    &model.PaymentResponse{ReturnCode: "003007", Status: "Error", HttpStatus: 200},
			wantVis: 2 * time.Hour,
		},
		{
			name:    "table entry without hint uses the configured default",
			codes:   map[string]time.Duration{"003007": 0},
			def:     30 * time.Minute,
			resp:    &model.PaymentResponse{ReturnCode: "003007", Status: "Error", HttpStatus: 200},
			wantVis: 30 * time.Minute,
		},
		{
			name:    "http error falls back to twelve hours",
			resp:    &model.PaymentResponse{ReturnCode: "502", Status: "502", HttpStatus: 502},
			wantVis: 12 * time.Hour,
		},
		{
			name:    "missing credentials retry when the code is listed",
			codes:   map[string]time.Duration{"1001": 0},
			def:     time.Hour,
			resp:    &model.PaymentResponse{ResponseOrigin: model.ResponseOriginSystem, ReturnCode: "1001", Status: "no-initiated", HttpStatus: 500},
			wantVis: time.Hour,
		},
		{
			name:    "transport failure retries on its http status",
			resp:    &model.PaymentResponse{ResponseOrigin: model.ResponseOriginClient, ReturnCode: "502", Status: "502", HttpStatus: 502},
			def:     time.Hour,
			wantVis: time.Hour,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary, mirror := new(MockOutcomeStore), new(MockOutcomeStore)
			primary.On("ApplyOutcome", ctx, "txn-1", mock.Anything, noOutcome()).Return(nil).Once()
			mirror.On("ApplyOutcome", ctx, "txn-1", mock.Anything, noOutcome()).Return(nil).Once()

			status, err := newTestResolver(primary, mirror, tt.codes, tt.def).Resolve(ctx, "txn-1", tt.resp)
			assert.Empty(t, status)

			var re *RetryError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.wantVis, re.VisibilityTimeout)
			primary.AssertExpectations(t)
			mirror.AssertExpectations(t)
		})
	}
}

func TestStatusResolver_MissingCredentialsFailWithoutTableEntry(t *testing.T) {
	ctx := context.Background()
	primary, mirror := new(MockOutcomeStore), new(MockOutcomeStore)
	primary.On("ApplyOutcome", ctx, "txn-1", mock.Anything, outcomeWith(model.TransactionStatusFailed)).Return(nil).Once()
	mirror.On("ApplyOutcome", ctx, "txn-1", mock.Anything, outcomeWith(model.TransactionStatusFailed)).Return(nil).Once()

	resp := &model.PaymentResponse{ResponseOrigin: model.ResponseOriginSystem, ReturnCode: "1001", Status: "no-initiated", HttpStatus: 500}
	status, err := newTestResolver(primary, mirror, map[string]time.Duration{"003007": 0}, 0).Resolve(ctx, "txn-1", resp)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusFailed, status)
	primary.AssertExpectations(t)
}

func TestStatusResolver_StoreErrors(t *testing.T) {
	ctx := context.Background()
	resp := &model.PaymentResponse{Status: model.PaymentStatusApproved, HttpStatus: 200}

	t.Run("primary failure is returned", func(t *testing.T) {
		primary, mirror := new(MockOutcomeStore), new(MockOutcomeStore)
		primary.On("ApplyOutcome", ctx, "txn-1", mock.Anything, mock.Anything).Return(errors.New("db down"))
		mirror.On("ApplyOutcome", ctx, "txn-1", mock.Anything, mock.Anything).Return(nil)

		_, err := newTestResolver(primary, mirror, nil, 0).Resolve(ctx, "txn-1", resp)
		assert.Error(t, err)
		assert.False(t, IsRetry(err))
	})

	t.Run("mirror failure is only logged", func(t *testing.T) {
		primary, mirror := new(MockOutcomeStore), new(MockOutcomeStore)
		primary.On("ApplyOutcome", ctx, "txn-1", mock.Anything, mock.Anything).Return(nil)
		mirror.On("ApplyOutcome", ctx, "txn-1", mock.Anything, mock.Anything).Return(errors.New("mongo down"))

		status, err := newTestResolver(primary, mirror, nil, 0).Resolve(ctx, "txn-1", resp)
		require.NoError(t, err)
		assert.Equal(t, model.TransactionStatusCompleted, status)
	})
}

func TestVisibilityFor(t *testing.T) {
	assert.Equal(t, time.Hour, VisibilityFor(errors.New("plain"), time.Hour))
	assert.Equal(t, 2*time.Hour, VisibilityFor(Retry("x", 2*time.Hour), time.Hour))

	wrapped := errors.Join(errors.New("outer"), &RetryError{Reason: "inner", VisibilityTimeout: 5 * time.Minute})
	assert.Equal(t, 5*time.Minute, VisibilityFor(wrapped, time.Hour))
	assert.Equal(t, time.Hour, VisibilityFor(Retry("no hint", 0), time.Hour))
}
