package processor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nimasrn/billing-engine/internal/model"
	"github.com/nimasrn/billing-engine/pkg/logger"
	"github.com/nimasrn/billing-engine/pkg/prom"
	"golang.org/x/sync/errgroup"
)

// OutcomeStore records an attempt and, when outcome is set, the terminal
// status with it in one update.
type OutcomeStore interface {
	ApplyOutcome(ctx context.Context, id string, attempt model.PaymentAttempt, outcome *model.Outcome) error
}

// StatusResolver classifies a gateway answer and writes the audit attempt
// plus the resulting status to the primary store and the mirror.
type StatusResolver struct {
	primary           OutcomeStore
	mirror            OutcomeStore
	retryCodes        map[string]time.Duration
	defaultVisibility time.Duration
	now               func() time.Time
}

// NewStatusResolver takes the return codes that ask for a retry, each with
// its own visibility timeout (zero means use defaultVisibility).
func NewStatusResolver(primary, mirror OutcomeStore, retryCodes map[string]time.Duration, defaultVisibility time.Duration) *StatusResolver {
	if retryCodes == nil {
		retryCodes = map[string]time.Duration{}
	}
	return &StatusResolver{
		primary:           primary,
		mirror:            mirror,
		retryCodes:        retryCodes,
		defaultVisibility: defaultVisibility,
		now:               time.Now,
	}
}

// Resolve returns the terminal status, or a *RetryError when the gateway
// answer should be tried again later. The attempt is stored in both cases.
func (r *StatusResolver) Resolve(ctx context.Context, id string, resp *model.PaymentResponse) (model.TransactionStatus, error) {
	now := r.now().UTC()
	success := resp.Succeeded()
	attempt := NewAttempt(resp, success, now)

	if visibility, retry := r.classify(resp); retry {
		if err := r.write(ctx, id, attempt, nil); err != nil {
			return "", err
		}
		prom.IncPayment("retry")
		logger.Warn("payment will be retried", "transaction_id", id, "return_code", resp.ReturnCode, "http_status", resp.HttpStatus, "visibility", visibility)
		return "", &RetryError{
			Reason:            fmt.Sprintf("gateway answered %s (http %d)", resp.ReturnCode, resp.HttpStatus),
			VisibilityTimeout: visibility,
		}
	}

	status := model.TransactionStatusFailed
	if success {
		status = model.TransactionStatusCompleted
	}
	if err := r.write(ctx, id, attempt, &model.Outcome{Status: status, At: now}); err != nil {
		return "", err
	}
	prom.IncPayment(string(status))
	logger.Info("payment resolved", "transaction_id", id, "status", status, "return_code", resp.ReturnCode)
	return status, nil
}

// classify reports whether resp is retriable and for how long to hide the
// message. A table entry wins over the configured default, then 12h.
// Synthesized responses carry a placeholder HTTP status, so only the table
// decides for them.
func (r *StatusResolver) classify(resp *model.PaymentResponse) (time.Duration, bool) {
	hint, inTable := r.retryCodes[resp.ReturnCode]
	httpRetry := !resp.Synthesized() && resp.HttpStatus >= http.StatusBadRequest
	if !inTable && !httpRetry {
		return 0, false
	}
	if hint > 0 {
		return hint, true
	}
	if r.defaultVisibility > 0 {
		return r.defaultVisibility, true
	}
	return FallbackRetryVisibility, true
}

// write applies the update to both stores concurrently. Only a primary
// failure is returned; the mirror is best effort.
func (r *StatusResolver) write(ctx context.Context, id string, attempt model.PaymentAttempt, outcome *model.Outcome) error {
	var g errgroup.Group
	g.Go(func() error {
		if err := r.primary.ApplyOutcome(ctx, id, attempt, outcome); err != nil {
			return fmt.Errorf("primary store update %s: %w", id, err)
		}
		return nil
	})
	if r.mirror != nil {
		g.Go(func() error {
			if err := r.mirror.ApplyOutcome(ctx, id, attempt, outcome); err != nil {
				logger.Error("mirror update failed", "transaction_id", id, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func NewAttempt(resp *model.PaymentResponse, success bool, at time.Time) model.PaymentAttempt {
	return model.PaymentAttempt{
		Time:          at,
		Success:       success,
		Message:       resp.Message,
		Status:        resp.Status,
		RefNo:         resp.RefNo,
		Amount:        string(resp.Amount),
		RecurringData: resp.RecurringData,
		InvoiceNo:     resp.InvoiceNo,
		ReturnCode:    resp.ReturnCode,
		TranCode:      model.TranCodeSale,
		Authorized:    string(resp.Authorized),
	}
}
