package processor

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/billing-engine/pkg/logger"
	"github.com/nimasrn/billing-engine/pkg/redis"
)

const chargeLockPrefix = "charge:"

// ChargeGuard keeps two deliveries of the same transaction from reaching the
// gateway at the same time. The status re-read catches settled transactions;
// the guard covers the window while a charge is still in flight.
type ChargeGuard struct {
	redis redis.RedisAdapter
	ttl   time.Duration
}

// NewChargeGuard returns nil when adapter is nil, and a nil guard lets every
// charge through.
func NewChargeGuard(adapter redis.RedisAdapter, ttl time.Duration) *ChargeGuard {
	if adapter == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &ChargeGuard{redis: adapter, ttl: ttl}
}

// Acquire returns a release func, or a *RetryError when another consumer is
// charging the same transaction.
func (g *ChargeGuard) Acquire(ctx context.Context, transactionID string) (func(), error) {
	if g == nil {
		return func() {}, nil
	}

	lock, err := redis.Acquire(g.redis, chargeLockPrefix+transactionID, g.ttl)
	if errors.Is(err, redis.ErrLockHeld) {
		logger.Info("charge already in flight", "transaction_id", transactionID)
		return nil, &RetryError{Reason: "charge in flight on another consumer", VisibilityTimeout: g.ttl, Err: err}
	}
	if err != nil {
		// unreachable redis degrades to no guard
		logger.Warn("charge guard unavailable", "transaction_id", transactionID, "error", err)
		return func() {}, nil
	}

	return func() {
		if err := lock.Release(); err != nil {
			logger.Warn("charge guard release failed", "transaction_id", transactionID, "error", err)
		}
	}, nil
}
