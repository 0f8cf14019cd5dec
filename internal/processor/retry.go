package processor

import (
	"errors"
	"fmt"
	"time"
)

const (
	// NotFoundVisibility delays redelivery when the primary store has no row
	// for a queued transaction yet.
	NotFoundVisibility = time.Hour

	// FallbackRetryVisibility applies to gateway retries when neither the retry
	// table nor the configuration names a timeout.
	FallbackRetryVisibility = 12 * time.Hour
)

// RetryError asks the consumer to leave the message on the queue and hide it
// for VisibilityTimeout before the next delivery.
type RetryError struct {
	Reason            string
	VisibilityTimeout time.Duration
	Err               error
}

func (e *RetryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("retry in %s: %s: %v", e.VisibilityTimeout, e.Reason, e.Err)
	}
	return fmt.Sprintf("retry in %s: %s", e.VisibilityTimeout, e.Reason)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

func Retry(reason string, visibility time.Duration) *RetryError {
	return &RetryError{Reason: reason, VisibilityTimeout: visibility}
}

// VisibilityFor returns the timeout hinted by err, or fallback when err
// carries none.
func VisibilityFor(err error, fallback time.Duration) time.Duration {
	var re *RetryError
	if errors.As(err, &re) && re.VisibilityTimeout > 0 {
		return re.VisibilityTimeout
	}
	return fallback
}

// IsRetry reports whether err asks for a redelivery.
func IsRetry(err error) bool {
	var re *RetryError
	return errors.As(err, &re)
}
