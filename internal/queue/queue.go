package queue

import (
	"context"
	"errors"
	"time"
)

const (
	AttributeType = "Type"

	TypeFetchTransactions   = "fetch-transactions"
	TypeProcessTransactions = "process-transactions"
)

var ErrReceiptInvalid = errors.New("receipt handle is invalid")

// Message is one delivery of a queued body. ReceiptHandle identifies the
// delivery and is what Delete and ChangeVisibility act on.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          []byte
	Attributes    map[string]string
	Attempts      int
	SentAt        time.Time
}

type SendInput struct {
	Body            []byte
	Attributes      map[string]string
	GroupID         string
	DeduplicationID string
}

// Client is an at-least-once queue with per-delivery visibility timeouts.
type Client interface {
	Send(ctx context.Context, in SendInput) (string, error)
	Receive(ctx context.Context, max int, wait time.Duration) ([]*Message, error)
	Delete(ctx context.Context, receiptHandle string) error
	ChangeVisibility(ctx context.Context, receiptHandle string, timeout time.Duration) error
}

type Stats struct {
	TotalMessages   int64
	PendingMessages int64
	ConsumerCount   int64
}

// StatsReporter is implemented by backends that can report their depth.
type StatsReporter interface {
	GetStats() (*Stats, error)
}
