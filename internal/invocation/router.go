// Package invocation routes an incoming event, either a direct command or a
// queue batch, to the component that handles it.
package invocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/nimasrn/billing-engine/internal/processor"
	"github.com/nimasrn/billing-engine/internal/queue"
	"github.com/nimasrn/billing-engine/internal/services"
	"github.com/nimasrn/billing-engine/pkg/budget"
	"github.com/nimasrn/billing-engine/pkg/logger"
)

const (
	TypeCreateChildTransaction = "create-child-transaction"
	TypeUpdateChildTransaction = "update-child-transaction"
)

var ErrUnsupportedEvent = errors.New("unsupported event type")

type FetchRunner interface {
	Run(ctx context.Context, b budget.Budget) services.FetchStats
}

type BatchProcessor interface {
	ProcessBatch(ctx context.Context, msgs []*queue.Message, b budget.Budget) processor.BatchResult
}

// Event is the union of a direct command and a queue batch.
type Event struct {
	Type    string              `json:"type"`
	Records []events.SQSMessage `json:"Records"`
}

// Response is either a command result or the partial batch failure report.
type Response struct {
	StatusCode        int                          `json:"statusCode,omitempty"`
	Body              string                       `json:"body,omitempty"`
	BatchItemFailures []events.SQSBatchItemFailure `json:"batchItemFailures,omitempty"`
}

type Router struct {
	fetcher  FetchRunner
	consumer BatchProcessor
	fallback time.Duration
}

// NewRouter uses fallback as the budget when the context has no deadline.
func NewRouter(fetcher FetchRunner, consumer BatchProcessor, fallback time.Duration) *Router {
	if fallback <= 0 {
		fallback = 5 * time.Minute
	}
	return &Router{fetcher: fetcher, consumer: consumer, fallback: fallback}
}

func (r *Router) Handle(ctx context.Context, raw json.RawMessage) (*Response, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	kind := EventType(ev)
	b := budget.FromContext(ctx, r.fallback)
	logger.Info("event received", "type", kind, "records", len(ev.Records), "remaining", b.Remaining())

	switch kind {
	case queue.TypeFetchTransactions:
		stats := r.fetcher.Run(ctx, b)
		body, err := json.Marshal(stats)
		if err != nil {
			return nil, err
		}
		return &Response{StatusCode: http.StatusOK, Body: string(body)}, nil

	case queue.TypeProcessTransactions:
		res := r.consumer.ProcessBatch(ctx, ToMessages(ev.Records), b)
		out := &Response{BatchItemFailures: make([]events.SQSBatchItemFailure, 0, len(res.BatchItemFailures))}
		for _, f := range res.BatchItemFailures {
			out.BatchItemFailures = append(out.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: f.ItemIdentifier})
		}
		return out, nil

	case TypeCreateChildTransaction, TypeUpdateChildTransaction:
		logger.Info("event acknowledged without work", "type", kind)
		return &Response{StatusCode: http.StatusOK, Body: `{"message":"ignored"}`}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, kind)
	}
}

// EventType is the explicit type, or for a batch the type attribute of its
// first record, defaulting to process-transactions.
func EventType(ev Event) string {
	if ev.Type != "" {
		return ev.Type
	}
	if len(ev.Records) == 0 {
		return ""
	}
	attrs := ev.Records[0].MessageAttributes
	for _, key := range []string{queue.AttributeType, "type"} {
		if a, ok := attrs[key]; ok && a.StringValue != nil && *a.StringValue != "" {
			return *a.StringValue
		}
	}
	return queue.TypeProcessTransactions
}

func ToMessages(records []events.SQSMessage) []*queue.Message {
	msgs := make([]*queue.Message, 0, len(records))
	for _, rec := range records {
		m := &queue.Message{
			ID:            rec.MessageId,
			ReceiptHandle: rec.ReceiptHandle,
			Body:          []byte(rec.Body),
			Attributes:    make(map[string]string, len(rec.MessageAttributes)),
		}
		for k, v := range rec.MessageAttributes {
			if v.StringValue != nil {
				m.Attributes[k] = *v.StringValue
			}
		}
		if n, err := strconv.Atoi(rec.Attributes["ApproximateReceiveCount"]); err == nil {
			m.Attempts = n
		}
		if ms, err := strconv.ParseInt(rec.Attributes["SentTimestamp"], 10, 64); err == nil {
			m.SentAt = time.UnixMilli(ms)
		}
		msgs = append(msgs, m)
	}
	return msgs
}
