package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nimasrn/billing-engine/internal/model"
)

const DefaultGroupID = "BJJ-TRANSACTIONS-GROUP"

// transactionSnapshot is the queued body: the transaction as dispatched plus
// the send time in unix milliseconds.
type transactionSnapshot struct {
	*model.Transaction
	SendTime int64 `json:"sendTime"`
}

// Publisher enqueues transactions for the payment consumer.
type Publisher struct {
	client  Client
	groupID string
	now     func() time.Time
}

func NewPublisher(client Client, groupID string) *Publisher {
	if groupID == "" {
		groupID = DefaultGroupID
	}
	return &Publisher{client: client, groupID: groupID, now: time.Now}
}

func (p *Publisher) PublishTransaction(ctx context.Context, txn *model.Transaction) (string, error) {
	now := p.now()
	body, err := json.Marshal(transactionSnapshot{Transaction: txn, SendTime: now.UnixMilli()})
	if err != nil {
		return "", fmt.Errorf("encode transaction %s: %w", txn.ID, err)
	}

	return p.client.Send(ctx, SendInput{
		Body:            body,
		Attributes:      map[string]string{AttributeType: TypeProcessTransactions},
		GroupID:         p.groupID,
		DeduplicationID: DeduplicationID(txn.ID, now),
	})
}

// DeduplicationID derives the FIFO dedup id from the transaction id, or from
// the current time when the transaction has none.
func DeduplicationID(transactionID string, now time.Time) string {
	if transactionID == "" {
		return strconv.FormatInt(now.UnixMilli(), 10) + "-id"
	}
	return transactionID + "-id"
}
