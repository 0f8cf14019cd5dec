// Package mirror keeps a document copy of every dispatched transaction in
// MongoDB. Writes are best effort next to the primary store; nothing here is
// read back on the payment path.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nimasrn/billing-engine/internal/model"
	"github.com/nimasrn/billing-engine/pkg/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrNotFound = errors.New("mirror document not found")

var settledStatuses = []string{
	string(model.TransactionStatusCompleted),
	string(model.TransactionStatusFailed),
}

// Connect opens a client and pings it until it answers or maxWait elapses.
func Connect(ctx context.Context, uri string, maxWait time.Duration) (*mongo.Client, error) {
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxWait
	ping := func() error {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pctx, nil)
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("mongo not ready, retrying", "error", err, "next", next)
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(policy, ctx), notify); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}
	logger.Info("mongo connected")
	return client, nil
}

type Store struct {
	coll *mongo.Collection
}

func NewStore(coll *mongo.Collection) *Store {
	return &Store{coll: coll}
}

// Upsert writes the whole transaction except its attempt log, which is only
// initialised on insert so a redispatch never drops recorded attempts. A
// document already settled by ApplyOutcome is left as is.
func (s *Store) Upsert(ctx context.Context, txn *model.Transaction) error {
	doc := toDocument(txn)
	attempts := doc.PaymentAttempts
	if attempts == nil {
		attempts = []attemptDocument{}
	}

	set, err := toSetFields(doc)
	if err != nil {
		return err
	}
	set["updatedAt"] = time.Now().UTC()

	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"paymentAttempts": attempts, "createdAt": time.Now().UTC()},
	}
	filter := bson.M{"_id": txn.ID, "status": bson.M{"$nin": settledStatuses}}
	_, err = s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		logger.Debug("mirror document already settled, keeping it", "transaction_id", txn.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mirror upsert %s: %w", txn.ID, err)
	}
	return nil
}

// ApplyOutcome pushes the attempt and, when outcome is set, records the
// terminal status in the same document update. The document is created if
// the dispatch-time Upsert has not landed yet.
func (s *Store) ApplyOutcome(ctx context.Context, id string, attempt model.PaymentAttempt, outcome *model.Outcome) error {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if outcome != nil {
		set["status"] = string(outcome.Status)
		switch outcome.Status {
		case model.TransactionStatusCompleted:
			set["completed"] = outcome.At
		case model.TransactionStatusFailed:
			set["failed"] = outcome.At
		}
	}

	update := bson.M{
		"$push":        bson.M{"paymentAttempts": toAttemptDocument(attempt)},
		"$set":         set,
		"$setOnInsert": bson.M{"createdAt": time.Now().UTC()},
	}
	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mirror update %s: %w", id, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*model.Transaction, error) {
	var doc transactionDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toModel(), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, nil)
}

func toSetFields(doc *transactionDocument) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode mirror document: %w", err)
	}
	var fields bson.M
	if err := bson.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode mirror document: %w", err)
	}
	delete(fields, "_id")
	delete(fields, "paymentAttempts")
	delete(fields, "createdAt")
	return fields, nil
}
