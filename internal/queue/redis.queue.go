package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nimasrn/billing-engine/pkg/logger"
	"github.com/nimasrn/billing-engine/pkg/redis"
)

const dedupWindow = 5 * time.Minute

type RedisConfig struct {
	Name              string
	ConsumerGroup     string
	ConsumerName      string
	MaxRetries        int
	VisibilityTimeout time.Duration
	MaxLen            int64
	EnableDLQ         bool
}

// RedisQueue is a Client over a Redis stream and consumer group. Unacked
// entries become visible again once they have been idle for the visibility
// timeout, or once the deadline set by ChangeVisibility has passed.
type RedisQueue struct {
	adapter redis.RedisAdapter
	config  RedisConfig
	now     func() time.Time
}

func NewRedisQueue(adapter redis.RedisAdapter, config RedisConfig) (*RedisQueue, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "default-group"
	}
	if config.ConsumerName == "" {
		config.ConsumerName = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.VisibilityTimeout == 0 {
		config.VisibilityTimeout = 30 * time.Second
	}

	q := &RedisQueue{adapter: adapter, config: config, now: time.Now}
	if err := adapter.XGroupCreateMkStream(config.Name, config.ConsumerGroup, "0"); err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}
	return q, nil
}

// WithConsumer returns a handle on the same stream and group reading as a
// different consumer.
func (q *RedisQueue) WithConsumer(name string) *RedisQueue {
	cp := *q
	cp.config.ConsumerName = name
	return &cp
}

func (q *RedisQueue) Send(ctx context.Context, in SendInput) (string, error) {
	if in.DeduplicationID != "" {
		key := q.dedupKey(in.DeduplicationID)
		if prev, err := q.adapter.Get(key); err == nil && len(prev) > 0 {
			logger.Debug("duplicate send suppressed", "queue", q.config.Name, "dedup_id", in.DeduplicationID)
			return string(prev), nil
		}
	}

	values := map[string]interface{}{
		"data":      string(in.Body),
		"timestamp": q.now().UTC().Format(time.RFC3339Nano),
	}
	if in.GroupID != "" {
		values["group"] = in.GroupID
	}
	for k, v := range in.Attributes {
		values["meta_"+k] = v
	}

	id, err := q.adapter.XAdd(q.config.Name, values)
	if err != nil {
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	if in.DeduplicationID != "" {
		if err := q.adapter.Set(q.dedupKey(in.DeduplicationID), []byte(id), dedupWindow); err != nil {
			logger.Warn("failed to record dedup id", "queue", q.config.Name, "error", err)
		}
	}
	if q.config.MaxLen > 0 {
		_ = q.adapter.XTrimApprox(q.config.Name, q.config.MaxLen)
	}
	return id, nil
}

// Receive returns reclaimed entries first, then new ones. Entries delivered
// more than MaxRetries times go to the dead-letter stream instead.
func (q *RedisQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]*Message, error) {
	if max <= 0 {
		max = 1
	}
	messages := q.reclaim(max)

	if remaining := max - len(messages); remaining > 0 {
		block := wait
		if len(messages) > 0 {
			block = 0
		}
		fresh, err := q.adapter.XReadGroup(q.config.ConsumerGroup, q.config.ConsumerName, q.config.Name, ">", int64(remaining), block)
		if err != nil && !errors.Is(err, redis.NilError) {
			if len(messages) > 0 {
				logger.Warn("failed to read new entries", "queue", q.config.Name, "error", err)
				return messages, nil
			}
			return nil, fmt.Errorf("failed to read from stream: %w", err)
		}
		for _, sm := range fresh {
			msg := q.streamMessageToMessage(sm)
			msg.Attempts = 1
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

const pendingPageSize = 100

// reclaim pages through the pending list until max visible entries are found
// or the list is exhausted.
func (q *RedisQueue) reclaim(max int) []*Message {
	retries := make(map[string]int64)
	var ids []string
	start := "-"
	for len(ids) < max {
		pending, err := q.adapter.XPendingExt(q.config.Name, q.config.ConsumerGroup, start, "+", pendingPageSize)
		if err != nil {
			logger.Warn("failed to list pending entries", "queue", q.config.Name, "error", err)
			break
		}
		for _, p := range pending {
			if len(ids) >= max {
				break
			}
			if !q.visible(p.ID, p.Idle) {
				continue
			}
			ids = append(ids, p.ID)
			retries[p.ID] = p.RetryCount
		}
		if len(pending) < pendingPageSize {
			break
		}
		next, ok := nextStreamID(pending[len(pending)-1].ID)
		if !ok {
			break
		}
		start = next
	}
	if len(ids) == 0 {
		return nil
	}

	claimed, err := q.adapter.XClaim(q.config.Name, q.config.ConsumerGroup, q.config.ConsumerName, 0, ids...)
	if err != nil {
		logger.Warn("failed to claim pending entries", "queue", q.config.Name, "error", err)
		return nil
	}

	var out []*Message
	for _, sm := range claimed {
		msg := q.streamMessageToMessage(sm)
		msg.Attempts = int(retries[sm.ID]) + 1
		_ = q.adapter.Del(q.visibilityKey(sm.ID))
		if msg.Attempts > q.config.MaxRetries {
			q.moveToDeadLetterQueue(msg)
			_ = q.ack(msg.ID)
			continue
		}
		out = append(out, msg)
	}
	return out
}

// nextStreamID returns the smallest stream id greater than id.
func nextStreamID(id string) (string, bool) {
	ms, seq, found := strings.Cut(id, "-")
	if !found {
		return "", false
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return "", false
	}
	if n == ^uint64(0) {
		m, err := strconv.ParseUint(ms, 10, 64)
		if err != nil {
			return "", false
		}
		return strconv.FormatUint(m+1, 10) + "-0", true
	}
	return ms + "-" + strconv.FormatUint(n+1, 10), true
}

func (q *RedisQueue) visible(id string, idle time.Duration) bool {
	raw, err := q.adapter.Get(q.visibilityKey(id))
	if err == nil && len(raw) > 0 {
		deadline, perr := strconv.ParseInt(string(raw), 10, 64)
		if perr == nil {
			return !q.now().Before(time.UnixMilli(deadline))
		}
	}
	return idle >= q.config.VisibilityTimeout
}

func (q *RedisQueue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return ErrReceiptInvalid
	}
	if err := q.ack(receiptHandle); err != nil {
		return err
	}
	_ = q.adapter.Del(q.visibilityKey(receiptHandle))
	return nil
}

// ChangeVisibility hides the entry until now+timeout. A zero timeout makes it
// visible on the next Receive.
func (q *RedisQueue) ChangeVisibility(ctx context.Context, receiptHandle string, timeout time.Duration) error {
	if receiptHandle == "" {
		return ErrReceiptInvalid
	}
	deadline := q.now().Add(timeout).UnixMilli()
	return q.adapter.Set(q.visibilityKey(receiptHandle), []byte(strconv.FormatInt(deadline, 10)), timeout+q.config.VisibilityTimeout)
}

func (q *RedisQueue) ack(id string) error {
	if err := q.adapter.XAck(q.config.Name, q.config.ConsumerGroup, id); err != nil {
		return err
	}
	return q.adapter.XDel(q.config.Name, id)
}

func (q *RedisQueue) moveToDeadLetterQueue(msg *Message) {
	if !q.config.EnableDLQ {
		return
	}

	values := map[string]interface{}{
		"data":           string(msg.Body),
		"original_id":    msg.ID,
		"attempts":       msg.Attempts,
		"failed_at":      q.now().Unix(),
		"original_queue": q.config.Name,
	}
	for k, v := range msg.Attributes {
		values["meta_"+k] = v
	}

	if _, err := q.adapter.XAdd(q.DeadLetterName(), values); err != nil {
		logger.Error("failed to move message to dead letter queue", "queue", q.config.Name, "message_id", msg.ID, "error", err)
		return
	}
	logger.Warn("message moved to dead letter queue", "queue", q.config.Name, "message_id", msg.ID, "attempts", msg.Attempts)
}

func (q *RedisQueue) DeadLetterName() string {
	return q.config.Name + ":dlq"
}

func (q *RedisQueue) streamMessageToMessage(sm redis.StreamMessage) *Message {
	msg := &Message{
		ID:            sm.ID,
		ReceiptHandle: sm.ID,
		Attributes:    make(map[string]string),
	}

	for k, v := range sm.Values {
		val, _ := v.(string)
		switch {
		case k == "data":
			msg.Body = []byte(val)
		case k == "timestamp":
			if ts, err := time.Parse(time.RFC3339Nano, val); err == nil {
				msg.SentAt = ts
			}
		case strings.HasPrefix(k, "meta_"):
			msg.Attributes[k[5:]] = val
		}
	}
	return msg
}

func (q *RedisQueue) visibilityKey(id string) string {
	return q.config.Name + ":visibility:" + id
}

func (q *RedisQueue) dedupKey(id string) string {
	return q.config.Name + ":dedup:" + id
}

func (q *RedisQueue) GetStats() (*Stats, error) {
	total, err := q.adapter.XLen(q.config.Name)
	if err != nil {
		return nil, err
	}
	stats := &Stats{TotalMessages: total}

	if pending, err := q.adapter.XPending(q.config.Name, q.config.ConsumerGroup); err == nil && pending != nil {
		stats.PendingMessages = pending.Count
		stats.ConsumerCount = int64(len(pending.Consumers))
	}
	return stats, nil
}
