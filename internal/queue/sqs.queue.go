package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/nimasrn/billing-engine/pkg/logger"
)

// MaxSQSVisibility is the largest visibility timeout SQS accepts.
const MaxSQSVisibility = 12 * time.Hour

type SQSConfig struct {
	QueueURL string
	Region   string
	// Endpoint overrides the service endpoint, e.g. for a local emulator.
	Endpoint string
}

type SQSQueue struct {
	api sqsiface.SQSAPI
	url string
}

func NewSQSQueue(cfg SQSConfig) (*SQSQueue, error) {
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}
	return NewSQSQueueWithAPI(sqs.New(sess), cfg.QueueURL), nil
}

func NewSQSQueueWithAPI(api sqsiface.SQSAPI, url string) *SQSQueue {
	return &SQSQueue{api: api, url: url}
}

func (q *SQSQueue) Send(ctx context.Context, in SendInput) (string, error) {
	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(q.url),
		MessageBody:       aws.String(string(in.Body)),
		MessageAttributes: make(map[string]*sqs.MessageAttributeValue, len(in.Attributes)),
	}
	for k, v := range in.Attributes {
		input.MessageAttributes[k] = &sqs.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}
	if in.GroupID != "" {
		input.MessageGroupId = aws.String(in.GroupID)
	}
	if in.DeduplicationID != "" {
		input.MessageDeduplicationId = aws.String(in.DeduplicationID)
	}

	out, err := q.api.SendMessageWithContext(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return aws.StringValue(out.MessageId), nil
}

func (q *SQSQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]*Message, error) {
	if max <= 0 || max > 10 {
		max = 10
	}
	out, err := q.api.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.url),
		MaxNumberOfMessages:   aws.Int64(int64(max)),
		WaitTimeSeconds:       aws.Int64(int64(wait / time.Second)),
		MessageAttributeNames: aws.StringSlice([]string{"All"}),
		AttributeNames: aws.StringSlice([]string{
			sqs.MessageSystemAttributeNameApproximateReceiveCount,
			sqs.MessageSystemAttributeNameSentTimestamp,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	messages := make([]*Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, fromSQSMessage(m))
	}
	return messages, nil
}

// Delete removes the delivery. An invalid or expired receipt is reported as
// ErrReceiptInvalid so callers can treat it as already gone.
func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.api.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if isReceiptInvalid(err) {
		logger.Warn("delete skipped, receipt handle is no longer valid", "queue", q.url)
		return ErrReceiptInvalid
	}
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// ChangeVisibility clamps timeout to the SQS limit of 12 hours.
func (q *SQSQueue) ChangeVisibility(ctx context.Context, receiptHandle string, timeout time.Duration) error {
	if timeout > MaxSQSVisibility {
		timeout = MaxSQSVisibility
	}
	if timeout < 0 {
		timeout = 0
	}
	_, err := q.api.ChangeMessageVisibilityWithContext(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.url),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: aws.Int64(int64(timeout / time.Second)),
	})
	if isReceiptInvalid(err) {
		return ErrReceiptInvalid
	}
	if err != nil {
		return fmt.Errorf("failed to change message visibility: %w", err)
	}
	return nil
}

func (q *SQSQueue) GetStats() (*Stats, error) {
	out, err := q.api.GetQueueAttributes(&sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(q.url),
		AttributeNames: aws.StringSlice([]string{
			sqs.QueueAttributeNameApproximateNumberOfMessages,
			sqs.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		}),
	})
	if err != nil {
		return nil, err
	}
	visible, _ := strconv.ParseInt(aws.StringValue(out.Attributes[sqs.QueueAttributeNameApproximateNumberOfMessages]), 10, 64)
	inFlight, _ := strconv.ParseInt(aws.StringValue(out.Attributes[sqs.QueueAttributeNameApproximateNumberOfMessagesNotVisible]), 10, 64)
	return &Stats{TotalMessages: visible + inFlight, PendingMessages: inFlight}, nil
}

func fromSQSMessage(m *sqs.Message) *Message {
	msg := &Message{
		ID:            aws.StringValue(m.MessageId),
		ReceiptHandle: aws.StringValue(m.ReceiptHandle),
		Body:          []byte(aws.StringValue(m.Body)),
		Attributes:    make(map[string]string, len(m.MessageAttributes)),
	}
	for k, v := range m.MessageAttributes {
		msg.Attributes[k] = aws.StringValue(v.StringValue)
	}
	if n, err := strconv.Atoi(aws.StringValue(m.Attributes[sqs.MessageSystemAttributeNameApproximateReceiveCount])); err == nil {
		msg.Attempts = n
	}
	if ms, err := strconv.ParseInt(aws.StringValue(m.Attributes[sqs.MessageSystemAttributeNameSentTimestamp]), 10, 64); err == nil {
		msg.SentAt = time.UnixMilli(ms)
	}
	return msg
}

func isReceiptInvalid(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		return aerr.Code() == sqs.ErrCodeReceiptHandleIsInvalid
	}
	return false
}
