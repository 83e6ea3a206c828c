package mqueue

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/moltlabs/molt/pkg/mlog"
)

const (
	// receiveWait is the long poll duration in seconds.
	receiveWait = 20

	// visibilityTimeout in seconds must outlast one submission phase,
	// or a slow batch gets redelivered while still in flight.
	visibilityTimeout = 900

	// errorSleep backs off after a failed receive.
	errorSleep = 5 * time.Second
)

// SQSQueue delivers tasks through an SQS queue. A handler error leaves
// the message to reappear after the visibility timeout; only success
// and ErrDrop delete it.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
	log      *mlog.Logger
}

// NewSQSQueue creates a queue client for the given queue URL.
func NewSQSQueue(cfg aws.Config, queueURL string, log *mlog.Logger) *SQSQueue {
	if log == nil {
		log = mlog.NewDefault()
	}
	return &SQSQueue{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
		log:      log,
	}
}

// Enqueue sends one task payload.
func (q *SQSQueue) Enqueue(ctx context.Context, body []byte) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	return err
}

// Consume long-polls the queue and feeds messages to h until ctx is
// cancelled. One message is processed at a time.
func (q *SQSQueue) Consume(ctx context.Context, h Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		recvCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		resp, err := q.client.ReceiveMessage(recvCtx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     receiveWait,
			VisibilityTimeout:   visibilityTimeout,
		})
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.log.Warn("receive failed", "error", err)
			sleepCtx(ctx, errorSleep)
			continue
		}

		for _, msg := range resp.Messages {
			if msg.Body == nil {
				q.delete(ctx, msg)
				continue
			}

			err := h(ctx, []byte(*msg.Body))
			switch {
			case err == nil:
				q.delete(ctx, msg)
			case errors.Is(err, ErrDrop):
				q.log.Warn("dropping message", "error", err)
				q.delete(ctx, msg)
			default:
				// Leave for redelivery after the visibility timeout
				q.log.Error("task failed, leaving for retry", "error", err)
			}
		}
	}
}

func (q *SQSQueue) delete(ctx context.Context, msg sqstypes.Message) {
	if msg.ReceiptHandle == nil {
		return
	}
	if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		q.log.Warn("delete failed", "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Ensure SQSQueue implements Queue.
var _ Queue = (*SQSQueue)(nil)
