package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/nextlevelbuilder/ecsched/internal/jobs"
)

// Long-poll interval for the ops queue. One receive call blocks up to
// this many seconds before returning empty.
const pollSeconds = 20

// SQSClient is the slice of the SQS API the ops queue needs.
type SQSClient interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue is the cross-process ops bus. The API process posts job
// operations as JSON messages; the scheduler process consumes them
// with long polling. Messages are deleted only after they parse, so a
// crash between receive and apply redelivers the operation.
type SQSQueue struct {
	client   SQSClient
	queueURL string
}

// NewSQSQueue resolves the queue URL and returns the queue bus.
func NewSQSQueue(ctx context.Context, client SQSClient, queueName string) (*SQSQueue, error) {
	out, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queueName)})
	if err != nil {
		return nil, fmt.Errorf("resolve ops queue %s: %w", queueName, err)
	}
	return &SQSQueue{client: client, queueURL: aws.ToString(out.QueueUrl)}, nil
}

// Post publishes the operation to the queue.
func (q *SQSQueue) Post(op jobs.Operation) error {
	body, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal job operation: %w", err)
	}
	_, err = q.client.SendMessage(context.Background(), &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("post job operation for %s: %w", op.JobID, err)
	}
	return nil
}

// Listen polls the queue and feeds each operation to the consumer
// until the context ends. Messages that fail to parse stay on the
// queue for the redrive policy; consumer errors are logged and the
// message is still considered handled.
func (q *SQSQueue) Listen(ctx context.Context, c Consumer) error {
	for {
		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     pollSeconds,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("ops queue receive failed", "error", err)
			continue
		}
		for _, msg := range out.Messages {
			var op jobs.Operation
			if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &op); err != nil || op.Kind == 0 || op.JobID == "" {
				slog.Warn("invalid ops queue message", "body", aws.ToString(msg.Body), "error", err)
				continue
			}
			if _, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(q.queueURL),
				ReceiptHandle: msg.ReceiptHandle,
			}); err != nil {
				slog.Error("ops queue delete failed", "job", op.JobID, "error", err)
				continue
			}
			if err := c.Notify(op); err != nil {
				slog.Error("job operation failed", "op", op.Kind, "job", op.JobID, "error", err)
			}
		}
	}
}
