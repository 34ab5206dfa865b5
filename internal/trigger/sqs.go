package trigger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/nextlevelbuilder/ecsched/internal/jobs"
)

// SQSClient is the slice of the SQS API the trigger needs.
type SQSClient interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQS scales the run's task count with the depth of a message queue.
//
// An empty queue yields zero tasks. A non-empty queue yields at least
// the job's taskCount; when messagesPerTask is set, the count grows to
// ceil(messages / messagesPerTask), capped at maxCount.
type SQS struct {
	Client SQSClient
}

func (t *SQS) TaskCount(ctx context.Context, data jobs.Snapshot) (int, error) {
	if data.Trigger == nil || data.Trigger.QueueName == "" {
		return 0, fmt.Errorf("job %s: sqs trigger without a queue name", data.ID)
	}
	messages, err := t.queueDepth(ctx, data.Trigger.QueueName)
	if err != nil {
		return 0, fmt.Errorf("job %s: read queue %s: %w", data.ID, data.Trigger.QueueName, err)
	}
	if messages == 0 {
		return 0, nil
	}

	scaled := 0
	if data.Trigger.MessagesPerTask != nil {
		per := *data.Trigger.MessagesPerTask
		scaled = (messages + per - 1) / per
	}
	count := scaled
	if data.TaskCount != nil && *data.TaskCount > count {
		count = *data.TaskCount
	}
	return capCount(count, data.MaxCount), nil
}

func (t *SQS) queueDepth(ctx context.Context, queueName string) (int, error) {
	urlOut, err := t.Client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: &queueName})
	if err != nil {
		return 0, err
	}
	attrOut, err := t.Client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       urlOut.QueueUrl,
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, err
	}
	raw, ok := attrOut.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)]
	if !ok {
		return 0, fmt.Errorf("queue attributes missing message count")
	}
	messages, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("bad message count %q: %w", raw, err)
	}
	return messages, nil
}
