package trigger

import (
	"context"
	"errors"
	"testing"

	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/nextlevelbuilder/ecsched/internal/jobs"
	"github.com/nextlevelbuilder/ecsched/internal/schema"
)

func snapshot(taskCount, maxCount int, trig *schema.Trigger) jobs.Snapshot {
	s := jobs.Snapshot{}
	s.ID = "job-1"
	if taskCount >= 0 {
		s.TaskCount = &taskCount
	}
	if maxCount >= 0 {
		s.MaxCount = &maxCount
	}
	s.Trigger = trig
	return s
}

type fakeSQS struct {
	messages string
	err      error
}

func (f *fakeSQS) GetQueueUrl(ctx context.Context, params *awssqs.GetQueueUrlInput, optFns ...func(*awssqs.Options)) (*awssqs.GetQueueUrlOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	url := "https://sqs.example.com/" + *params.QueueName
	return &awssqs.GetQueueUrlOutput{QueueUrl: &url}, nil
}

func (f *fakeSQS) GetQueueAttributes(ctx context.Context, params *awssqs.GetQueueAttributesInput, optFns ...func(*awssqs.Options)) (*awssqs.GetQueueAttributesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &awssqs.GetQueueAttributesOutput{
		Attributes: map[string]string{"ApproximateNumberOfMessages": f.messages},
	}, nil
}

func TestNoopUsesTaskCount(t *testing.T) {
	n, err := Noop{}.TaskCount(context.Background(), snapshot(5, -1, nil))
	if err != nil {
		t.Fatalf("noop: %v", err)
	}
	if n != 5 {
		t.Errorf("count = %d, want 5", n)
	}
}

func TestNoopCapsAtMaxCount(t *testing.T) {
	n, err := Noop{}.TaskCount(context.Background(), snapshot(10, 3, nil))
	if err != nil {
		t.Fatalf("noop: %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}

func TestSQSEmptyQueueYieldsZero(t *testing.T) {
	trig := &schema.Trigger{Type: schema.TriggerSqs, QueueName: "work"}
	s := &SQS{Client: &fakeSQS{messages: "0"}}
	n, err := s.TaskCount(context.Background(), snapshot(4, -1, trig))
	if err != nil {
		t.Fatalf("sqs: %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d, want 0 for empty queue", n)
	}
}

func TestSQSScalesByMessagesPerTask(t *testing.T) {
	per := 10
	trig := &schema.Trigger{Type: schema.TriggerSqs, QueueName: "work", MessagesPerTask: &per}
	s := &SQS{Client: &fakeSQS{messages: "35"}}
	n, err := s.TaskCount(context.Background(), snapshot(1, -1, trig))
	if err != nil {
		t.Fatalf("sqs: %v", err)
	}
	if n != 4 {
		t.Errorf("count = %d, want ceil(35/10) = 4", n)
	}
}

func TestSQSFloorsAtTaskCount(t *testing.T) {
	per := 10
	trig := &schema.Trigger{Type: schema.TriggerSqs, QueueName: "work", MessagesPerTask: &per}
	s := &SQS{Client: &fakeSQS{messages: "5"}}
	n, err := s.TaskCount(context.Background(), snapshot(3, -1, trig))
	if err != nil {
		t.Fatalf("sqs: %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want taskCount floor 3", n)
	}
}

func TestSQSWithoutScalingFactorUsesTaskCount(t *testing.T) {
	trig := &schema.Trigger{Type: schema.TriggerSqs, QueueName: "work"}
	s := &SQS{Client: &fakeSQS{messages: "100"}}
	n, err := s.TaskCount(context.Background(), snapshot(2, -1, trig))
	if err != nil {
		t.Fatalf("sqs: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestSQSCapsAtMaxCount(t *testing.T) {
	per := 1
	trig := &schema.Trigger{Type: schema.TriggerSqs, QueueName: "work", MessagesPerTask: &per}
	s := &SQS{Client: &fakeSQS{messages: "100"}}
	n, err := s.TaskCount(context.Background(), snapshot(1, 7, trig))
	if err != nil {
		t.Fatalf("sqs: %v", err)
	}
	if n != 7 {
		t.Errorf("count = %d, want maxCount cap 7", n)
	}
}

func TestSQSPropagatesClientErrors(t *testing.T) {
	trig := &schema.Trigger{Type: schema.TriggerSqs, QueueName: "work"}
	s := &SQS{Client: &fakeSQS{err: errors.New("throttled")}}
	if _, err := s.TaskCount(context.Background(), snapshot(1, -1, trig)); err == nil {
		t.Fatal("expected error from client failure")
	}
}

func TestRegistryFallsBackToNoop(t *testing.T) {
	r := NewRegistry(&fakeSQS{})

	if _, ok := r.Get(snapshot(1, -1, nil)).(Noop); !ok {
		t.Error("nil trigger should resolve to noop")
	}
	unknown := &schema.Trigger{Type: "carrier-pigeon"}
	if _, ok := r.Get(snapshot(1, -1, unknown)).(Noop); !ok {
		t.Error("unknown trigger type should resolve to noop")
	}
	sqsTrig := &schema.Trigger{Type: schema.TriggerSqs, QueueName: "work"}
	if _, ok := r.Get(snapshot(1, -1, sqsTrig)).(*SQS); !ok {
		t.Error("sqs trigger type should resolve to SQS")
	}
}
