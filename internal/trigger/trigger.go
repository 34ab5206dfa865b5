// Package trigger computes how many tasks a job run should launch.
//
// A trigger inspects an external signal (or nothing at all) and turns
// the job's taskCount and maxCount settings into a concrete task total
// for this run.
package trigger

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/ecsched/internal/jobs"
	"github.com/nextlevelbuilder/ecsched/internal/schema"
)

// Trigger resolves the number of tasks to launch for one job run.
type Trigger interface {
	TaskCount(ctx context.Context, data jobs.Snapshot) (int, error)
}

// Registry maps trigger type names to implementations. Unknown names
// fall back to the no-op trigger so a stale job record cannot stall
// the scheduler.
type Registry struct {
	triggers map[string]Trigger
	fallback Trigger
}

// NewRegistry builds the default trigger set backed by the given SQS
// client.
func NewRegistry(sqs SQSClient) *Registry {
	noop := Noop{}
	return &Registry{
		triggers: map[string]Trigger{
			schema.TriggerNoop: noop,
			schema.TriggerSqs:  &SQS{Client: sqs},
		},
		fallback: noop,
	}
}

// Get returns the trigger for the job's trigger type. Jobs with no
// trigger and jobs naming an unknown type both get the no-op trigger.
func (r *Registry) Get(data jobs.Snapshot) Trigger {
	if data.Trigger == nil {
		return r.fallback
	}
	t, ok := r.triggers[data.Trigger.Type]
	if !ok {
		slog.Warn("unknown trigger type, using noop", "job", data.ID, "type", data.Trigger.Type)
		return r.fallback
	}
	return t
}

// Noop launches the job's configured task count, capped at maxCount
// when one is set.
type Noop struct{}

func (Noop) TaskCount(ctx context.Context, data jobs.Snapshot) (int, error) {
	count := 0
	if data.TaskCount != nil {
		count = *data.TaskCount
	}
	return capCount(count, data.MaxCount), nil
}

func capCount(count int, maxCount *int) int {
	if maxCount != nil && count > *maxCount {
		return *maxCount
	}
	return count
}
