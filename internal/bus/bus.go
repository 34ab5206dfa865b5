// Package bus carries job operations from the API to the scheduler.
//
// The direct bus serves a single process running both halves; the SQS
// queue carries the same operations between separate API and scheduler
// processes.
package bus

import (
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/ecsched/internal/jobs"
)

// Consumer receives posted job operations.
type Consumer interface {
	Notify(op jobs.Operation) error
}

// Poster publishes job operations after the API persists a change.
type Poster interface {
	Post(op jobs.Operation) error
}

// Direct is the in-process ops bus. It holds at most one consumer;
// operations posted before registration are dropped with a log line.
type Direct struct {
	mu       sync.Mutex
	consumer Consumer
}

// NewDirect builds an empty direct bus.
func NewDirect() *Direct {
	return &Direct{}
}

// Register sets the single consumer, replacing any previous one.
func (b *Direct) Register(c Consumer) {
	b.mu.Lock()
	b.consumer = c
	b.mu.Unlock()
}

// Post delivers the operation to the registered consumer.
func (b *Direct) Post(op jobs.Operation) error {
	b.mu.Lock()
	c := b.consumer
	b.mu.Unlock()
	if c == nil {
		slog.Warn("dropping job operation, no consumer registered", "op", op.Kind, "job", op.JobID)
		return nil
	}
	return c.Notify(op)
}
