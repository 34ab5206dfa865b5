package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/ecsched/internal/cron"
	"github.com/nextlevelbuilder/ecsched/internal/exec"
	"github.com/nextlevelbuilder/ecsched/internal/jobs"
)

// Runner performs one firing for a job's data.
type Runner interface {
	Run(ctx context.Context, data jobs.Snapshot) (exec.Result, error)
}

// Scheduler couples the job registry to the cron engine: it seeds the
// engine from the registry, fires jobs through the runner and applies
// job operations coming off the ops bus.
type Scheduler struct {
	registry *jobs.Registry
	runner   Runner
	engine   *Engine
}

// NewScheduler builds a scheduler over the registry and runner. The
// handler receives every engine lifecycle event.
func NewScheduler(registry *jobs.Registry, runner Runner, handler func(Event)) *Scheduler {
	s := &Scheduler{registry: registry, runner: runner}
	s.engine = New(s.fire, handler)
	return s
}

// Engine exposes the underlying cron engine, mainly so the event
// handler can look up next-run times.
func (s *Scheduler) Engine() *Engine {
	return s.engine
}

// Start inserts every registered job into the engine and begins
// dispatch.
func (s *Scheduler) Start(ctx context.Context) error {
	s.engine.Start(ctx)
	inserted := 0
	for _, j := range s.registry.All() {
		if err := s.insert(j); err != nil {
			return err
		}
		inserted++
	}
	slog.Info("scheduler started", "jobs", inserted)
	return nil
}

// Stop halts the engine.
func (s *Scheduler) Stop() {
	s.engine.Stop()
	slog.Info("scheduler stopped")
}

// Notify applies a job operation from the ops bus. Add and modify
// replace the engine entry from the registry's current data; remove
// drops it. A removal racing with a concurrent delete is harmless.
func (s *Scheduler) Notify(op jobs.Operation) error {
	switch op.Kind {
	case jobs.OpAdd, jobs.OpModify:
		j, err := s.registry.Get(op.JobID)
		if err != nil {
			var nf *jobs.NotFoundError
			if errors.As(err, &nf) {
				slog.Warn("operation for unknown job", "op", op.Kind, "job", op.JobID)
				return nil
			}
			return err
		}
		return s.insert(j)
	case jobs.OpRemove:
		s.engine.Remove(op.JobID)
		return nil
	}
	return fmt.Errorf("unknown job operation %v for %s", op.Kind, op.JobID)
}

// insert builds an engine entry from the job's current data and adds
// it, replacing any previous entry for the same id.
func (s *Scheduler) insert(j *jobs.Job) error {
	data := j.Data()
	if data.ParsedSchedule == nil {
		return fmt.Errorf("job %s has no parsed schedule", data.ID)
	}
	rule, err := cron.New(*data.ParsedSchedule)
	if err != nil {
		return fmt.Errorf("job %s: compile schedule: %w", data.ID, err)
	}

	loc := time.UTC
	if data.Timezone != "" {
		if loc, err = time.LoadLocation(data.Timezone); err != nil {
			return fmt.Errorf("job %s: timezone: %w", data.ID, err)
		}
	}

	cfg := EntryConfig{
		ID:       data.ID,
		Rule:     rule,
		Location: loc,
		Paused:   data.Suspended != nil && *data.Suspended,
	}
	// Resume after the last recorded run so a restart does not refire
	// a moment the job already ran.
	if data.LastRun != nil {
		t := data.LastRun.Time
		cfg.Start = &t
	} else if data.ScheduleStart != nil {
		t := data.ScheduleStart.Time
		cfg.Start = &t
	}
	if data.ScheduleEnd != nil {
		t := data.ScheduleEnd.Time
		cfg.End = &t
	}

	s.engine.Add(cfg)
	return nil
}

// fire runs one firing through the runner.
func (s *Scheduler) fire(ctx context.Context, id string, scheduledAt time.Time) (any, error) {
	j, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}
	return s.runner.Run(ctx, j.Data())
}
