package sched

import (
	"errors"
	"log/slog"

	"github.com/nextlevelbuilder/ecsched/internal/exec"
	"github.com/nextlevelbuilder/ecsched/internal/jobs"
	"github.com/nextlevelbuilder/ecsched/internal/schema"
)

// EventHandler reacts to engine lifecycle events by annotating the
// registry with next-run and last-run bookkeeping. It never lets a
// failure escape; a crashed handler would silence all future events.
type EventHandler struct {
	registry *jobs.Registry
}

// NewEventHandler builds a handler over the registry.
func NewEventHandler(registry *jobs.Registry) *EventHandler {
	return &EventHandler{registry: registry}
}

// Handle processes one engine event.
func (h *EventHandler) Handle(ev Event) {
	switch ev.Kind {
	case EventAdded, EventModified:
		h.annotateNextRun(ev)
	case EventExecuted:
		h.handleExecuted(ev)
	case EventError:
		if ev.Err != nil {
			slog.Error("job firing failed", "job", ev.EntryID, "error", ev.Err)
		} else {
			slog.Error("job firing failed", "job", ev.EntryID)
		}
	case EventMissed:
		slog.Error("job firing missed", "job", ev.EntryID, "scheduled_at", ev.ScheduledAt)
	default:
		slog.Warn("unhandled scheduler event", "kind", ev.Kind, "job", ev.EntryID)
	}
}

func (h *EventHandler) handleExecuted(ev Event) {
	result, ok := ev.Result.(exec.Result)
	if !ok {
		slog.Warn("executed event with unexpected result", "job", ev.EntryID, "result", ev.Result)
		return
	}
	switch result.Code {
	case exec.CheckedTasks:
		h.annotateNextRun(ev)
	case exec.StartedTasks:
		fields := jobs.Fields{
			jobs.FieldLastRun:      schema.NewTimestamp(ev.ScheduledAt),
			jobs.FieldLastRunTasks: result.Tasks,
		}
		if ev.NextRun != nil {
			fields[jobs.FieldEstimatedNextRun] = schema.NewTimestamp(*ev.NextRun)
		}
		h.annotate(ev.EntryID, fields)
	default:
		slog.Warn("executed event with unknown result code", "job", ev.EntryID, "code", result.Code)
	}
}

func (h *EventHandler) annotateNextRun(ev Event) {
	if ev.NextRun == nil {
		return
	}
	h.annotate(ev.EntryID, jobs.Fields{
		jobs.FieldEstimatedNextRun: schema.NewTimestamp(*ev.NextRun),
	})
}

// annotate writes transient fields to the job, swallowing every
// failure. The job may have been deleted since the event was emitted.
func (h *EventHandler) annotate(id string, fields jobs.Fields) {
	j, err := h.registry.Get(id)
	if err != nil {
		var nf *jobs.NotFoundError
		if errors.As(err, &nf) {
			slog.Warn("event for unknown job", "job", id)
			return
		}
		slog.Error("job lookup failed", "job", id, "error", err)
		return
	}
	if err := j.Annotate(fields); err != nil {
		slog.Error("job annotation failed", "job", id, "error", err)
	}
}
