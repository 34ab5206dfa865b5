// Package sched owns the time wheel: it tracks per-job firing rules,
// fires jobs through a bounded worker pool and reports lifecycle
// events to a single handler.
package sched

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/ecsched/internal/cron"
)

// Engine defaults. Missed firings within the grace window still run
// (coalesced into one); beyond it they are reported as missed.
const (
	defaultMisfireGrace = time.Hour
	defaultWorkers      = 8
)

// EventKind labels an engine lifecycle event.
type EventKind int

const (
	EventAdded EventKind = iota + 1
	EventModified
	EventExecuted
	EventError
	EventMissed
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventModified:
		return "modified"
	case EventExecuted:
		return "executed"
	case EventError:
		return "error"
	case EventMissed:
		return "missed"
	case EventRemoved:
		return "removed"
	}
	return "unknown"
}

// Event reports one lifecycle transition for a scheduled entry.
// Events reach the handler one at a time, in order.
type Event struct {
	Kind        EventKind
	EntryID     string
	ScheduledAt time.Time
	NextRun     *time.Time
	Result      any
	Err         error
}

// RunFunc executes one firing of an entry. Its return value travels
// on the executed event; an error produces an error event instead.
type RunFunc func(ctx context.Context, id string, scheduledAt time.Time) (any, error)

// EntryConfig describes one scheduled entry.
type EntryConfig struct {
	ID       string
	Rule     *cron.Rule
	Location *time.Location
	Start    *time.Time
	End      *time.Time
	Paused   bool
}

// EntryInfo is a read-only view of a scheduled entry.
type EntryInfo struct {
	ID      string
	Paused  bool
	NextRun *time.Time
}

type entry struct {
	cfg      EntryConfig
	nextFire time.Time
	hasNext  bool
	running  bool
	index    int
}

// Engine is the cron engine: a priority queue of entries keyed by
// next-fire time, a dispatcher goroutine and a worker pool.
type Engine struct {
	run     RunFunc
	handler func(Event)
	grace   time.Duration

	mu    sync.Mutex
	queue entryQueue
	byID  map[string]*entry
	wake  chan struct{}

	workers chan struct{}
	events  chan Event

	stop     chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
}

// New builds an engine. The handler receives every lifecycle event;
// a nil handler discards them.
func New(run RunFunc, handler func(Event)) *Engine {
	if handler == nil {
		handler = func(Event) {}
	}
	e := &Engine{
		run:     run,
		handler: handler,
		grace:   defaultMisfireGrace,
		byID:    map[string]*entry{},
		wake:    make(chan struct{}, 1),
		workers: make(chan struct{}, defaultWorkers),
		events:  make(chan Event, 64),
		stop:    make(chan struct{}),
	}
	return e
}

// Start launches the dispatcher and the event pump. The context bounds
// every firing started by the engine.
func (e *Engine) Start(ctx context.Context) {
	e.done.Add(2)
	go e.pumpEvents()
	go e.dispatch(ctx)
}

// Stop halts dispatch and waits for the event pump to drain.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	e.done.Wait()
}

// Add inserts or replaces the entry for cfg.ID. Replacing an existing
// entry emits a modified event, inserting a new one an added event.
// Paused entries carry no next-fire time.
func (e *Engine) Add(cfg EntryConfig) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	e.mu.Lock()
	existing, replaced := e.byID[cfg.ID]
	if replaced {
		if existing.index >= 0 {
			heap.Remove(&e.queue, existing.index)
		}
		delete(e.byID, cfg.ID)
	}

	ent := &entry{cfg: cfg, index: -1}
	if !cfg.Paused {
		ent.schedule(time.Now())
	}
	e.byID[cfg.ID] = ent
	if ent.hasNext {
		heap.Push(&e.queue, ent)
	}
	next := ent.nextRun()
	e.mu.Unlock()
	e.poke()

	kind := EventAdded
	if replaced {
		kind = EventModified
	}
	e.emit(Event{Kind: kind, EntryID: cfg.ID, NextRun: next})
}

// Remove drops the entry and emits a removed event. Removing an
// unknown id is a no-op.
func (e *Engine) Remove(id string) {
	e.mu.Lock()
	ent, ok := e.byID[id]
	if ok {
		if ent.index >= 0 {
			heap.Remove(&e.queue, ent.index)
		}
		delete(e.byID, id)
	}
	e.mu.Unlock()
	if ok {
		e.poke()
		e.emit(Event{Kind: EventRemoved, EntryID: id})
	}
}

// Entry reports the current state of a scheduled entry.
func (e *Engine) Entry(id string) (EntryInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.byID[id]
	if !ok {
		return EntryInfo{}, false
	}
	return EntryInfo{ID: id, Paused: ent.cfg.Paused, NextRun: ent.nextRun()}, true
}

// Len returns the number of tracked entries.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.byID)
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	case <-e.stop:
	}
}

func (e *Engine) poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) pumpEvents() {
	defer e.done.Done()
	for {
		select {
		case ev := <-e.events:
			e.handler(ev)
		case <-e.stop:
			// Drain whatever is already queued.
			for {
				select {
				case ev := <-e.events:
					e.handler(ev)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) dispatch(ctx context.Context) {
	defer e.done.Done()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		e.mu.Lock()
		var wait time.Duration
		if len(e.queue) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(e.queue[0].nextFire)
		}
		e.mu.Unlock()

		if wait > 0 {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wait)
			select {
			case <-timer.C:
			case <-e.wake:
				continue
			case <-e.stop:
				return
			case <-ctx.Done():
				return
			}
		}
		e.fireDue(ctx, time.Now())
	}
}

// fireDue pops every entry whose fire time has passed and either runs
// it, reports it missed, or skips it because the previous firing is
// still in flight. Only one instance of an entry runs at a time.
func (e *Engine) fireDue(ctx context.Context, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for len(e.queue) > 0 && !e.queue[0].nextFire.After(now) {
		ent := heap.Pop(&e.queue).(*entry)
		scheduledAt := ent.nextFire

		switch {
		case now.Sub(scheduledAt) > e.grace:
			e.emitLocked(Event{Kind: EventMissed, EntryID: ent.cfg.ID, ScheduledAt: scheduledAt})
		case ent.running:
			slog.Warn("previous firing still running, skipping", "entry", ent.cfg.ID, "scheduled_at", scheduledAt)
		default:
			ent.running = true
			e.done.Add(1)
			go e.execute(ctx, ent, scheduledAt)
		}

		ent.schedule(now)
		// The entry may have been removed or replaced while the lock
		// was released for the missed event.
		if cur, ok := e.byID[ent.cfg.ID]; ok && cur == ent && ent.hasNext {
			heap.Push(&e.queue, ent)
		}
	}
}

func (e *Engine) emitLocked(ev Event) {
	e.mu.Unlock()
	e.emit(ev)
	e.mu.Lock()
}

func (e *Engine) execute(ctx context.Context, ent *entry, scheduledAt time.Time) {
	defer e.done.Done()
	select {
	case e.workers <- struct{}{}:
	case <-e.stop:
		e.finish(ent)
		return
	case <-ctx.Done():
		e.finish(ent)
		return
	}
	defer func() { <-e.workers }()

	result, err := e.run(ctx, ent.cfg.ID, scheduledAt)
	e.finish(ent)

	ev := Event{EntryID: ent.cfg.ID, ScheduledAt: scheduledAt, NextRun: e.nextRunOf(ent.cfg.ID)}
	if err != nil {
		ev.Kind = EventError
		ev.Err = err
	} else {
		ev.Kind = EventExecuted
		ev.Result = result
	}
	e.emit(ev)
}

func (e *Engine) finish(ent *entry) {
	e.mu.Lock()
	ent.running = false
	e.mu.Unlock()
}

func (e *Engine) nextRunOf(id string) *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.byID[id]
	if !ok {
		return nil
	}
	return ent.nextRun()
}

// schedule computes the entry's next fire strictly after now, bounded
// by the entry's start and end times. Coalescing falls out of this:
// however many firings were missed, only the next future one is kept.
func (ent *entry) schedule(now time.Time) {
	base := now
	if ent.cfg.Start != nil && ent.cfg.Start.After(base) {
		// First fire may land exactly on the start time.
		base = ent.cfg.Start.Add(-time.Nanosecond)
	}
	next, ok := ent.cfg.Rule.Next(base.In(ent.cfg.Location))
	if ok && ent.cfg.End != nil && next.After(*ent.cfg.End) {
		ok = false
	}
	ent.hasNext = ok
	if ok {
		ent.nextFire = next
	}
}

func (ent *entry) nextRun() *time.Time {
	if ent.cfg.Paused || !ent.hasNext {
		return nil
	}
	t := ent.nextFire
	return &t
}

// entryQueue is a min-heap of entries keyed by next fire time.
type entryQueue []*entry

func (q entryQueue) Len() int            { return len(q) }
func (q entryQueue) Less(i, j int) bool  { return q[i].nextFire.Before(q[j].nextFire) }
func (q entryQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *entryQueue) Push(x any)         { e := x.(*entry); e.index = len(*q); *q = append(*q, e) }
func (q *entryQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}
