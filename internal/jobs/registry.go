package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/ecsched/internal/schema"
	"github.com/nextlevelbuilder/ecsched/internal/store"
)

// Registry is the shared in-memory job collection backed by a store.
// The API and the scheduler both read and write through it; one lock
// covers the table and every job it holds.
type Registry struct {
	mu    sync.Mutex
	store store.Store
	table map[string]*Job
}

// Load reads every persisted record, validates it through the full
// schema and builds the registry. A record that fails validation
// aborts the load; a corrupt store should be fixed, not skipped.
func Load(ctx context.Context, st store.Store) (*Registry, error) {
	records, err := st.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	r := &Registry{store: st, table: make(map[string]*Job, len(records))}
	for _, rec := range records {
		fields, errs := schema.ParseCreate(rec.Data)
		if !errs.Empty() {
			return nil, &InvalidDataError{JobID: rec.ID, Errors: errs}
		}
		if fields.ID != rec.ID {
			fields.ID = rec.ID
		}
		r.table[rec.ID] = &Job{mu: &r.mu, store: st, fields: fields}
	}
	slog.Info("loaded job registry", "jobs", len(r.table))
	return r, nil
}

// Total returns the number of registered jobs.
func (r *Registry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.table)
}

// All returns every job ordered by id. The order is stable so paged
// listings are deterministic.
func (r *Registry) All() []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Job, 0, len(r.table))
	for _, j := range r.table {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].fields.ID < out[k].fields.ID })
	return out
}

// Page returns the jobs inside the clamped pagination window plus the
// collection total.
func (r *Registry) Page(p Pagination) ([]*Job, int) {
	all := r.All()
	p = p.Clamped()
	total := len(all)
	if p.Skip >= total {
		return nil, total
	}
	end := p.Skip + p.Count
	if end > total {
		end = total
	}
	return all[p.Skip:end], total
}

// Get returns the job for id or NotFoundError.
func (r *Registry) Get(id string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.table[id]
	if !ok {
		return nil, &NotFoundError{JobID: id}
	}
	return j, nil
}

// Create validates the raw payload, persists it and registers the new
// job. Nothing is registered if persistence fails.
func (r *Registry) Create(ctx context.Context, raw []byte) (*Job, error) {
	fields, errs := schema.ParseCreate(raw)
	if !errs.Empty() {
		return nil, &InvalidDataError{JobID: fields.ID, Errors: errs}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.table[fields.ID]; ok {
		return nil, &AlreadyExistsError{JobID: fields.ID}
	}
	dump, err := fields.Dump()
	if err != nil {
		return nil, &InvalidDataError{JobID: fields.ID, Errors: schema.FieldErrors{"_schema": {err.Error()}}}
	}
	if err := r.store.Create(ctx, fields.ID, dump); err != nil {
		return nil, &PersistenceError{JobID: fields.ID, Err: err}
	}
	j := &Job{mu: &r.mu, store: r.store, fields: fields}
	r.table[fields.ID] = j
	return j, nil
}

// Delete removes the job from the store and then the registry.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.table[id]; !ok {
		return &NotFoundError{JobID: id}
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return &PersistenceError{JobID: id, Err: err}
	}
	delete(r.table, id)
	return nil
}
