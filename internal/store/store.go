// Package store defines the job persistence contract and its backends.
//
// Every backend keeps one JSON record per job id and preserves the
// payload byte-for-byte in meaning: what was created or updated is what
// LoadAll returns after a restart. Backend selection happens in
// Resolve based on the process environment.
package store

import (
	"context"
	"encoding/json"
)

// Record is a raw persisted job document.
type Record struct {
	ID   string
	Data json.RawMessage
}

// Store is the uniform persistence contract for job records.
//
// Update receives a partial document: backends merge it into the
// stored record (or delegate merging to the engine, as the search
// backend does).
type Store interface {
	LoadAll(ctx context.Context) ([]Record, error)
	Create(ctx context.Context, id string, data []byte) error
	Update(ctx context.Context, id string, data []byte) error
	Delete(ctx context.Context, id string) error
}

// mergeRecords merges a partial update document into an existing JSON
// record at the top level. Used by backends that store whole blobs.
func mergeRecords(existing, update []byte) ([]byte, error) {
	var base map[string]json.RawMessage
	if err := json.Unmarshal(existing, &base); err != nil {
		return nil, err
	}
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(update, &patch); err != nil {
		return nil, err
	}
	for k, v := range patch {
		base[k] = v
	}
	return json.Marshal(base)
}
