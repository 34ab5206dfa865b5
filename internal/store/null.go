package store

import (
	"context"
	"log/slog"
)

// Null is the in-memory fallback store. Jobs vanish on restart; it
// exists so the system still comes up when no backend is configured.
type Null struct{}

// NewNull logs loudly and returns the fallback store.
func NewNull() *Null {
	slog.Warn("no persistence backend configured, jobs will not survive a restart")
	return &Null{}
}

func (*Null) LoadAll(ctx context.Context) ([]Record, error)           { return nil, nil }
func (*Null) Create(ctx context.Context, id string, data []byte) error { return nil }
func (*Null) Update(ctx context.Context, id string, data []byte) error { return nil }
func (*Null) Delete(ctx context.Context, id string) error              { return nil }
