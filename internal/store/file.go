package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File keeps one pretty-printed JSON file per job id in a directory.
// Ids cannot contain path separators or dots, so the id maps straight
// to a file name.
type File struct {
	dir string
}

// NewFile creates the directory if needed and returns the store.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory %s: %w", dir, err)
	}
	return &File{dir: dir}, nil
}

func (s *File) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *File) LoadAll(ctx context.Context) ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store directory: %w", err)
	}
	var records []Record
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read job file %s: %w", name, err)
		}
		records = append(records, Record{ID: strings.TrimSuffix(name, ".json"), Data: data})
	}
	return records, nil
}

func (s *File) Create(ctx context.Context, id string, data []byte) error {
	return s.write(id, data)
}

func (s *File) Update(ctx context.Context, id string, data []byte) error {
	existing, err := os.ReadFile(s.path(id))
	if err != nil {
		return fmt.Errorf("read job %s: %w", id, err)
	}
	merged, err := mergeRecords(existing, data)
	if err != nil {
		return fmt.Errorf("merge job %s: %w", id, err)
	}
	return s.write(id, merged)
}

func (s *File) Delete(ctx context.Context, id string) error {
	if err := os.Remove(s.path(id)); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

func (s *File) write(id string, data []byte) error {
	var pretty json.RawMessage = data
	indented, err := json.MarshalIndent(pretty, "", "  ")
	if err == nil {
		data = indented
	}
	if err := os.WriteFile(s.path(id), data, 0o644); err != nil {
		return fmt.Errorf("write job %s: %w", id, err)
	}
	return nil
}
