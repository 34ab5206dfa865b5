package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// SQLite keeps job records in a single-table embedded database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and ensures the
// schema exists.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	slog.Info("sqlite job store opened", "path", path)
	return &SQLite{db: db}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) LoadAll(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM jobs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		records = append(records, Record{ID: id, Data: []byte(data)})
	}
	return records, rows.Err()
}

func (s *SQLite) Create(ctx context.Context, id string, data []byte) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, data) VALUES (?, ?)`, id, string(data)); err != nil {
		return fmt.Errorf("insert job %s: %w", id, err)
	}
	return nil
}

func (s *SQLite) Update(ctx context.Context, id string, data []byte) error {
	var existing string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM jobs WHERE id = ?`, id).Scan(&existing)
	if err != nil {
		return fmt.Errorf("read job %s: %w", id, err)
	}
	merged, err := mergeRecords([]byte(existing), data)
	if err != nil {
		return fmt.Errorf("merge job %s: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET data = ? WHERE id = ?`, string(merged), id); err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete job %s: no such record", id)
	}
	return nil
}
