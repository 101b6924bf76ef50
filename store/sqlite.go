// Package store loads converted protocol rows into a SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/petal-labs/protocols/convert"

	_ "modernc.org/sqlite"
)

const protocolsSQLiteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	output TEXT NOT NULL,
	files INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	row_count INTEGER NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS protocol_contracts (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	ctype TEXT NOT NULL,
	csubtype TEXT NOT NULL,
	contract TEXT NOT NULL,
	address TEXT NOT NULL,
	run_id TEXT NOT NULL,
	FOREIGN KEY(run_id) REFERENCES runs(id)
);

CREATE INDEX IF NOT EXISTS idx_protocol_contracts_address
ON protocol_contracts(address);

CREATE INDEX IF NOT EXISTS idx_protocol_contracts_category
ON protocol_contracts(ctype, csubtype, name);`

// SQLiteStoreConfig configures the SQLite row store.
type SQLiteStoreConfig struct {
	DSN string
}

// Run is a recorded conversion run.
type Run struct {
	ID         string
	Source     string
	Output     string
	Files      int
	Failed     int
	Rows       int
	StartedAt  time.Time
	FinishedAt time.Time
}

// SQLiteStore keeps the latest converted rows and the history of runs.
type SQLiteStore struct {
	db *sql.DB
}

var _ convert.Sink = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite row store.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("protocols sqlite dsn is required")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("protocols sqlite store open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("protocols sqlite store set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("protocols sqlite store enable foreign keys: %w", err)
	}
	if _, err := db.Exec(protocolsSQLiteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("protocols sqlite store create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Store implements convert.Sink by replacing the table contents with the
// rows of result.
func (s *SQLiteStore) Store(ctx context.Context, result *convert.Result) error {
	run := Run{
		ID:         result.RunID,
		Source:     result.Source,
		Output:     result.Output,
		Files:      result.Files,
		Failed:     result.Failed,
		Rows:       len(result.Rows),
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
	}
	return s.ReplaceRows(ctx, run, result.Rows)
}

// ReplaceRows records run and swaps the contents of protocol_contracts for
// rows in a single transaction. Insertion order is preserved.
func (s *SQLiteStore) ReplaceRows(ctx context.Context, run Run, rows []convert.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("protocols sqlite store begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, source, output, files, failed, row_count, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Source,
		run.Output,
		run.Files,
		run.Failed,
		run.Rows,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("protocols sqlite store insert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM protocol_contracts`); err != nil {
		return fmt.Errorf("protocols sqlite store clear rows: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO protocol_contracts (name, ctype, csubtype, contract, address, run_id)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("protocols sqlite store prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Name, r.CType, r.CSubtype, r.Contract, r.Address, run.ID); err != nil {
			return fmt.Errorf("protocols sqlite store insert row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("protocols sqlite store commit: %w", err)
	}
	return nil
}

// ListRows returns the stored rows in insertion order.
func (s *SQLiteStore) ListRows(ctx context.Context) ([]convert.Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, ctype, csubtype, contract, address FROM protocol_contracts ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("protocols sqlite store list rows: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// LookupAddress returns the rows whose address matches addr, compared
// lower-cased.
func (s *SQLiteStore) LookupAddress(ctx context.Context, addr string) ([]convert.Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, ctype, csubtype, contract, address FROM protocol_contracts
		 WHERE address = ? ORDER BY seq ASC`, strings.ToLower(addr))
	if err != nil {
		return nil, fmt.Errorf("protocols sqlite store lookup: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]convert.Row, error) {
	var out []convert.Row
	for rows.Next() {
		var r convert.Row
		if err := rows.Scan(&r.Name, &r.CType, &r.CSubtype, &r.Contract, &r.Address); err != nil {
			return nil, fmt.Errorf("protocols sqlite store scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Runs returns recorded runs, most recent first.
func (s *SQLiteStore) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, output, files, failed, row_count, started_at, finished_at
		 FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("protocols sqlite store list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                   Run
			started, finishedAt string
		)
		if err := rows.Scan(&r.ID, &r.Source, &r.Output, &r.Files, &r.Failed, &r.Rows, &started, &finishedAt); err != nil {
			return nil, fmt.Errorf("protocols sqlite store scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("protocols sqlite store parse started_at: %w", err)
		}
		if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
			return nil, fmt.Errorf("protocols sqlite store parse finished_at: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
