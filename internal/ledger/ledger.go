// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package ledger keeps a SQLite history of processed class files.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/dotandev/tailrec/internal/errors"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is one processed file in one run.
type Entry struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Path       string    `json:"path"`
	InputHash  string    `json:"input_hash"`
	OutputHash string    `json:"output_hash"`
	Status     string    `json:"status"`
	Methods    []string  `json:"methods,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Store handles ledger database operations.
type Store struct {
	db *sql.DB
}

// NewRunID returns a fresh identifier grouping the entries of one run.
func NewRunID() string { return uuid.NewString() }

// DefaultPath is ~/.tailrec/ledger.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.WrapLedgerError("failed to get home dir", err)
	}
	return filepath.Join(home, ".tailrec", "ledger.db"), nil
}

// Open opens or creates the ledger at path. ":memory:" gives a private
// in-memory ledger.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.WrapLedgerError("failed to create data dir", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WrapLedgerError("failed to open db", err)
	}
	// One connection serializes writers and keeps a memory database shared.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		path TEXT NOT NULL,
		input_hash TEXT NOT NULL,
		output_hash TEXT NOT NULL,
		status TEXT NOT NULL,
		methods TEXT,
		error TEXT,
		recorded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_path ON entries(path);
	CREATE INDEX IF NOT EXISTS idx_entries_run ON entries(run_id);
	`
	if _, err := db.Exec(query); err != nil {
		return errors.WrapLedgerError("failed to init schema", err)
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Record persists e and fills in its ID and Timestamp.
func (s *Store) Record(ctx context.Context, e *Entry) error {
	methods, err := json.Marshal(e.Methods)
	if err != nil {
		return errors.WrapLedgerError("failed to encode methods", err)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
	INSERT INTO entries (run_id, path, input_hash, output_hash, status, methods, error, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.RunID, e.Path, e.InputHash, e.OutputHash, e.Status, string(methods), e.Error, e.Timestamp.UnixNano())
	if err != nil {
		return errors.WrapLedgerError("failed to insert entry", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// LastOutputHash returns the output hash of the newest entry for path.
func (s *Store) LastOutputHash(ctx context.Context, path string) (string, bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		"SELECT output_hash FROM entries WHERE path = ? ORDER BY id DESC LIMIT 1", path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.WrapLedgerError("lookup failed", err)
	}
	return hash, true, nil
}

// SearchParams defines the criteria for searching entries.
type SearchParams struct {
	RunID     string
	Status    string
	PathRegex string
	Limit     int
}

// Search returns matching entries, newest first.
func (s *Store) Search(ctx context.Context, params SearchParams) ([]Entry, error) {
	query := "SELECT id, run_id, path, input_hash, output_hash, status, methods, error, recorded_at FROM entries WHERE 1=1"
	args := []any{}

	if params.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, params.RunID)
	}
	if params.Status != "" {
		query += " AND status = ?"
		args = append(args, params.Status)
	}
	query += " ORDER BY id DESC"

	var pathRe *regexp.Regexp
	if params.PathRegex != "" {
		re, err := regexp.Compile(params.PathRegex)
		if err != nil {
			return nil, fmt.Errorf("invalid path regex: %w", err)
		}
		pathRe = re
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapLedgerError("query failed", err)
	}
	defer rows.Close()

	var results []Entry
	for rows.Next() {
		if params.Limit > 0 && len(results) >= params.Limit {
			break
		}

		var e Entry
		var methods, errMsg sql.NullString
		var ts int64
		if err := rows.Scan(&e.ID, &e.RunID, &e.Path, &e.InputHash, &e.OutputHash, &e.Status, &methods, &errMsg, &ts); err != nil {
			return nil, errors.WrapLedgerError("scan failed", err)
		}
		if pathRe != nil && !pathRe.MatchString(e.Path) {
			continue
		}
		_ = json.Unmarshal([]byte(methods.String), &e.Methods)
		e.Error = errMsg.String
		e.Timestamp = time.Unix(0, ts)
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapLedgerError("query failed", err)
	}
	return results, nil
}
