// Package db is the console's history store: one row per exported recording
// and per calibration submission, kept in a local SQLite file.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/weccap/internal/monitoring"
)

var logger = monitoring.Logger("db")

type DB struct {
	*sql.DB
	path string
}

// OpenDB opens the database without touching its schema. The migrate
// command uses it to report or apply migrations explicitly.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// Writes come from the export sink and the API; a single connection
	// keeps SQLite from returning SQLITE_BUSY between them.
	sqlDB.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// NewDB opens the database and applies any pending migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string { return db.path }

// ExportRecord describes one artifact written to the export directory.
type ExportRecord struct {
	ID          string    `json:"id"`
	SessionName string    `json:"session_name"`
	FileName    string    `json:"filename"`
	Format      string    `json:"format"`
	Records     int       `json:"records"`
	Bytes       int64     `json:"bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

// SubmissionRecord describes one calibration point set sent to the backend.
type SubmissionRecord struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Points    int       `json:"points"`
	CreatedAt time.Time `json:"created_at"`
}

func (db *DB) RecordExport(ctx context.Context, rec ExportRecord) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO exports (id, session_name, filename, format, records, bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionName, rec.FileName, rec.Format, rec.Records, rec.Bytes,
		rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record export %s: %w", rec.FileName, err)
	}
	logger.Debug("recorded export", "id", rec.ID, "file", rec.FileName)
	return nil
}

// ListExports returns the most recent exports first. limit <= 0 means all.
func (db *DB) ListExports(ctx context.Context, limit int) ([]ExportRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, session_name, filename, format, records, bytes, created_at
		 FROM exports ORDER BY created_at DESC, rowid DESC LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	defer rows.Close()

	out := []ExportRecord{}
	for rows.Next() {
		var (
			rec     ExportRecord
			created int64
		)
		if err := rows.Scan(&rec.ID, &rec.SessionName, &rec.FileName, &rec.Format,
			&rec.Records, &rec.Bytes, &created); err != nil {
			return nil, fmt.Errorf("scan export: %w", err)
		}
		rec.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (db *DB) RecordSubmission(ctx context.Context, rec SubmissionRecord) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO calibration_submissions (id, kind, points, created_at) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.Kind, rec.Points, rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record submission %s: %w", rec.ID, err)
	}
	return nil
}

// ListSubmissions returns the most recent submissions first. limit <= 0
// means all.
func (db *DB) ListSubmissions(ctx context.Context, limit int) ([]SubmissionRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, kind, points, created_at FROM calibration_submissions
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	out := []SubmissionRecord{}
	for rows.Next() {
		var (
			rec     SubmissionRecord
			created int64
		)
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.Points, &created); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		rec.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// sqlLimit maps "no limit" onto SQLite's LIMIT -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
