// Package sqlite implements the persistence collaborator: batched point
// writes, range queries for session resume, and age-based cleanup.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"marketstream/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a single-writer SQLite store for series points.
type Store struct {
	db *sql.DB
}

// Open creates the store, enabling WAL mode and the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", path)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS points (
			grp    TEXT    NOT NULL,
			series TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			value  REAL    NOT NULL,
			PRIMARY KEY (grp, series, ts)
		);
		CREATE INDEX IF NOT EXISTS idx_points_ts ON points (ts);
	`)
	return err
}

// DB returns the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Save inserts a batch of records in one transaction. Duplicate
// (group, series, ts) keys are replaced.
func (s *Store) Save(ctx context.Context, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO points (grp, series, ts, value)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(r.Group, r.Series, r.TS, r.Value); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert: %w", err)
		}
	}
	return tx.Commit()
}

// Query returns records with ts in [fromMs, toMs], optionally restricted to
// the given series names, ordered by timestamp.
func (s *Store) Query(ctx context.Context, fromMs, toMs int64, series ...string) ([]model.Record, error) {
	query := `SELECT grp, series, ts, value FROM points WHERE ts >= ? AND ts <= ?`
	args := []interface{}{fromMs, toMs}
	if len(series) > 0 {
		query += ` AND series IN (?` + strings.Repeat(",?", len(series)-1) + `)`
		for _, name := range series {
			args = append(args, name)
		}
	}
	query += ` ORDER BY ts`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query: %w", err)
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		var r model.Record
		if err := rows.Scan(&r.Group, &r.Series, &r.TS, &r.Value); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Cleanup deletes records older than the given timestamp and returns how
// many rows were removed.
func (s *Store) Cleanup(ctx context.Context, olderThanMs int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM points WHERE ts < ?`, olderThanMs)
	if err != nil {
		return 0, fmt.Errorf("sqlite cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
