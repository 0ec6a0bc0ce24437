// File: internal/store/sqlite.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS backlog (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL DEFAULT '',
	seq   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS backlog_seq ON backlog (seq);
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	account       TEXT NOT NULL,
	started_at    INTEGER NOT NULL,
	finished_at   INTEGER NOT NULL,
	start_balance INTEGER NOT NULL,
	final_balance INTEGER NOT NULL,
	units         INTEGER NOT NULL,
	credited      INTEGER NOT NULL,
	demoted       INTEGER NOT NULL,
	error         TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS store_owner (
	id        INTEGER PRIMARY KEY CHECK (id = 1),
	owner     TEXT NOT NULL,
	opened_at INTEGER NOT NULL
);`

// SQLiteStore keeps the backlog in a single-file database. The connection
// runs in exclusive locking mode, so once the owner row is written no other
// process can read or write the file until Close.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

// OpenSQLite opens (creating if needed) the database at path and takes the
// exclusive lock. A lock held by another process yields ErrLocked.
func OpenSQLite(ctx context.Context, path, owner string, logger *zap.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: the exclusive lock and the pragmas live on it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 2000",
		"PRAGMA locking_mode = EXCLUSIVE",
		"PRAGMA synchronous = FULL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, mapSQLiteErr(fmt.Errorf("%s: %w", pragma, err))
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, mapSQLiteErr(fmt.Errorf("apply schema: %w", err))
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO store_owner (id, owner, opened_at) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET owner = excluded.owner, opened_at = excluded.opened_at`,
		owner, time.Now().Unix()); err != nil {
		db.Close()
		return nil, mapSQLiteErr(fmt.Errorf("acquire store lock: %w", err))
	}

	return &SQLiteStore{db: db, log: logger.Named("store")}, nil
}

// isBusy reports whether err is SQLite refusing access because another
// connection holds the lock.
func isBusy(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

func mapSQLiteErr(err error) error {
	if err != nil && isBusy(err) {
		return fmt.Errorf("%w: %v", ErrLocked, err)
	}
	return err
}

// inTx runs fn in a transaction, committing on success.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.log.Error("Failed to rollback transaction", zap.Error(rbErr))
			}
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadDate(ctx context.Context) (string, bool, error) {
	var date string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM backlog WHERE key = ?`, LoadDateKey).Scan(&date)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read load date: %w", err)
	}
	return date, true, nil
}

// Replace clears the backlog and stores loadDate followed by terms in order.
func (s *SQLiteStore) Replace(ctx context.Context, loadDate string, terms []string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM backlog`); err != nil {
			return fmt.Errorf("clear backlog: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO backlog (key, value, seq) VALUES (?, ?, 0)`, LoadDateKey, loadDate); err != nil {
			return fmt.Errorf("write load date: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO backlog (key, value, seq) VALUES (?, '', ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, term := range terms {
			if _, err := stmt.ExecContext(ctx, term, i+1); err != nil {
				return fmt.Errorf("insert term %q: %w", term, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) First(ctx context.Context) (string, bool, error) {
	var term string
	err := s.db.QueryRowContext(ctx,
		`SELECT key FROM backlog WHERE key <> ? ORDER BY seq LIMIT 1`, LoadDateKey).Scan(&term)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read first term: %w", err)
	}
	return term, true, nil
}

func (s *SQLiteStore) Terms(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM backlog WHERE key <> ? ORDER BY seq`, LoadDateKey)
	if err != nil {
		return nil, fmt.Errorf("list terms: %w", err)
	}
	defer rows.Close()

	var terms []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

func (s *SQLiteStore) Remove(ctx context.Context, term string) error {
	if term == LoadDateKey {
		return fmt.Errorf("refusing to remove reserved key %q", LoadDateKey)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM backlog WHERE key = ?`, term)
		return err
	})
}

// Demote moves term behind every other term.
func (s *SQLiteStore) Demote(ctx context.Context, term string) error {
	if term == LoadDateKey {
		return fmt.Errorf("refusing to demote reserved key %q", LoadDateKey)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM backlog WHERE key = ?`, term); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO backlog (key, value, seq) SELECT ?, '', COALESCE(MAX(seq), 0) + 1 FROM backlog`, term)
		return err
	})
}

func (s *SQLiteStore) RecordRun(ctx context.Context, r Run) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO runs (id, account, started_at, finished_at, start_balance, final_balance, units, credited, demoted, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Account, r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(),
			r.StartBalance, r.FinalBalance, r.Units, r.Credited, r.Demoted, r.Error)
		if err != nil {
			return fmt.Errorf("record run: %w", err)
		}
		return nil
	})
}

const sqliteRunColumns = `id, account, started_at, finished_at, start_balance, final_balance, units, credited, demoted, error`

func scanSQLiteRun(scan func(dest ...any) error) (Run, error) {
	var r Run
	var started, finished int64
	if err := scan(&r.ID, &r.Account, &started, &finished,
		&r.StartBalance, &r.FinalBalance, &r.Units, &r.Credited, &r.Demoted, &r.Error); err != nil {
		return Run{}, err
	}
	r.StartedAt = time.UnixMilli(started)
	r.FinishedAt = time.UnixMilli(finished)
	return r, nil
}

func (s *SQLiteStore) LastRun(ctx context.Context, account string) (Run, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM runs WHERE account = ? ORDER BY finished_at DESC LIMIT 1`, account)
	r, err := scanSQLiteRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, fmt.Errorf("read last run: %w", err)
	}
	return r, true, nil
}

// Runs lists the most recent runs, newest first.
func (s *SQLiteStore) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM runs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close releases the exclusive lock.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
