// File: internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS backlog (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL DEFAULT '',
	seq   BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS backlog_seq ON backlog (seq);
CREATE TABLE IF NOT EXISTS backlog_lock (
	id          INTEGER PRIMARY KEY,
	owner       TEXT NOT NULL,
	acquired_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	account       TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL,
	start_balance INTEGER NOT NULL,
	final_balance INTEGER NOT NULL,
	units         INTEGER NOT NULL,
	credited      INTEGER NOT NULL,
	demoted       INTEGER NOT NULL,
	error         TEXT NOT NULL DEFAULT ''
);`

const (
	sqlAcquireLock = `
INSERT INTO backlog_lock (id, owner, acquired_at) VALUES (1, $1, now())
ON CONFLICT (id) DO UPDATE SET owner = EXCLUDED.owner, acquired_at = EXCLUDED.acquired_at
WHERE backlog_lock.owner = EXCLUDED.owner
   OR backlog_lock.acquired_at < now() - make_interval(secs => $2)`
	sqlReleaseLock = `DELETE FROM backlog_lock WHERE id = 1 AND owner = $1`

	sqlLoadDate     = `SELECT value FROM backlog WHERE key = $1`
	sqlClearBacklog = `DELETE FROM backlog`
	sqlInsertDate   = `INSERT INTO backlog (key, value, seq) VALUES ($1, $2, 0)`
	sqlInsertTerms  = `
INSERT INTO backlog (key, value, seq)
SELECT t.term, '', t.n FROM unnest($1::text[]) WITH ORDINALITY AS t(term, n)
ON CONFLICT (key) DO NOTHING`
	sqlFirstTerm  = `SELECT key FROM backlog WHERE key <> $1 ORDER BY seq LIMIT 1`
	sqlListTerms  = `SELECT key FROM backlog WHERE key <> $1 ORDER BY seq`
	sqlDeleteTerm = `DELETE FROM backlog WHERE key = $1`
	sqlAppendTerm = `INSERT INTO backlog (key, value, seq) SELECT $1, '', COALESCE(MAX(seq), 0) + 1 FROM backlog`

	sqlInsertRun = `
INSERT INTO runs (id, account, started_at, finished_at, start_balance, final_balance, units, credited, demoted, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	sqlRunColumns = `id, account, started_at, finished_at, start_balance, final_balance, units, credited, demoted, error`
	sqlLastRun    = `SELECT ` + sqlRunColumns + ` FROM runs WHERE account = $1 ORDER BY finished_at DESC LIMIT 1`
	sqlListRuns   = `SELECT ` + sqlRunColumns + ` FROM runs ORDER BY finished_at DESC LIMIT $1`
)

// PostgresStore keeps the backlog in PostgreSQL so several machines can
// share one account's state. Exclusivity is a lease row in backlog_lock
// that another owner may take over once it is older than the lock TTL.
type PostgresStore struct {
	pool    DBPool
	owner   string
	lockTTL time.Duration
	log     *zap.Logger
}

// OpenPostgres connects to url, applies the schema and takes the lease.
func OpenPostgres(ctx context.Context, url, owner string, lockTTL time.Duration, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := NewPostgres(ctx, pool, owner, lockTTL, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.Lock(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres wraps an existing pool and verifies the connection.
func NewPostgres(ctx context.Context, pool DBPool, owner string, lockTTL time.Duration, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{
		pool:    pool,
		owner:   owner,
		lockTTL: lockTTL,
		log:     logger.Named("store"),
	}, nil
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Lock takes or renews the lease for this owner.
func (s *PostgresStore) Lock(ctx context.Context) error {
	tag, err := s.pool.Exec(ctx, sqlAcquireLock, s.owner, s.lockTTL.Seconds())
	if err != nil {
		return fmt.Errorf("failed to acquire backlog lock: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrLocked
	}
	return nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.log.Error("Failed to rollback transaction", zap.Error(rbErr))
			}
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadDate(ctx context.Context) (string, bool, error) {
	var date string
	err := s.pool.QueryRow(ctx, sqlLoadDate, LoadDateKey).Scan(&date)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read load date: %w", err)
	}
	return date, true, nil
}

func (s *PostgresStore) Replace(ctx context.Context, loadDate string, terms []string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, sqlClearBacklog); err != nil {
			return fmt.Errorf("failed to clear backlog: %w", err)
		}
		if _, err := tx.Exec(ctx, sqlInsertDate, LoadDateKey, loadDate); err != nil {
			return fmt.Errorf("failed to write load date: %w", err)
		}
		if len(terms) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, sqlInsertTerms, terms); err != nil {
			return fmt.Errorf("failed to insert terms: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) First(ctx context.Context) (string, bool, error) {
	var term string
	err := s.pool.QueryRow(ctx, sqlFirstTerm, LoadDateKey).Scan(&term)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read first term: %w", err)
	}
	return term, true, nil
}

func (s *PostgresStore) Terms(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, sqlListTerms, LoadDateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list terms: %w", err)
	}
	terms, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan terms: %w", err)
	}
	return terms, nil
}

func (s *PostgresStore) Remove(ctx context.Context, term string) error {
	if term == LoadDateKey {
		return fmt.Errorf("refusing to remove reserved key %q", LoadDateKey)
	}
	if _, err := s.pool.Exec(ctx, sqlDeleteTerm, term); err != nil {
		return fmt.Errorf("failed to remove term: %w", err)
	}
	return nil
}

func (s *PostgresStore) Demote(ctx context.Context, term string) error {
	if term == LoadDateKey {
		return fmt.Errorf("refusing to demote reserved key %q", LoadDateKey)
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, sqlDeleteTerm, term); err != nil {
			return fmt.Errorf("failed to remove term: %w", err)
		}
		if _, err := tx.Exec(ctx, sqlAppendTerm, term); err != nil {
			return fmt.Errorf("failed to append term: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) RecordRun(ctx context.Context, r Run) error {
	_, err := s.pool.Exec(ctx, sqlInsertRun,
		r.ID, r.Account, r.StartedAt.UTC(), r.FinishedAt.UTC(),
		r.StartBalance, r.FinalBalance, r.Units, r.Credited, r.Demoted, r.Error)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

func scanPostgresRun(row pgx.CollectableRow) (Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.Account, &r.StartedAt, &r.FinishedAt,
		&r.StartBalance, &r.FinalBalance, &r.Units, &r.Credited, &r.Demoted, &r.Error)
	return r, err
}

func (s *PostgresStore) LastRun(ctx context.Context, account string) (Run, bool, error) {
	rows, err := s.pool.Query(ctx, sqlLastRun, account)
	if err != nil {
		return Run{}, false, fmt.Errorf("failed to read last run: %w", err)
	}
	runs, err := pgx.CollectRows(rows, scanPostgresRun)
	if err != nil {
		return Run{}, false, fmt.Errorf("failed to scan last run: %w", err)
	}
	if len(runs) == 0 {
		return Run{}, false, nil
	}
	return runs[0], true, nil
}

func (s *PostgresStore) Runs(ctx context.Context, limit int) ([]Run, error) {
	var arg any = limit
	if limit <= 0 {
		arg = nil // LIMIT NULL means no limit
	}
	rows, err := s.pool.Query(ctx, sqlListRuns, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, scanPostgresRun)
	if err != nil {
		return nil, fmt.Errorf("failed to scan runs: %w", err)
	}
	return runs, nil
}

// Close releases the lease and the pool.
func (s *PostgresStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, sqlReleaseLock, s.owner)
	s.pool.Close()
	if err != nil {
		return fmt.Errorf("failed to release backlog lock: %w", err)
	}
	return nil
}
