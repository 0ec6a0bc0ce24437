// File: internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rewards-cli/internal/config"
)

// LoadDateKey is the reserved backlog key holding the date the backlog was
// filled. It is mixed case so it can never collide with a normalized term,
// and it is excluded from every term query.
const LoadDateKey = "loadDate"

// ErrLocked is returned when another process already owns the backlog.
var ErrLocked = errors.New("backlog store is locked by another process")

// Run is one recorded search run.
type Run struct {
	ID           string
	Account      string
	StartedAt    time.Time
	FinishedAt   time.Time
	StartBalance int
	FinalBalance int
	Units        int
	Credited     int
	Demoted      int
	Error        string
}

// Earned is the number of points the run added to the balance.
func (r Run) Earned() int { return r.FinalBalance - r.StartBalance }

// Store persists the term backlog and the run history. Every mutating call
// is durable when it returns.
type Store interface {
	LoadDate(ctx context.Context) (string, bool, error)
	Replace(ctx context.Context, loadDate string, terms []string) error
	First(ctx context.Context) (string, bool, error)
	Terms(ctx context.Context) ([]string, error)
	Remove(ctx context.Context, term string) error
	Demote(ctx context.Context, term string) error

	RecordRun(ctx context.Context, run Run) error
	LastRun(ctx context.Context, account string) (Run, bool, error)
	Runs(ctx context.Context, limit int) ([]Run, error)

	Close() error
}

// Open connects to the backend selected by cfg.Driver. owner identifies this
// process in the single-writer lock.
func Open(ctx context.Context, cfg config.StoreConfig, owner string, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		s, err := OpenSQLite(ctx, cfg.Path, owner, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := OpenPostgres(ctx, cfg.URL, owner, cfg.LockTTL, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
