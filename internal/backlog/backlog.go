// File: internal/backlog/backlog.go
package backlog

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rewards-cli/internal/terms"
)

// ErrEmptyBacklog means a term was requested but none remain for today.
// With quota-sized loading this indicates a sizing bug, so it is surfaced.
var ErrEmptyBacklog = errors.New("term backlog is empty")

// DateLayout is the format of the stored load date.
const DateLayout = "2006-01-02"

// Store is the persistence the backlog needs. The load date never appears
// among the terms returned by First or Terms.
type Store interface {
	LoadDate(ctx context.Context) (string, bool, error)
	Replace(ctx context.Context, loadDate string, terms []string) error
	First(ctx context.Context) (string, bool, error)
	Terms(ctx context.Context) ([]string, error)
	Remove(ctx context.Context, term string) error
	Demote(ctx context.Context, term string) error
}

// TermSource supplies fresh terms when a new day begins.
type TermSource interface {
	Fetch(ctx context.Context, count int, locale terms.Locale) ([]string, error)
}

// Option configures a Backlog.
type Option func(*Backlog)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Backlog) { b.now = now }
}

// WithShuffle replaces the uniform random permutation applied to fetched terms.
func WithShuffle(shuffle func([]string)) Option {
	return func(b *Backlog) { b.shuffle = shuffle }
}

// Backlog is the per-day queue of search terms.
type Backlog struct {
	store   Store
	source  TermSource
	logger  *zap.Logger
	now     func() time.Time
	shuffle func([]string)
}

// New creates a Backlog over store, refilled from source.
func New(store Store, source TermSource, logger *zap.Logger, opts ...Option) *Backlog {
	b := &Backlog{
		store:  store,
		source: source,
		logger: logger.Named("backlog"),
		now:    time.Now,
		shuffle: func(s []string) {
			rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backlog) today() string {
	return b.now().Format(DateLayout)
}

// Load makes sure the backlog belongs to today. A backlog from any other
// day (or none at all) is replaced with quota freshly fetched terms in random
// order. A backlog already loaded today is left as is.
func (b *Backlog) Load(ctx context.Context, locale terms.Locale, quota int) error {
	today := b.today()
	loaded, ok, err := b.store.LoadDate(ctx)
	if err != nil {
		return fmt.Errorf("read backlog date: %w", err)
	}

	if ok && loaded == today {
		remaining, err := b.store.Terms(ctx)
		if err != nil {
			return fmt.Errorf("read backlog: %w", err)
		}
		if len(remaining) < quota {
			b.logger.Warn("Today's backlog holds fewer terms than the remaining quota",
				zap.Int("terms", len(remaining)),
				zap.Int("quota", quota))
		}
		b.logger.Debug("Resuming today's backlog", zap.Int("terms", len(remaining)))
		return nil
	}

	return b.refill(ctx, today, loaded, locale, quota)
}

// Reload replaces the backlog with count freshly fetched terms regardless of
// its date. The stored backlog is untouched when the fetch fails.
func (b *Backlog) Reload(ctx context.Context, locale terms.Locale, count int) error {
	loaded, _, err := b.store.LoadDate(ctx)
	if err != nil {
		return fmt.Errorf("read backlog date: %w", err)
	}
	return b.refill(ctx, b.today(), loaded, locale, count)
}

func (b *Backlog) refill(ctx context.Context, today, previous string, locale terms.Locale, count int) error {
	fetched, err := b.source.Fetch(ctx, count, locale)
	if err != nil {
		return fmt.Errorf("fetch terms: %w", err)
	}
	fresh := dedupe(fetched)
	b.shuffle(fresh)

	if err := b.store.Replace(ctx, today, fresh); err != nil {
		return fmt.Errorf("store backlog: %w", err)
	}
	b.logger.Info("Loaded new backlog",
		zap.String("date", today),
		zap.String("previous_date", previous),
		zap.Stringer("locale", locale),
		zap.Int("terms", len(fresh)))
	return nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = terms.Normalize(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// PeekNext returns the first term without removing it.
func (b *Backlog) PeekNext(ctx context.Context) (string, error) {
	term, ok, err := b.store.First(ctx)
	if err != nil {
		return "", fmt.Errorf("read next term: %w", err)
	}
	if !ok {
		return "", ErrEmptyBacklog
	}
	return term, nil
}

// Remove drops a term after it earned credit.
func (b *Backlog) Remove(ctx context.Context, term string) error {
	if err := b.store.Remove(ctx, term); err != nil {
		return fmt.Errorf("remove term %q: %w", term, err)
	}
	return nil
}

// Demote moves a term to the end of the queue.
func (b *Backlog) Demote(ctx context.Context, term string) error {
	if err := b.store.Demote(ctx, term); err != nil {
		return fmt.Errorf("demote term %q: %w", term, err)
	}
	b.logger.Info("Moved term to the end of the backlog", zap.String("term", term))
	return nil
}

// Terms lists the pending terms in order.
func (b *Backlog) Terms(ctx context.Context) ([]string, error) {
	return b.store.Terms(ctx)
}

// LoadDate reports the day the backlog was filled.
func (b *Backlog) LoadDate(ctx context.Context) (string, bool, error) {
	return b.store.LoadDate(ctx)
}

// Clear empties the backlog and forgets its date so the next Load refills it.
func (b *Backlog) Clear(ctx context.Context) error {
	if err := b.store.Replace(ctx, "", nil); err != nil {
		return fmt.Errorf("clear backlog: %w", err)
	}
	b.logger.Info("Backlog cleared")
	return nil
}
