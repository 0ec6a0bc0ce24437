// File: internal/search/engine.go
package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rewards-cli/internal/network"
	"github.com/xkilldash9x/rewards-cli/internal/retry"
)

// Outcome is the result of one credit-earning unit.
type Outcome struct {
	// Term is the root term the unit worked on.
	Term string
	// Balance is the credited balance on success, else the starting balance.
	Balance int
	// Credited reports whether the balance rose after a submit.
	Credited bool
	// Attempts counts the submits made, between 1 and MaxAttempts+1.
	Attempts int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSleep replaces the context-aware sleep used between attempts.
func WithSleep(sleep func(context.Context, time.Duration) error) EngineOption {
	return func(e *Engine) { e.sleep = sleep }
}

// WithTypeVerifyTries bounds the type-and-verify loop of each submit.
func WithTypeVerifyTries(n int) EngineOption {
	return func(e *Engine) { e.typeTries = n }
}

// Engine earns one search credit per Attempt. It reads the balance, takes
// the first backlog term, and submits phrases from that term's rotation
// until the balance strictly rises or the retry policy is used up. A
// credited term is removed from the backlog; an exhausted one is moved to
// its end.
type Engine struct {
	backlog   Backlog
	related   RelatedTerms
	policy    retry.Policy
	typeTries int
	logger    *zap.Logger
	sleep     func(context.Context, time.Duration) error
}

// NewEngine creates an Engine. The policy is copied and never changes.
func NewEngine(backlog Backlog, related RelatedTerms, policy retry.Policy, logger *zap.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		backlog:   backlog,
		related:   related,
		policy:    policy,
		typeTries: DefaultTypeVerifyTries,
		logger:    logger.Named("engine"),
		sleep:     network.SleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Attempt runs one unit against the given actor and oracle.
//
// Failing to read the starting balance, an empty backlog and backlog
// persistence errors end the unit with an error. Actor failures and failed
// balance reads after a submit only cost the attempt. Exhausting every
// attempt is not an error: the Outcome reports Credited=false.
func (e *Engine) Attempt(ctx context.Context, actor Actor, oracle Oracle) (Outcome, error) {
	before, err := oracle.CurrentBalance(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("read starting balance: %w", err)
	}
	root, err := e.backlog.PeekNext(ctx)
	if err != nil {
		return Outcome{}, err
	}

	related, err := e.related.RelatedTerms(ctx, root)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		e.logger.Warn("Related terms unavailable, rotating on the root term",
			zap.String("term", root), zap.Error(err))
		related = nil
	}
	rotation := NewRotation(root, related)
	e.logger.Debug("Starting search unit",
		zap.String("term", root),
		zap.Int("rotation", rotation.Len()),
		zap.Int("balance", before))

	out := Outcome{Term: root, Balance: before}
	for i := 0; i <= e.policy.MaxAttempts; i++ {
		if i > 0 {
			delay := e.policy.Delay(i)
			e.logger.Debug("Search attempt failed, backing off",
				zap.String("term", root),
				zap.Int("attempt", i),
				zap.Int("max", e.policy.MaxAttempts),
				zap.Duration("delay", delay))
			if err := e.sleep(ctx, delay); err != nil {
				return out, err
			}
		}
		out.Attempts = i + 1

		phrase := rotation.Next()
		if err := e.submit(ctx, actor, phrase); err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			e.logger.Warn("Search submit failed", zap.String("phrase", phrase), zap.Int("attempt", i), zap.Error(err))
			continue
		}

		after, err := oracle.CurrentBalance(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			e.logger.Warn("Balance check failed", zap.String("phrase", phrase), zap.Int("attempt", i), zap.Error(err))
			continue
		}
		// Equal is not credit: the balance may simply be stale.
		if after > before {
			if err := e.backlog.Remove(ctx, root); err != nil {
				return out, err
			}
			out.Balance = after
			out.Credited = true
			e.logger.Debug("Search credited",
				zap.String("term", root),
				zap.String("phrase", phrase),
				zap.Int("balance", after),
				zap.Int("attempts", out.Attempts))
			return out, nil
		}
	}

	e.logger.Error("Reached max search attempt retries",
		zap.String("term", root),
		zap.Int("attempts", out.Attempts))
	if err := e.backlog.Demote(ctx, root); err != nil {
		return out, err
	}
	return out, nil
}

func (e *Engine) submit(ctx context.Context, actor Actor, phrase string) error {
	if err := EnterText(ctx, actor, phrase, e.typeTries); err != nil {
		return err
	}
	if err := actor.Submit(ctx); err != nil {
		return &InteractionError{Op: "submit", Text: phrase, Err: err}
	}
	return nil
}
