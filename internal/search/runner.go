// File: internal/search/runner.go
package search

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rewards-cli/internal/network"
)

// Result summarises a run.
type Result struct {
	// FinalBalance is the last balance an attempt observed.
	FinalBalance int
	Units        int
	Credited     int
	Demoted      int
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithPacing sets the bounds of the random pause between searches.
func WithPacing(lo, hi time.Duration) RunnerOption {
	return func(r *Runner) { r.pacingMin, r.pacingMax = lo, hi }
}

// WithRunnerSleep replaces the context-aware sleep used for pacing.
func WithRunnerSleep(sleep func(context.Context, time.Duration) error) RunnerOption {
	return func(r *Runner) { r.sleep = sleep }
}

// WithRand replaces the source of pacing jitter; it must return a value in [0, n).
func WithRand(int64n func(n int64) int64) RunnerOption {
	return func(r *Runner) { r.int64n = int64n }
}

// Runner works through the desktop quota and then the mobile quota, one
// search at a time, each device in its own session.
type Runner struct {
	engine    *Engine
	opener    SessionOpener
	logger    *zap.Logger
	pacingMin time.Duration
	pacingMax time.Duration
	sleep     func(context.Context, time.Duration) error
	int64n    func(n int64) int64
}

// NewRunner creates a Runner.
func NewRunner(engine *Engine, opener SessionOpener, logger *zap.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		engine:    engine,
		opener:    opener,
		logger:    logger.Named("runner"),
		pacingMin: 10 * time.Second,
		pacingMax: 15 * time.Second,
		sleep:     network.SleepContext,
		int64n:    rand.Int64N,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) pace() time.Duration {
	if r.pacingMax <= r.pacingMin {
		return r.pacingMin
	}
	return r.pacingMin + time.Duration(r.int64n(int64(r.pacingMax-r.pacingMin)+1))
}

// Run performs counters.Total() units. Exhausted units are counted as
// demoted and the run goes on; any error from the engine or the session
// ends the run and is returned with the partial result.
func (r *Runner) Run(ctx context.Context, counters Counters) (Result, error) {
	var res Result
	total := counters.Total()
	phases := []struct {
		device Device
		count  int
	}{
		{Desktop, counters.Desktop},
		{Mobile, counters.Mobile},
	}

	done := 0
	for _, phase := range phases {
		if phase.count <= 0 {
			continue
		}
		r.logger.Info("Starting searches", zap.String("device", string(phase.device)), zap.Int("count", phase.count))

		session, err := r.opener.Open(ctx, phase.device)
		if err != nil {
			return res, fmt.Errorf("open %s session: %w", phase.device, err)
		}

		err = func() (err error) {
			defer func() {
				if cerr := session.Close(); cerr != nil {
					r.logger.Warn("Failed to close session", zap.String("device", string(phase.device)), zap.Error(cerr))
				}
			}()
			for range phase.count {
				if done > 0 {
					if err := r.sleep(ctx, r.pace()); err != nil {
						return err
					}
				}
				done++
				r.logger.Info("Search",
					zap.String("device", string(phase.device)),
					zap.String("progress", fmt.Sprintf("%d/%d", done, total)))

				out, err := r.engine.Attempt(ctx, session, session)
				if err != nil {
					return err
				}
				res.Units++
				res.FinalBalance = out.Balance
				if out.Credited {
					res.Credited++
				} else {
					res.Demoted++
				}
			}
			return nil
		}()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return res, err
			}
			return res, fmt.Errorf("%s searches: %w", phase.device, err)
		}
		r.logger.Info("Finished searches", zap.String("device", string(phase.device)))
	}
	return res, nil
}
