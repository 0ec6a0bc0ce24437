// File: cmd/search.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rewards-cli/internal/config"
	"github.com/xkilldash9x/rewards-cli/internal/network"
	"github.com/xkilldash9x/rewards-cli/internal/notify"
	"github.com/xkilldash9x/rewards-cli/internal/observability"
	"github.com/xkilldash9x/rewards-cli/internal/retry"
	"github.com/xkilldash9x/rewards-cli/internal/rewards"
	"github.com/xkilldash9x/rewards-cli/internal/search"
	"github.com/xkilldash9x/rewards-cli/internal/store"
	"github.com/xkilldash9x/rewards-cli/internal/terms"
)

type searchOptions struct {
	desktop int
	mobile  int
	lang    string
	geo     string
	visible bool
}

func newSearchCmd() *cobra.Command {
	opts := searchOptions{}
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Runs today's remaining desktop and mobile searches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			return runSearch(cmd.Context(), cfg, opts, cmd.OutOrStdout(), observability.GetLogger())
		},
	}
	cmd.Flags().IntVar(&opts.desktop, "desktop", -1, "desktop searches to run (default: read from the portal)")
	cmd.Flags().IntVar(&opts.mobile, "mobile", -1, "mobile searches to run (default: read from the portal)")
	cmd.Flags().StringVar(&opts.lang, "lang", "", "language for trending terms (default: search.language or $LANG)")
	cmd.Flags().StringVar(&opts.geo, "geo", "", "region for trending terms (default: search.geo or $LANG)")
	cmd.Flags().BoolVar(&opts.visible, "visible", false, "show the browser window")
	return cmd
}

func runSearch(ctx context.Context, cfg *config.Config, opts searchOptions, out io.Writer, logger *zap.Logger) error {
	policy, err := cfg.Retries.Policy()
	if err != nil {
		return err
	}
	lang, geo := cfg.Search.Language, cfg.Search.Geo
	if opts.lang != "" {
		lang = opts.lang
	}
	if opts.geo != "" {
		geo = opts.geo
	}
	locale, err := terms.ResolveLocale(lang, geo)
	if err != nil {
		return err
	}
	mode, err := notify.ParseSummaryMode(cfg.Notify.Summary)
	if err != nil {
		return err
	}

	client, err := newHTTPClient(cfg, logger)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID), zap.String("account", cfg.Rewards.Account))

	st, err := openStore(ctx, cfg.Store, runID, logger)
	if err != nil {
		return fmt.Errorf("open backlog store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logger.Warn("Failed to close backlog store", zap.Error(cerr))
		}
	}()

	factory := newBrowserFactory(cfg, client, logger, !opts.visible && cfg.Browser.Headless, locale.String())

	started := time.Now()
	info, err := factory.UserInfo(ctx)
	if err != nil {
		return fmt.Errorf("read account status: %w", err)
	}
	counters := rewards.RemainingSearches(info)
	if opts.desktop >= 0 {
		counters.Desktop = opts.desktop
	}
	if opts.mobile >= 0 {
		counters.Mobile = opts.mobile
	}
	logger.Info("Account status",
		zap.Int("balance", info.Balance),
		zap.Int("desktop_searches", counters.Desktop),
		zap.Int("mobile_searches", counters.Mobile),
		zap.Stringer("locale", locale))

	var res search.Result
	var runErr error
	if counters.Total() > 0 {
		res, runErr = runQuota(ctx, cfg, st, client, factory, policy, locale, counters, logger)
	} else {
		logger.Info("Nothing to do; daily search quota already complete")
	}

	// An interrupted run is still recorded and reported.
	after := context.WithoutCancel(ctx)

	final := info.Balance
	if res.Units > 0 {
		final = res.FinalBalance
	}
	remaining := search.Counters{}
	switch {
	case counters.Total() == 0:
	case ctx.Err() != nil:
		remaining = counters
	default:
		if post, err := factory.UserInfo(ctx); err != nil {
			logger.Warn("Could not read final account status", zap.Error(err))
			remaining = counters
		} else {
			final = post.Balance
			remaining = rewards.RemainingSearches(post)
		}
	}

	run := store.Run{
		ID:           runID,
		Account:      cfg.Rewards.Account,
		StartedAt:    started,
		FinishedAt:   time.Now(),
		StartBalance: info.Balance,
		FinalBalance: final,
		Units:        res.Units,
		Credited:     res.Credited,
		Demoted:      res.Demoted,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	summary := notify.Summary{
		Account:      cfg.Rewards.Account,
		StartBalance: run.StartBalance,
		FinalBalance: run.FinalBalance,
		Credited:     run.Credited,
		Demoted:      run.Demoted,
		Remaining:    remaining,
		Err:          runErr,
	}
	if prev, ok, err := st.LastRun(after, cfg.Rewards.Account); err != nil {
		logger.Warn("Could not read previous run", zap.Error(err))
	} else if ok {
		earned := prev.Earned()
		summary.PreviousEarned = &earned
	}
	if err := st.RecordRun(after, run); err != nil {
		logger.Error("Failed to record run", zap.Error(err))
	}

	msg := summary.Message()
	fmt.Fprintf(out, "%s\n%s\n", msg.Title, msg.Body)

	if mode.ShouldSend(summary.Failed()) {
		notifier := notify.New(client, cfg.Notify.URLs, logger)
		if err := notifier.Notify(after, msg); err != nil {
			logger.Warn("Summary notification failed", zap.Error(err))
		}
	}
	return runErr
}

// runQuota loads today's backlog and works through counters.
func runQuota(
	ctx context.Context,
	cfg *config.Config,
	st store.Store,
	client *network.Client,
	opener search.SessionOpener,
	policy retry.Policy,
	locale terms.Locale,
	counters search.Counters,
	logger *zap.Logger,
) (search.Result, error) {
	bl := newBacklog(cfg, st, client, logger)
	if err := bl.Load(ctx, locale, counters.Total()); err != nil {
		return search.Result{}, fmt.Errorf("load backlog: %w", err)
	}

	engine := search.NewEngine(bl, terms.NewSuggester(client, cfg.Terms.SuggestURL, logger), policy, logger,
		search.WithTypeVerifyTries(cfg.Search.TypeVerifyTries))
	runner := search.NewRunner(engine, opener, logger,
		search.WithPacing(cfg.Search.PacingMin, cfg.Search.PacingMax))
	return runner.Run(ctx, counters)
}
