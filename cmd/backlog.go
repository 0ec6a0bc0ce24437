// File: cmd/backlog.go
package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rewards-cli/internal/backlog"
	"github.com/xkilldash9x/rewards-cli/internal/config"
	"github.com/xkilldash9x/rewards-cli/internal/observability"
	"github.com/xkilldash9x/rewards-cli/internal/store"
	"github.com/xkilldash9x/rewards-cli/internal/terms"
)

func newBacklogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backlog",
		Short: "Inspects or refills the persisted term backlog",
	}
	cmd.AddCommand(newBacklogShowCmd(), newBacklogResetCmd(), newBacklogLoadCmd())
	return cmd
}

// withStore opens the configured store for the duration of fn.
func withStore(ctx context.Context, cfg *config.Config, fn func(store.Store, *zap.Logger) error) error {
	logger := observability.GetLogger()
	st, err := openStore(ctx, cfg.Store, uuid.NewString(), logger)
	if err != nil {
		return fmt.Errorf("open backlog store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logger.Warn("Failed to close backlog store", zap.Error(cerr))
		}
	}()
	return fn(st, logger)
}

func newBacklogShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Prints the load date and the pending terms in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfg, func(st store.Store, _ *zap.Logger) error {
				date, ok, err := st.LoadDate(cmd.Context())
				if err != nil {
					return err
				}
				list, err := st.Terms(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !ok || date == "" {
					date = "never"
				}
				fmt.Fprintf(out, "Loaded: %s\nTerms: %d\n", date, len(list))
				for i, term := range list {
					fmt.Fprintf(out, "%4d  %s\n", i+1, term)
				}
				return nil
			})
		},
	}
}

func newBacklogResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Empties the backlog so the next run fetches fresh terms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfg, func(st store.Store, logger *zap.Logger) error {
				if err := backlog.New(st, nil, logger).Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Backlog cleared.")
				return nil
			})
		},
	}
}

func newBacklogLoadCmd() *cobra.Command {
	var (
		count int
		lang  string
		geo   string
	)
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Replaces the backlog with freshly fetched trending terms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if count <= 0 {
				return fmt.Errorf("--count must be positive")
			}
			if lang == "" {
				lang = cfg.Search.Language
			}
			if geo == "" {
				geo = cfg.Search.Geo
			}
			locale, err := terms.ResolveLocale(lang, geo)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfg, func(st store.Store, logger *zap.Logger) error {
				client, err := newHTTPClient(cfg, logger)
				if err != nil {
					return err
				}
				bl := newBacklog(cfg, st, client, logger)
				if err := bl.Reload(cmd.Context(), locale, count); err != nil {
					return err
				}
				list, err := bl.Terms(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d terms for %s.\n", len(list), locale)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 30, "number of terms to fetch")
	cmd.Flags().StringVar(&lang, "lang", "", "language for trending terms")
	cmd.Flags().StringVar(&geo, "geo", "", "region for trending terms")
	return cmd
}
