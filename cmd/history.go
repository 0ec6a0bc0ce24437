// File: cmd/history.go
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/rewards-cli/internal/store"
)

// historyEntry is the printed form of a recorded run.
type historyEntry struct {
	ID       string        `yaml:"id"`
	Account  string        `yaml:"account"`
	Started  string        `yaml:"started"`
	Duration time.Duration `yaml:"duration"`
	Balance  int           `yaml:"balance"`
	Earned   int           `yaml:"earned"`
	Searches int           `yaml:"searches"`
	Credited int           `yaml:"credited"`
	Demoted  int           `yaml:"demoted"`
	Error    string        `yaml:"error,omitempty"`
}

func toHistoryEntry(r store.Run) historyEntry {
	return historyEntry{
		ID:       r.ID,
		Account:  r.Account,
		Started:  r.StartedAt.Local().Format(time.RFC3339),
		Duration: r.FinishedAt.Sub(r.StartedAt).Round(time.Second),
		Balance:  r.FinalBalance,
		Earned:   r.Earned(),
		Searches: r.Units,
		Credited: r.Credited,
		Demoted:  r.Demoted,
		Error:    r.Error,
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Lists recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			return withStore(cmd.Context(), cfg, func(st store.Store, _ *zap.Logger) error {
				runs, err := st.Runs(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
					return nil
				}
				entries := make([]historyEntry, 0, len(runs))
				for _, r := range runs {
					entries = append(entries, toHistoryEntry(r))
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(entries)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of runs to show")
	return cmd
}
