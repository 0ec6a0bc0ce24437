// File: cmd/profile.go
package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/rewards-cli/internal/observability"
	"github.com/xkilldash9x/rewards-cli/internal/search"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manages the persistent browser profile",
	}

	var device string
	open := &cobra.Command{
		Use:   "open",
		Short: "Opens a visible browser on the rewards page to sign in by hand",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			d, err := search.ParseDevice(device)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			client, err := newHTTPClient(cfg, logger)
			if err != nil {
				return err
			}
			factory := newBrowserFactory(cfg, client, logger, false, "")
			err = factory.OpenProfile(cmd.Context(), d, cfg.Rewards.DashboardURL)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	open.Flags().StringVar(&device, "device", string(search.Desktop), "device profile to emulate (desktop or mobile)")
	cmd.AddCommand(open)
	return cmd
}
