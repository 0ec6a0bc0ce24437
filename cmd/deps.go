// File: cmd/deps.go
package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/rewards-cli/internal/backlog"
	"github.com/xkilldash9x/rewards-cli/internal/browser"
	"github.com/xkilldash9x/rewards-cli/internal/config"
	"github.com/xkilldash9x/rewards-cli/internal/network"
	"github.com/xkilldash9x/rewards-cli/internal/rewards"
	"github.com/xkilldash9x/rewards-cli/internal/search"
	"github.com/xkilldash9x/rewards-cli/internal/store"
	"github.com/xkilldash9x/rewards-cli/internal/terms"
)

// browserFactory is what the commands need from browser.Factory.
type browserFactory interface {
	search.SessionOpener
	UserInfo(ctx context.Context) (rewards.UserInfo, error)
	OpenProfile(ctx context.Context, device search.Device, url string) error
}

// Providers are package variables so tests can substitute the browser and
// the store.
var (
	openStore = store.Open

	newBrowserFactory = func(cfg *config.Config, getter rewards.Getter, logger *zap.Logger, headless bool, locale string) browserFactory {
		return browser.NewFactory(cfg, getter, logger, browser.WithHeadless(headless), browser.WithLocale(locale))
	}
)

// newHTTPClient builds the client shared by the term providers, the portal
// client and the notifier.
func newHTTPClient(cfg *config.Config, logger *zap.Logger) (*network.Client, error) {
	cc, err := network.ClientConfigFrom(cfg.Network, logger.Named("http"))
	if err != nil {
		return nil, fmt.Errorf("network config: %w", err)
	}
	cc.RateLimit = rate.Limit(cfg.Terms.RateLimit)
	cc.UserAgent = cfg.Browser.DesktopUserAgent
	return network.NewClient(cc), nil
}

// newBacklog wires the persistent backlog to the trends provider.
func newBacklog(cfg *config.Config, st store.Store, client *network.Client, logger *zap.Logger) *backlog.Backlog {
	source := terms.NewSource(client, terms.SourceConfig{
		Endpoint:        cfg.Terms.TrendsURL,
		MaxLookbackDays: cfg.Terms.MaxLookbackDays,
		ParallelDays:    cfg.Terms.ParallelDays,
	}, logger)
	return backlog.New(st, source, logger)
}
