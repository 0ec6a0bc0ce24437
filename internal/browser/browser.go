// File: internal/browser/browser.go
package browser

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rewards-cli/internal/config"
	"github.com/xkilldash9x/rewards-cli/internal/rewards"
	"github.com/xkilldash9x/rewards-cli/internal/search"
)

// Option configures a Factory.
type Option func(*Factory)

// WithRand sets the source used for viewport geometry.
func WithRand(rng *rand.Rand) Option {
	return func(f *Factory) { f.rng = rng }
}

// WithHeadless overrides the configured headless flag.
func WithHeadless(headless bool) Option {
	return func(f *Factory) { f.browser.Headless = headless }
}

// WithLocale makes pages see the given BCP 47 tag (for example "en-US")
// as the browser locale and preferred language.
func WithLocale(tag string) Option {
	return func(f *Factory) { f.locale = tag }
}

// Factory launches one Chrome per device session against the account's
// persistent profile. It implements search.SessionOpener.
type Factory struct {
	browser     config.BrowserConfig
	search      config.SearchConfig
	account     string
	getter      rewards.Getter
	userInfoURL string
	locale      string
	rng         *rand.Rand
	logger      *zap.Logger
}

// NewFactory creates a Factory. getter carries the balance queries made on
// behalf of each session.
func NewFactory(cfg *config.Config, getter rewards.Getter, logger *zap.Logger, opts ...Option) *Factory {
	f := &Factory{
		browser:     cfg.Browser,
		search:      cfg.Search,
		account:     cfg.Rewards.Account,
		getter:      getter,
		userInfoURL: cfg.Rewards.UserInfoURL,
		rng:         rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		logger:      logger.Named("browser"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ProfileDir is the user data directory of the configured account.
func (f *Factory) ProfileDir() string {
	return filepath.Join(f.browser.ProfileDir, f.account)
}

func (f *Factory) userAgent(device search.Device) string {
	if device == search.Mobile {
		return f.browser.MobileUserAgent
	}
	return f.browser.DesktopUserAgent
}

// allocatorOptions builds the Chrome flags for a device session.
func allocatorOptions(cfg config.BrowserConfig, profileDir, userAgent string, v Viewport) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.UserDataDir(profileDir),
		chromedp.WindowSize(int(v.Width), int(v.Height)),
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	if cfg.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.Proxy))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	for name, value := range parseArgs(cfg.Args) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// parseArgs turns "--name=value" and "--flag" entries into chromedp flags.
func parseArgs(args []string) map[string]any {
	flags := make(map[string]any, len(args))
	for _, arg := range args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		if name, value, found := strings.Cut(arg, "="); found {
			flags[name] = value
			continue
		}
		flags[arg] = true
	}
	return flags
}

// localeTasks aligns the page locale and Accept-Language with tag.
func localeTasks(tag string) chromedp.Tasks {
	lang, _, _ := strings.Cut(tag, "-")
	accept := tag
	if lang != tag {
		accept = fmt.Sprintf("%s,%s;q=0.9", tag, lang)
	}
	return chromedp.Tasks{
		emulation.SetLocaleOverride().WithLocale(tag),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": accept}),
	}
}

// launch starts Chrome and returns a tab context with the device geometry
// applied. The returned cancel closes the tab and then the browser.
func (f *Factory) launch(ctx context.Context, device search.Device) (context.Context, context.CancelFunc, error) {
	profile := f.ProfileDir()
	v, err := LoadViewport(profile, device, f.rng)
	if err != nil {
		return nil, nil, err
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(f.browser, profile, f.userAgent(device), v)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(f.logger.Sugar().Debugf))
	cancel := func() {
		tabCancel()
		allocCancel()
	}

	tasks := emulate(device, v)
	if f.locale != "" {
		tasks = append(tasks, localeTasks(f.locale)...)
	}
	if err := chromedp.Run(tabCtx, tasks); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("start %s browser: %w", device, err)
	}
	sw, sh := v.Screen(device)
	f.logger.Info("Browser started",
		zap.String("device", string(device)),
		zap.String("profile", profile),
		zap.String("viewport", fmt.Sprintf("%dx%d", v.Width, v.Height)),
		zap.String("screen", fmt.Sprintf("%dx%d", sw, sh)))
	return tabCtx, cancel, nil
}

// navigate loads url bounded by the navigation timeout.
func (f *Factory) navigate(tabCtx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(tabCtx, f.browser.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// Open starts a browser for device on the search page.
func (f *Factory) Open(ctx context.Context, device search.Device) (search.Session, error) {
	return f.OpenSession(ctx, device)
}

// OpenSession is Open returning the concrete type, for callers that also
// need the cookie jar or the portal client.
func (f *Factory) OpenSession(ctx context.Context, device search.Device) (*Session, error) {
	tabCtx, cancel, err := f.launch(ctx, device)
	if err != nil {
		return nil, err
	}
	if err := f.navigate(tabCtx, f.search.URL); err != nil {
		cancel()
		return nil, err
	}

	s := &Session{
		ctx:           tabCtx,
		cancel:        cancel,
		device:        device,
		selector:      f.search.InputSelector,
		actionTimeout: f.browser.ActionTimeout,
		verifyTimeout: f.search.TypeVerifyTimeout,
		cookieURLs:    []string{f.search.URL, f.userInfoURL},
		logger:        f.logger.With(zap.String("device", string(device))),
	}
	s.portal = rewards.NewClient(f.getter, s, f.userInfoURL, f.logger)
	return s, nil
}

// UserInfo reads the portal counters through a short-lived desktop session.
func (f *Factory) UserInfo(ctx context.Context) (rewards.UserInfo, error) {
	s, err := f.OpenSession(ctx, search.Desktop)
	if err != nil {
		return rewards.UserInfo{}, err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			f.logger.Warn("Failed to close status session", zap.Error(cerr))
		}
	}()
	return s.Portal().UserInfo(ctx)
}

// OpenProfile shows the account's profile on url so the user can sign in
// by hand. It returns once the window is closed or ctx is cancelled.
func (f *Factory) OpenProfile(ctx context.Context, device search.Device, url string) error {
	tabCtx, cancel, err := f.launch(ctx, device)
	if err != nil {
		return err
	}
	defer cancel()
	if err := f.navigate(tabCtx, url); err != nil {
		return err
	}
	f.logger.Info("Profile open; close the browser window when done", zap.String("url", url))
	<-tabCtx.Done()
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}
