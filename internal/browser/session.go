// File: internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rewards-cli/internal/rewards"
	"github.com/xkilldash9x/rewards-cli/internal/search"
)

const valuePollInterval = 100 * time.Millisecond

// Session drives the search box of one device's browser tab and reports the
// balance through the rewards portal using the tab's cookies.
type Session struct {
	ctx           context.Context
	cancel        context.CancelFunc
	device        search.Device
	selector      string
	actionTimeout time.Duration
	verifyTimeout time.Duration
	cookieURLs    []string
	portal        *rewards.Client
	logger        *zap.Logger
}

var _ search.Session = (*Session)(nil)

// run executes actions on the tab, bounded by the action timeout and by the
// caller's ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, s.actionTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// ClearInput waits for the search box and empties it.
func (s *Session) ClearInput(ctx context.Context) error {
	if err := s.run(ctx,
		chromedp.WaitVisible(s.selector, chromedp.ByQuery),
		chromedp.Clear(s.selector, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("clear %s: %w", s.selector, err)
	}
	return nil
}

// Type sends text to the search box and polls its value until it matches.
// A value that never matches within the verify timeout reports false.
func (s *Session) Type(ctx context.Context, text string) (bool, error) {
	if err := s.run(ctx, chromedp.SendKeys(s.selector, text, chromedp.ByQuery)); err != nil {
		return false, fmt.Errorf("type into %s: %w", s.selector, err)
	}

	deadline := time.Now().Add(s.verifyTimeout)
	ticker := time.NewTicker(valuePollInterval)
	defer ticker.Stop()
	for {
		var value string
		if err := s.run(ctx, chromedp.Value(s.selector, &value, chromedp.ByQuery)); err != nil {
			return false, fmt.Errorf("read %s: %w", s.selector, err)
		}
		if value == text {
			return true, nil
		}
		if time.Now().After(deadline) {
			s.logger.Debug("Input did not settle", zap.String("want", text), zap.String("got", value))
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Submit submits the form that owns the search box.
func (s *Session) Submit(ctx context.Context) error {
	if err := s.run(ctx, chromedp.Submit(s.selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("submit %s: %w", s.selector, err)
	}
	return nil
}

// Cookies exports the tab's cookies for the search and portal origins.
func (s *Session) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	var cookies []*network.Cookie
	err := s.run(ctx, chromedp.ActionFunc(func(c context.Context) (err error) {
		cookies, err = network.GetCookies().WithURLs(s.cookieURLs).Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	return toHTTPCookies(cookies), nil
}

func toHTTPCookies(in []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if !c.Session && c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, hc)
	}
	return out
}

// CurrentBalance asks the portal for the point balance.
func (s *Session) CurrentBalance(ctx context.Context) (int, error) {
	return s.portal.CurrentBalance(ctx)
}

// Portal is the rewards client bound to this session's cookies.
func (s *Session) Portal() *rewards.Client { return s.portal }

// Close shuts the tab and the browser process.
func (s *Session) Close() error {
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close %s browser: %w", s.device, err)
	}
	return nil
}

