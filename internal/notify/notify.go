// File: internal/notify/notify.go
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rewards-cli/internal/network"
	"github.com/xkilldash9x/rewards-cli/internal/search"
)

// Message is the payload delivered to every webhook.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Notifier delivers a run summary.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Poster is the subset of network.Client used for delivery.
type Poster interface {
	PostJSON(ctx context.Context, url string, payload any, opts ...network.RequestOption) ([]byte, int, error)
}

// Nop drops every message.
type Nop struct{}

func (Nop) Notify(context.Context, Message) error { return nil }

// Webhook posts messages as JSON to a fixed set of URLs.
type Webhook struct {
	poster Poster
	urls   []string
	logger *zap.Logger
}

// New returns a Webhook for urls, or Nop when there are none.
func New(poster Poster, urls []string, logger *zap.Logger) Notifier {
	var clean []string
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			clean = append(clean, u)
		}
	}
	if len(clean) == 0 {
		return Nop{}
	}
	return &Webhook{poster: poster, urls: clean, logger: logger.Named("notify")}
}

// Notify posts msg to every URL. Every URL is tried; failures are joined.
func (w *Webhook) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, u := range w.urls {
		_, status, err := w.poster.PostJSON(ctx, u, msg)
		if err == nil && (status < http.StatusOK || status >= http.StatusMultipleChoices) {
			err = fmt.Errorf("unexpected status %d", status)
		}
		if err != nil {
			w.logger.Warn("Notification failed", zap.String("url", redact(u)), zap.Error(err))
			errs = append(errs, fmt.Errorf("notify %s: %w", redact(u), err))
			continue
		}
		w.logger.Debug("Notification sent", zap.String("url", redact(u)))
	}
	return errors.Join(errs...)
}

// redact keeps the scheme and host; webhook paths usually carry tokens.
func redact(u string) string {
	scheme, rest, ok := strings.Cut(u, "://")
	if !ok {
		return "<webhook>"
	}
	host, _, _ := strings.Cut(rest, "/")
	return scheme + "://" + host + "/..."
}

// SummaryMode decides when the run summary is sent.
type SummaryMode string

const (
	Always  SummaryMode = "always"
	OnError SummaryMode = "on_error"
	Never   SummaryMode = "never"
)

// ParseSummaryMode accepts always, on_error or never in any case.
func ParseSummaryMode(s string) (SummaryMode, error) {
	switch m := SummaryMode(strings.ToLower(strings.TrimSpace(s))); m {
	case Always, OnError, Never:
		return m, nil
	}
	return "", fmt.Errorf("unknown summary mode %q (expected always, on_error or never)", s)
}

// ShouldSend reports whether a summary is due for a run that did or did not
// fail.
func (m SummaryMode) ShouldSend(failed bool) bool {
	switch m {
	case Always:
		return true
	case OnError:
		return failed
	}
	return false
}

// Summary describes one finished run.
type Summary struct {
	Account      string
	StartBalance int
	FinalBalance int
	// PreviousEarned is what the last recorded run earned, if any.
	PreviousEarned *int
	Credited       int
	Demoted        int
	Remaining      search.Counters
	Err            error
}

// Failed is true when the run errored or left quota behind.
func (s Summary) Failed() bool {
	return s.Err != nil || s.Remaining.Total() > 0
}

// Message renders the summary.
func (s Summary) Message() Message {
	title := fmt.Sprintf("Rewards: %s", s.Account)
	if s.Failed() {
		title += " (incomplete)"
	}

	var b strings.Builder
	earned := s.FinalBalance - s.StartBalance
	fmt.Fprintf(&b, "Points earned: %d\n", earned)
	if s.PreviousEarned != nil {
		fmt.Fprintf(&b, "Previous run: %d (%+d)\n", *s.PreviousEarned, earned-*s.PreviousEarned)
	}
	fmt.Fprintf(&b, "Total points: %d\n", s.FinalBalance)
	fmt.Fprintf(&b, "Searches credited: %d, demoted: %d\n", s.Credited, s.Demoted)
	if s.Remaining.Total() > 0 {
		fmt.Fprintf(&b, "Remaining searches: desktop %d, mobile %d\n", s.Remaining.Desktop, s.Remaining.Mobile)
	}
	if s.Err != nil {
		fmt.Fprintf(&b, "Error: %v\n", s.Err)
	}
	return Message{Title: title, Body: strings.TrimRight(b.String(), "\n")}
}
