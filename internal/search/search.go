// File: internal/search/search.go
package search

import (
	"context"
	"errors"
	"fmt"
)

// Device is the browser profile a search is issued from. The portal keeps a
// separate quota for each.
type Device string

const (
	Desktop Device = "desktop"
	Mobile  Device = "mobile"
)

// ParseDevice maps a flag or config value onto a Device.
func ParseDevice(s string) (Device, error) {
	switch Device(s) {
	case Desktop, Mobile:
		return Device(s), nil
	}
	return "", fmt.Errorf("unknown device %q (expected %q or %q)", s, Desktop, Mobile)
}

// Counters holds the searches still needed per device.
type Counters struct {
	Desktop int
	Mobile  int
}

// Total is the combined quota.
func (c Counters) Total() int { return c.Desktop + c.Mobile }

// Actor drives the search box of the active page.
type Actor interface {
	ClearInput(ctx context.Context) error
	// Type enters text and reports whether the input now reads back as text.
	Type(ctx context.Context, text string) (bool, error)
	Submit(ctx context.Context) error
}

// Oracle reports the current point balance. Values may be stale.
type Oracle interface {
	CurrentBalance(ctx context.Context) (int, error)
}

// Session is one device's browser: it can search and report the balance.
type Session interface {
	Actor
	Oracle
	Close() error
}

// SessionOpener starts a Session for a device.
type SessionOpener interface {
	Open(ctx context.Context, device Device) (Session, error)
}

// Backlog is the term queue the engine consumes.
type Backlog interface {
	PeekNext(ctx context.Context) (string, error)
	Remove(ctx context.Context, term string) error
	Demote(ctx context.Context, term string) error
}

// RelatedTerms expands a root term into the phrases actually typed.
type RelatedTerms interface {
	RelatedTerms(ctx context.Context, term string) ([]string, error)
}

// ErrActorInteraction marks a failure to drive the search box.
var ErrActorInteraction = errors.New("actor interaction failed")

// InteractionError carries the step that failed.
type InteractionError struct {
	Op   string
	Text string
	Err  error
}

func (e *InteractionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %q: input did not read back the typed text", e.Op, e.Text)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Text, e.Err)
}

func (e *InteractionError) Unwrap() error { return e.Err }

func (e *InteractionError) Is(target error) bool { return target == ErrActorInteraction }
