// File: internal/search/fakes_test.go
package search

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

// mockActor is a testify mock of the search box.
type mockActor struct {
	mock.Mock
}

func (m *mockActor) ClearInput(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockActor) Type(ctx context.Context, text string) (bool, error) {
	args := m.Called(ctx, text)
	return args.Bool(0), args.Error(1)
}

func (m *mockActor) Submit(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// newEchoActor returns an actor whose input always reads back correctly.
func newEchoActor() *mockActor {
	a := &mockActor{}
	a.On("ClearInput", mock.Anything).Return(nil)
	a.On("Type", mock.Anything, mock.Anything).Return(true, nil)
	a.On("Submit", mock.Anything).Return(nil)
	return a
}

// scriptedOracle replays a balance sequence, repeating the last value once
// the script runs out. errs injects an error at a given call index.
type scriptedOracle struct {
	mu       sync.Mutex
	balances []int
	errs     map[int]error
	calls    int
}

func (o *scriptedOracle) CurrentBalance(context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	i := o.calls
	o.calls++
	if err, ok := o.errs[i]; ok {
		return 0, err
	}
	if i >= len(o.balances) {
		return o.balances[len(o.balances)-1], nil
	}
	return o.balances[i], nil
}

// memBacklog is an in-memory Backlog.
type memBacklog struct {
	terms   []string
	removed []string
	demoted []string
	err     error
}

func (b *memBacklog) PeekNext(context.Context) (string, error) {
	if len(b.terms) == 0 {
		return "", errEmpty
	}
	return b.terms[0], nil
}

func (b *memBacklog) Remove(_ context.Context, term string) error {
	if b.err != nil {
		return b.err
	}
	b.terms = slices.DeleteFunc(b.terms, func(t string) bool { return t == term })
	b.removed = append(b.removed, term)
	return nil
}

func (b *memBacklog) Demote(_ context.Context, term string) error {
	if b.err != nil {
		return b.err
	}
	b.terms = slices.DeleteFunc(b.terms, func(t string) bool { return t == term })
	b.terms = append(b.terms, term)
	b.demoted = append(b.demoted, term)
	return nil
}

var errEmpty = errors.New("empty backlog")

// staticRelated answers every root with the same list, or err.
type staticRelated struct {
	terms []string
	err   error
}

func (s staticRelated) RelatedTerms(_ context.Context, term string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.terms) == 0 {
		return []string{term}, nil
	}
	return s.terms, nil
}

// fakeSession joins an actor and an oracle.
type fakeSession struct {
	*mockActor
	*scriptedOracle
	device Device
	closed bool
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeOpener struct {
	sessions map[Device]*fakeSession
	opened   []Device
	err      error
}

func (o *fakeOpener) Open(_ context.Context, d Device) (Session, error) {
	if o.err != nil {
		return nil, o.err
	}
	o.opened = append(o.opened, d)
	return o.sessions[d], nil
}

// sleepRecorder records requested sleeps without waiting.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}
