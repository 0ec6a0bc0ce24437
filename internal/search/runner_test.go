// File: internal/search/runner_test.go
package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newTestRunner(t *testing.T, e *Engine, opener SessionOpener, rec *sleepRecorder, logger *zap.Logger) *Runner {
	t.Helper()
	if logger == nil {
		logger = zaptest.NewLogger(t)
	}
	return NewRunner(e, opener, logger,
		WithPacing(10*time.Second, 15*time.Second),
		WithRunnerSleep(rec.sleep),
		WithRand(func(n int64) int64 { return n - 1 }))
}

// Quota 3, balances 10,10,15,15,20,20,25 across the start and verify reads,
// two retries without delay: every unit is eventually credited.
func TestRunner_ScenarioA(t *testing.T) {
	backlog := &memBacklog{terms: []string{"t1", "t2", "t3"}}
	oracle := &scriptedOracle{balances: []int{10, 10, 15, 15, 20, 20, 25}}
	actor := newEchoActor()
	session := &fakeSession{mockActor: actor, scriptedOracle: oracle, device: Desktop}
	opener := &fakeOpener{sessions: map[Device]*fakeSession{Desktop: session}}
	rec := &sleepRecorder{}

	e := NewEngine(backlog, staticRelated{}, constantPolicy(2), zaptest.NewLogger(t), WithSleep(rec.sleep))
	res, err := newTestRunner(t, e, opener, rec, nil).Run(context.Background(), Counters{Desktop: 3})
	require.NoError(t, err)

	assert.Equal(t, Result{FinalBalance: 25, Units: 3, Credited: 3, Demoted: 0}, res)
	assert.Empty(t, backlog.terms)
	assert.Empty(t, backlog.demoted)
	assert.Equal(t, []string{"t1", "t2", "t3"}, backlog.removed)
	actor.AssertNumberOfCalls(t, "Submit", 4)
	assert.True(t, session.closed)
}

// Quota 1, a balance that never moves, two retries: exactly three submits,
// the term ends at the tail and the starting balance is returned.
func TestRunner_ScenarioB(t *testing.T) {
	backlog := &memBacklog{terms: []string{"bad", "good"}}
	oracle := &scriptedOracle{balances: []int{42}}
	actor := newEchoActor()
	session := &fakeSession{mockActor: actor, scriptedOracle: oracle, device: Desktop}
	opener := &fakeOpener{sessions: map[Device]*fakeSession{Desktop: session}}
	rec := &sleepRecorder{}

	e := NewEngine(backlog, staticRelated{}, constantPolicy(2), zaptest.NewLogger(t), WithSleep(rec.sleep))
	res, err := newTestRunner(t, e, opener, rec, nil).Run(context.Background(), Counters{Desktop: 1})
	require.NoError(t, err)

	assert.Equal(t, Result{FinalBalance: 42, Units: 1, Credited: 0, Demoted: 1}, res)
	actor.AssertNumberOfCalls(t, "Submit", 3)
	assert.Equal(t, []string{"good", "bad"}, backlog.terms)
	assert.Len(t, backlog.terms, 2, "demotion never drops a term")
}

func TestRunner_DesktopThenMobileWithPacing(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	backlog := &memBacklog{terms: []string{"a", "b", "c"}}
	desktop := &fakeSession{mockActor: newEchoActor(), scriptedOracle: &scriptedOracle{balances: []int{0, 3, 3, 6}}, device: Desktop}
	mobile := &fakeSession{mockActor: newEchoActor(), scriptedOracle: &scriptedOracle{balances: []int{6, 9}}, device: Mobile}
	opener := &fakeOpener{sessions: map[Device]*fakeSession{Desktop: desktop, Mobile: mobile}}
	rec := &sleepRecorder{}

	e := NewEngine(backlog, staticRelated{}, constantPolicy(0), zaptest.NewLogger(t))
	res, err := newTestRunner(t, e, opener, rec, zap.New(core)).Run(context.Background(), Counters{Desktop: 2, Mobile: 1})
	require.NoError(t, err)

	assert.Equal(t, Result{FinalBalance: 9, Units: 3, Credited: 3}, res)
	assert.Equal(t, []Device{Desktop, Mobile}, opener.opened)
	assert.True(t, desktop.closed)
	assert.True(t, mobile.closed)

	// Pacing only between consecutive searches, including across the phase boundary.
	assert.Equal(t, []time.Duration{15 * time.Second, 15 * time.Second}, rec.delays)

	var progress []string
	for _, entry := range logs.FilterMessage("Search").All() {
		progress = append(progress, entry.ContextMap()["progress"].(string))
	}
	assert.Equal(t, []string{"1/3", "2/3", "3/3"}, progress)
}

func TestRunner_SkipsEmptyPhases(t *testing.T) {
	opener := &fakeOpener{}
	e := NewEngine(&memBacklog{}, staticRelated{}, constantPolicy(0), zaptest.NewLogger(t))

	res, err := newTestRunner(t, e, opener, &sleepRecorder{}, nil).Run(context.Background(), Counters{})
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, opener.opened)
}

func TestRunner_EngineErrorClosesSessionAndStops(t *testing.T) {
	session := &fakeSession{mockActor: newEchoActor(), scriptedOracle: &scriptedOracle{balances: []int{1, 2}}, device: Desktop}
	opener := &fakeOpener{sessions: map[Device]*fakeSession{Desktop: session}}
	backlog := &memBacklog{terms: []string{"only"}}

	e := NewEngine(backlog, staticRelated{}, constantPolicy(0), zaptest.NewLogger(t))
	res, err := newTestRunner(t, e, opener, &sleepRecorder{}, nil).Run(context.Background(), Counters{Desktop: 2, Mobile: 1})

	require.Error(t, err)
	assert.ErrorIs(t, err, errEmpty)
	assert.Equal(t, 1, res.Units)
	assert.True(t, session.closed)
	assert.Equal(t, []Device{Desktop}, opener.opened, "mobile phase never starts")
}

func TestRunner_OpenError(t *testing.T) {
	boom := errors.New("chrome missing")
	e := NewEngine(&memBacklog{terms: []string{"x"}}, staticRelated{}, constantPolicy(0), zaptest.NewLogger(t))

	_, err := newTestRunner(t, e, &fakeOpener{err: boom}, &sleepRecorder{}, nil).Run(context.Background(), Counters{Mobile: 1})
	assert.ErrorIs(t, err, boom)
}

func TestRunner_PaceBounds(t *testing.T) {
	r := NewRunner(nil, nil, zap.NewNop(), WithPacing(10*time.Second, 15*time.Second), WithRand(func(int64) int64 { return 0 }))
	assert.Equal(t, 10*time.Second, r.pace())

	r = NewRunner(nil, nil, zap.NewNop(), WithPacing(10*time.Second, 15*time.Second))
	for range 100 {
		d := r.pace()
		assert.GreaterOrEqual(t, d, 10*time.Second)
		assert.LessOrEqual(t, d, 15*time.Second)
	}

	r = NewRunner(nil, nil, zap.NewNop(), WithPacing(time.Second, time.Second))
	assert.Equal(t, time.Second, r.pace())
}

func TestCountersAndDevice(t *testing.T) {
	assert.Equal(t, 7, Counters{Desktop: 4, Mobile: 3}.Total())

	d, err := ParseDevice("mobile")
	require.NoError(t, err)
	assert.Equal(t, Mobile, d)
	_, err = ParseDevice("tablet")
	assert.Error(t, err)
}
