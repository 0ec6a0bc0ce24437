// File: internal/search/engine_test.go
package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/rewards-cli/internal/retry"
)

func constantPolicy(max int) retry.Policy {
	return retry.Policy{MaxAttempts: max, BaseDelay: 0, Strategy: retry.Constant}
}

// -- Rotation --

func TestRotation_Wraps(t *testing.T) {
	r := NewRotation("root", []string{"a", "b", "c"})
	var got []string
	for range 7 {
		got = append(got, r.Next())
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c", "a"}, got)
	assert.Equal(t, 3, r.Len())
}

func TestRotation_EmptyFallsBackToRoot(t *testing.T) {
	for _, in := range [][]string{nil, {}, {""}} {
		r := NewRotation("root", in)
		assert.Equal(t, "root", r.Next())
		assert.Equal(t, "root", r.Next())
	}
}

func TestRotation_SnapshotIsIsolated(t *testing.T) {
	src := []string{"a", "b"}
	r := NewRotation("root", src)
	src[0] = "mutated"
	assert.Equal(t, "a", r.Next())
}

// -- EnterText --

func TestEnterText_RetriesMismatchWithSameText(t *testing.T) {
	a := &mockActor{}
	a.On("ClearInput", mock.Anything).Return(nil)
	a.On("Type", mock.Anything, "kittens").Return(false, nil).Twice()
	a.On("Type", mock.Anything, "kittens").Return(true, nil).Once()

	require.NoError(t, EnterText(context.Background(), a, "kittens", 5))
	a.AssertNumberOfCalls(t, "ClearInput", 3)
	a.AssertNumberOfCalls(t, "Type", 3)
}

func TestEnterText_GivesUpAfterTries(t *testing.T) {
	a := &mockActor{}
	a.On("ClearInput", mock.Anything).Return(nil)
	a.On("Type", mock.Anything, "kittens").Return(false, nil)

	err := EnterText(context.Background(), a, "kittens", 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrActorInteraction)
	a.AssertNumberOfCalls(t, "Type", 4)
}

func TestEnterText_ActorErrorIsImmediate(t *testing.T) {
	boom := errors.New("element not found")
	a := &mockActor{}
	a.On("ClearInput", mock.Anything).Return(boom)

	err := EnterText(context.Background(), a, "kittens", 1000)
	assert.ErrorIs(t, err, ErrActorInteraction)
	assert.ErrorIs(t, err, boom)
	a.AssertNumberOfCalls(t, "ClearInput", 1)
	a.AssertNotCalled(t, "Type", mock.Anything, mock.Anything)
}

// -- Engine --

func TestEngine_SuccessRemovesTerm(t *testing.T) {
	backlog := &memBacklog{terms: []string{"root", "other"}}
	oracle := &scriptedOracle{balances: []int{100, 100, 103}}
	actor := newEchoActor()
	e := NewEngine(backlog, staticRelated{terms: []string{"p1", "p2"}}, constantPolicy(3), zaptest.NewLogger(t))

	out, err := e.Attempt(context.Background(), actor, oracle)
	require.NoError(t, err)
	assert.Equal(t, Outcome{Term: "root", Balance: 103, Credited: true, Attempts: 2}, out)
	assert.Equal(t, []string{"other"}, backlog.terms)
	assert.Equal(t, []string{"root"}, backlog.removed)

	actor.AssertCalled(t, "Type", mock.Anything, "p1")
	actor.AssertCalled(t, "Type", mock.Anything, "p2")
}

func TestEngine_EqualBalanceIsNotCredit(t *testing.T) {
	backlog := &memBacklog{terms: []string{"root"}}
	oracle := &scriptedOracle{balances: []int{50}}
	actor := newEchoActor()
	e := NewEngine(backlog, staticRelated{}, constantPolicy(0), zaptest.NewLogger(t))

	out, err := e.Attempt(context.Background(), actor, oracle)
	require.NoError(t, err)
	assert.False(t, out.Credited)
	assert.Equal(t, 50, out.Balance)
	assert.Equal(t, 1, out.Attempts, "max=0 means a single submit")
	assert.Equal(t, []string{"root"}, backlog.demoted)
}

func TestEngine_LowerBalanceIsNotCredit(t *testing.T) {
	backlog := &memBacklog{terms: []string{"root"}}
	oracle := &scriptedOracle{balances: []int{50, 40, 45, 50}}
	e := NewEngine(backlog, staticRelated{}, constantPolicy(2), zaptest.NewLogger(t))

	out, err := e.Attempt(context.Background(), newEchoActor(), oracle)
	require.NoError(t, err)
	assert.False(t, out.Credited)
	assert.Equal(t, 50, out.Balance)
}

func TestEngine_ExhaustionDemotesAndLogs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	backlog := &memBacklog{terms: []string{"stuck", "next"}}
	oracle := &scriptedOracle{balances: []int{7}}
	actor := newEchoActor()
	e := NewEngine(backlog, staticRelated{}, constantPolicy(2), zap.New(core))

	out, err := e.Attempt(context.Background(), actor, oracle)
	require.NoError(t, err)
	assert.Equal(t, Outcome{Term: "stuck", Balance: 7, Credited: false, Attempts: 3}, out)
	assert.Equal(t, []string{"next", "stuck"}, backlog.terms)
	actor.AssertNumberOfCalls(t, "Submit", 3)

	entries := logs.FilterMessage("Reached max search attempt retries").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}

func TestEngine_BackoffDelays(t *testing.T) {
	testCases := []struct {
		name     string
		strategy retry.Strategy
		want     []time.Duration
	}{
		{"constant", retry.Constant, []time.Duration{time.Second, time.Second, time.Second}},
		{"exponential", retry.Exponential, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &sleepRecorder{}
			policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, Strategy: tc.strategy}
			e := NewEngine(&memBacklog{terms: []string{"root"}}, staticRelated{}, policy, zaptest.NewLogger(t), WithSleep(rec.sleep))

			_, err := e.Attempt(context.Background(), newEchoActor(), &scriptedOracle{balances: []int{1}})
			require.NoError(t, err)
			assert.Equal(t, tc.want, rec.delays, "first attempt is immediate")
		})
	}
}

func TestEngine_ActorFailureConsumesAttempt(t *testing.T) {
	actor := &mockActor{}
	actor.On("ClearInput", mock.Anything).Return(nil)
	actor.On("Type", mock.Anything, mock.Anything).Return(true, nil)
	actor.On("Submit", mock.Anything).Return(errors.New("detached frame")).Once()
	actor.On("Submit", mock.Anything).Return(nil)

	backlog := &memBacklog{terms: []string{"root"}}
	oracle := &scriptedOracle{balances: []int{10, 11}}
	e := NewEngine(backlog, staticRelated{}, constantPolicy(2), zaptest.NewLogger(t))

	out, err := e.Attempt(context.Background(), actor, oracle)
	require.NoError(t, err)
	assert.True(t, out.Credited)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 2, oracle.calls, "no balance read after the failed submit")
}

func TestEngine_VerifyOracleErrorConsumesAttempt(t *testing.T) {
	backlog := &memBacklog{terms: []string{"root"}}
	oracle := &scriptedOracle{balances: []int{10, 0, 12}, errs: map[int]error{1: errors.New("timeout")}}
	e := NewEngine(backlog, staticRelated{}, constantPolicy(1), zaptest.NewLogger(t))

	out, err := e.Attempt(context.Background(), newEchoActor(), oracle)
	require.NoError(t, err)
	assert.True(t, out.Credited)
	assert.Equal(t, 12, out.Balance)
	assert.Equal(t, 2, out.Attempts)
}

func TestEngine_StartOracleErrorPropagates(t *testing.T) {
	boom := errors.New("signed out")
	backlog := &memBacklog{terms: []string{"root"}}
	oracle := &scriptedOracle{balances: []int{0}, errs: map[int]error{0: boom}}
	actor := &mockActor{}
	e := NewEngine(backlog, staticRelated{}, constantPolicy(2), zaptest.NewLogger(t))

	_, err := e.Attempt(context.Background(), actor, oracle)
	assert.ErrorIs(t, err, boom)
	actor.AssertNotCalled(t, "Submit", mock.Anything)
	assert.Equal(t, []string{"root"}, backlog.terms)
}

func TestEngine_EmptyBacklogPropagates(t *testing.T) {
	e := NewEngine(&memBacklog{}, staticRelated{}, constantPolicy(2), zaptest.NewLogger(t))
	_, err := e.Attempt(context.Background(), &mockActor{}, &scriptedOracle{balances: []int{1}})
	assert.ErrorIs(t, err, errEmpty)
}

func TestEngine_RelatedTermsFailureFallsBackToRoot(t *testing.T) {
	actor := newEchoActor()
	backlog := &memBacklog{terms: []string{"root"}}
	e := NewEngine(backlog, staticRelated{err: errors.New("suggest down")}, constantPolicy(1), zaptest.NewLogger(t))

	out, err := e.Attempt(context.Background(), actor, &scriptedOracle{balances: []int{1, 2}})
	require.NoError(t, err)
	assert.True(t, out.Credited)
	actor.AssertCalled(t, "Type", mock.Anything, "root")
}

func TestEngine_PersistenceErrorPropagates(t *testing.T) {
	diskErr := errors.New("disk full")
	backlog := &memBacklog{terms: []string{"root"}, err: diskErr}
	e := NewEngine(backlog, staticRelated{}, constantPolicy(0), zaptest.NewLogger(t))

	_, err := e.Attempt(context.Background(), newEchoActor(), &scriptedOracle{balances: []int{1, 2}})
	assert.ErrorIs(t, err, diskErr)
}

func TestEngine_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backlog := &memBacklog{terms: []string{"root"}}
	sleep := func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	e := NewEngine(backlog, staticRelated{}, constantPolicy(5), zaptest.NewLogger(t), WithSleep(sleep))

	out, err := e.Attempt(ctx, newEchoActor(), &scriptedOracle{balances: []int{1}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, out.Attempts)
	assert.Empty(t, backlog.demoted, "a cancelled unit is neither credited nor demoted")
}
