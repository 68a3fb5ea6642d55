package machine

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/tempo/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: "error", JSON: true, Output: io.Discard})
	os.Exit(m.Run())
}

const (
	stRaw StateID = iota
	stReady
	stRunning
	stDone
	stAborted
	stIdle
)

var names = []string{"raw", "ready", "running", "done", "aborted", "idle"}

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	m, err := New(names, stRaw, stAborted, stIdle)
	require.NoError(t, err)
	return m
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(nil, 0, 0, 0)
	assert.Error(t, err)
	_, err = New(names, 99, stAborted, stIdle)
	assert.Error(t, err)
}

func TestDisallowedTransitionFails(t *testing.T) {
	m := newTestMachine(t)
	err := m.TransitionTo(stRunning)
	assert.ErrorIs(t, err, ErrBadTransition)
	assert.Equal(t, stRaw, m.Current())
}

func TestAllowedTransitionSucceeds(t *testing.T) {
	m := newTestMachine(t)
	m.Allow(stRaw, stReady)
	require.NoError(t, m.TransitionTo(stReady))
	assert.Equal(t, stReady, m.Current())
}

func TestFollowOnChaining(t *testing.T) {
	m := newTestMachine(t)
	m.Allow(stRaw, stReady)
	m.SetFollowOn(stReady, stRunning)
	m.SetFollowOn(stRunning, stDone)

	var legs [][2]StateID
	m.OnTransitionCompleted(func(from, to StateID) {
		legs = append(legs, [2]StateID{from, to})
	})
	var entered []StateID
	m.OnEnter(stRunning, func() { entered = append(entered, stRunning) })
	m.OnEnter(stDone, func() { entered = append(entered, stDone) })

	require.NoError(t, m.TransitionTo(stReady))
	// One requested transition chained through two follow-on states,
	// firing the completed hook after each leg.
	assert.Equal(t, stDone, m.Current())
	assert.Equal(t, [][2]StateID{{stRaw, stReady}, {stReady, stRunning}, {stRunning, stDone}}, legs)
	assert.Equal(t, []StateID{stRunning, stDone}, entered)
}

func TestTerminalStates(t *testing.T) {
	m := newTestMachine(t)
	assert.True(t, m.IsTerminal(stDone))
	m.SetFollowOn(stReady, stRunning)
	assert.False(t, m.IsTerminal(stReady))
}

func TestDistinguishedStates(t *testing.T) {
	m := newTestMachine(t)
	assert.Equal(t, stRaw, m.StartState())
	assert.Equal(t, stAborted, m.AbortState())
	assert.Equal(t, stIdle, m.IdleState())
	assert.Equal(t, "aborted", m.Name(stAborted))
}
