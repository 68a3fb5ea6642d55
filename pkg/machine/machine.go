package machine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/tempo/pkg/log"
)

// ErrBadTransition indicates a transition the matrix does not permit.
var ErrBadTransition = errors.New("state transition not permitted")

// StateID identifies a state in the machine's finite ordinal state set.
type StateID int

// Machine is a transition-matrix state machine with follow-on chaining.
// A state is terminal iff its follow-on state is itself; TransitionTo
// chains automatically through non-terminal follow-on states, firing
// the transition-completed hooks after each leg.
type Machine struct {
	mu       sync.Mutex
	names    []string
	allowed  [][]bool
	followOn []StateID
	current  StateID
	start    StateID
	abort    StateID
	idle     StateID
	logger   zerolog.Logger

	onEnter   map[StateID][]func()
	completed []func(from, to StateID)
}

// New creates a machine over the given state names. No transitions are
// permitted until Allow is called; every state begins terminal
// (follow-on self). start, abort and idle are the three distinguished
// states.
func New(names []string, start, abort, idle StateID) (*Machine, error) {
	n := len(names)
	if n == 0 {
		return nil, fmt.Errorf("state set must not be empty")
	}
	for _, s := range []StateID{start, abort, idle} {
		if int(s) < 0 || int(s) >= n {
			return nil, fmt.Errorf("distinguished state %d out of range", s)
		}
	}
	allowed := make([][]bool, n)
	followOn := make([]StateID, n)
	for i := range allowed {
		allowed[i] = make([]bool, n)
		followOn[i] = StateID(i)
	}
	return &Machine{
		names:    names,
		allowed:  allowed,
		followOn: followOn,
		current:  start,
		start:    start,
		abort:    abort,
		idle:     idle,
		logger:   log.WithComponent("machine"),
		onEnter:  make(map[StateID][]func()),
	}, nil
}

// Allow permits the from→to transition.
func (m *Machine) Allow(from, to StateID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowed[from][to] = true
}

// SetFollowOn sets the follow-on state entered automatically after s.
// A state whose follow-on is itself is terminal.
func (m *Machine) SetFollowOn(s, next StateID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.followOn[s] = next
}

// OnEnter registers a hook fired each time s is entered.
func (m *Machine) OnEnter(s StateID, h func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnter[s] = append(m.onEnter[s], h)
}

// OnTransitionCompleted registers a hook fired after every successful
// transition leg.
func (m *Machine) OnTransitionCompleted(h func(from, to StateID)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, h)
}

// Current returns the current state.
func (m *Machine) Current() StateID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Name returns the display name of a state.
func (m *Machine) Name(s StateID) string { return m.names[s] }

// StartState returns the distinguished start state.
func (m *Machine) StartState() StateID { return m.start }

// AbortState returns the distinguished abort state.
func (m *Machine) AbortState() StateID { return m.abort }

// IdleState returns the distinguished idle state.
func (m *Machine) IdleState() StateID { return m.idle }

// IsTerminal reports whether s has no automatic follow-on.
func (m *Machine) IsTerminal(s StateID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.followOn[s] == s
}

// TransitionTo moves to the requested state, then chains through
// follow-on states until a terminal one is reached.
func (m *Machine) TransitionTo(to StateID) error {
	m.mu.Lock()
	if int(to) < 0 || int(to) >= len(m.names) {
		m.mu.Unlock()
		return fmt.Errorf("%w: unknown state %d", ErrBadTransition, to)
	}
	if !m.allowed[m.current][to] {
		err := fmt.Errorf("%w: %s -> %s", ErrBadTransition, m.names[m.current], m.names[to])
		m.mu.Unlock()
		return err
	}
	legs := [][2]StateID{{m.current, to}}
	m.current = to
	// Chain non-terminal follow-on states.
	for m.followOn[m.current] != m.current {
		next := m.followOn[m.current]
		legs = append(legs, [2]StateID{m.current, next})
		m.current = next
	}
	enterHooks := make([][]func(), 0, len(legs))
	for _, leg := range legs {
		enterHooks = append(enterHooks, m.onEnter[leg[1]])
	}
	completed := m.completed
	m.mu.Unlock()

	for i, leg := range legs {
		m.logger.Debug().Str("from", m.names[leg[0]]).Str("to", m.names[leg[1]]).Msg("Transition completed")
		for _, h := range enterHooks[i] {
			h()
		}
		for _, h := range completed {
			h(leg[0], leg[1])
		}
	}
	return nil
}
