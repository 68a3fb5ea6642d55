package pacing

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/tempo/pkg/exec"
	"github.com/cuemby/tempo/pkg/log"
)

// TickFunc receives one metronome tick at a virtual time.
type TickFunc func(ex *exec.Executive, now time.Time)

// Metronome re-issues a tick event at start, start+period, ...,
// strictly before end. Ticks are daemon events: a metronome alone never
// keeps the loop alive. Unsubscribing stops new firings but does not
// cancel an in-flight callback.
type Metronome struct {
	ex     *exec.Executive
	start  time.Time
	end    time.Time
	period time.Duration
	logger zerolog.Logger

	mu     sync.Mutex
	subs   map[int]TickFunc
	nextID int
}

// NewMetronome creates a metronome on the given executive and schedules
// its first tick.
func NewMetronome(ex *exec.Executive, start, end time.Time, period time.Duration) (*Metronome, error) {
	if period <= 0 {
		return nil, fmt.Errorf("metronome period must be positive")
	}
	if !end.After(start) {
		return nil, fmt.Errorf("metronome end must be after start")
	}
	m := &Metronome{
		ex:     ex,
		start:  start,
		end:    end,
		period: period,
		logger: log.WithComponent("metronome"),
		subs:   make(map[int]TickFunc),
	}
	if _, err := ex.RequestDaemonEvent(m.tick, start); err != nil {
		return nil, fmt.Errorf("failed to schedule first tick: %w", err)
	}
	return m, nil
}

// Subscribe registers a tick callback and returns its subscription id.
func (m *Metronome) Subscribe(f TickFunc) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = f
	return id
}

// Unsubscribe removes a subscription.
func (m *Metronome) Unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
}

func (m *Metronome) tick(ex *exec.Executive, _ any) {
	now := ex.Now()
	m.mu.Lock()
	snapshot := make([]TickFunc, 0, len(m.subs))
	for _, f := range m.subs {
		snapshot = append(snapshot, f)
	}
	m.mu.Unlock()
	for _, f := range snapshot {
		f(ex, now)
	}
	next := now.Add(m.period)
	if next.Before(m.end) {
		if _, err := ex.RequestDaemonEvent(m.tick, next); err != nil {
			m.logger.Error().Err(err).Time("next", next).Msg("Failed to re-arm tick")
		}
	}
}
