package exec

import (
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/tempo/pkg/events"
)

// Hook observes an executive lifecycle transition. Hooks run synchronously
// on the executive thread; a panic in a hook aborts the run.
type Hook func(ex *Executive)

// ClockHook observes an imminent virtual-clock advancement.
type ClockHook func(ex *Executive, newTime time.Time)

// EventHook observes a single event around its firing.
type EventHook func(ex *Executive, ev *Event)

// RollbackHook observes a completed rollback.
type RollbackHook func(ex *Executive, toWhen time.Time)

type hookSet struct {
	mu           sync.RWMutex
	startedOnce  []Hook
	started      []Hook
	stopped      []Hook
	finished     []Hook
	reset        []Hook
	paused       []Hook
	resumed      []Hook
	aborted      []Hook
	clockChange  []ClockHook
	aboutToFire  []EventHook
	hasCompleted []EventHook
	rolledBack   []RollbackHook
}

// OnStartedSingleShot registers a hook fired once at the next start and
// then discarded.
func (ex *Executive) OnStartedSingleShot(h Hook) {
	ex.hooks.mu.Lock()
	defer ex.hooks.mu.Unlock()
	ex.hooks.startedOnce = append(ex.hooks.startedOnce, h)
}

// OnStarted registers a hook fired at every start.
func (ex *Executive) OnStarted(h Hook) {
	ex.hooks.mu.Lock()
	defer ex.hooks.mu.Unlock()
	ex.hooks.started = append(ex.hooks.started, h)
}

// OnStopped registers a hook fired when a run ends on a stop request.
func (ex *Executive) OnStopped(h Hook) {
	ex.hooks.mu.Lock()
	defer ex.hooks.mu.Unlock()
	ex.hooks.stopped = append(ex.hooks.stopped, h)
}

// OnFinished registers a hook fired when a run ends.
func (ex *Executive) OnFinished(h Hook) {
	ex.hooks.mu.Lock()
	defer ex.hooks.mu.Unlock()
	ex.hooks.finished = append(ex.hooks.finished, h)
}

// OnReset registers a hook fired after a reset.
func (ex *Executive) OnReset(h Hook) {
	ex.hooks.mu.Lock()
	defer ex.hooks.mu.Unlock()
	ex.hooks.reset = append(ex.hooks.reset, h)
}

// OnPaused registers a hook fired when the loop pauses.
func (ex *Executive) OnPaused(h Hook) {
	ex.hooks.mu.Lock()
	defer ex.hooks.mu.Unlock()
	ex.hooks.paused = append(ex.hooks.paused, h)
}

// OnResumed registers a hook fired when the loop resumes.
func (ex *Executive) OnResumed(h Hook) {
	ex.hooks.mu.Lock()
	defer ex.hooks.mu.Unlock()
	ex.hooks.resumed = append(ex.hooks.resumed, h)
}

// OnAborted registers a hook fired when a run or a fiber is aborted.
func (ex *Executive) OnAborted(h Hook) {
	ex.hooks.mu.Lock()
	defer ex.hooks.mu.Unlock()
	ex.hooks.aborted = append(ex.hooks.aborted, h)
}

// OnClockAboutToChange registers a hook fired before Now advances.
func (ex *Executive) OnClockAboutToChange(h ClockHook) {
	ex.hooks.mu.Lock()
	defer ex.hooks.mu.Unlock()
	ex.hooks.clockChange = append(ex.hooks.clockChange, h)
}

// OnEventAboutToFire registers a hook fired before each event handler.
func (ex *Executive) OnEventAboutToFire(h EventHook) {
	ex.hooks.mu.Lock()
	defer ex.hooks.mu.Unlock()
	ex.hooks.aboutToFire = append(ex.hooks.aboutToFire, h)
}

// OnEventHasCompleted registers a hook fired after each event handler.
func (ex *Executive) OnEventHasCompleted(h EventHook) {
	ex.hooks.mu.Lock()
	defer ex.hooks.mu.Unlock()
	ex.hooks.hasCompleted = append(ex.hooks.hasCompleted, h)
}

// OnRolledBack registers a hook fired after a rollback completes.
func (ex *Executive) OnRolledBack(h RollbackHook) {
	ex.hooks.mu.Lock()
	defer ex.hooks.mu.Unlock()
	ex.hooks.rolledBack = append(ex.hooks.rolledBack, h)
}

func (ex *Executive) fireLifecycle(hs []Hook, t events.EventType) {
	ex.hooks.mu.RLock()
	snapshot := make([]Hook, len(hs))
	copy(snapshot, hs)
	ex.hooks.mu.RUnlock()
	for _, h := range snapshot {
		h(ex)
	}
	ex.publish(t, ex.Now(), nil)
}

func (ex *Executive) fireStartedSingleShot() {
	ex.hooks.mu.Lock()
	once := ex.hooks.startedOnce
	ex.hooks.startedOnce = nil
	ex.hooks.mu.Unlock()
	for _, h := range once {
		h(ex)
	}
	ex.publish(events.EventExecutiveStartedSingleShot, ex.Now(), nil)
}

func (ex *Executive) fireClockChange(newTime time.Time) {
	ex.hooks.mu.RLock()
	snapshot := make([]ClockHook, len(ex.hooks.clockChange))
	copy(snapshot, ex.hooks.clockChange)
	ex.hooks.mu.RUnlock()
	for _, h := range snapshot {
		h(ex, newTime)
	}
	ex.publish(events.EventClockAboutToChange, newTime, nil)
}

func (ex *Executive) fireEventHook(hs []EventHook, ev *Event, t events.EventType) {
	ex.hooks.mu.RLock()
	snapshot := make([]EventHook, len(hs))
	copy(snapshot, hs)
	ex.hooks.mu.RUnlock()
	for _, h := range snapshot {
		h(ex, ev)
	}
	ex.publish(t, ev.when, map[string]string{
		"key":      strconv.FormatUint(uint64(ev.key), 10),
		"kind":     ev.kind.String(),
		"priority": strconv.FormatFloat(ev.priority, 'g', -1, 64),
	})
}

func (ex *Executive) fireRolledBack(toWhen time.Time) {
	ex.hooks.mu.RLock()
	snapshot := make([]RollbackHook, len(ex.hooks.rolledBack))
	copy(snapshot, ex.hooks.rolledBack)
	ex.hooks.mu.RUnlock()
	for _, h := range snapshot {
		h(ex, toWhen)
	}
	ex.publish(events.EventRolledBack, toWhen, nil)
}
