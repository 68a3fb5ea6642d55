package exec

import (
	"runtime/debug"
	"sync/atomic"
	"time"
)

// DecState is the lifecycle state of a detachable fiber.
type DecState int32

const (
	DecRunnable DecState = iota
	DecSuspended
	DecCompleted
	DecAborted
)

func (s DecState) String() string {
	switch s {
	case DecRunnable:
		return "runnable"
	case DecSuspended:
		return "suspended"
	case DecCompleted:
		return "completed"
	case DecAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

type fiberSignal int

const (
	fiberSuspended fiberSignal = iota
	fiberDone
)

// abortSentinel is the panic value used to unwind an aborted fiber.
type abortSentinel struct{}

// DetachController binds one in-flight detachable event to a cooperative
// fiber. The fiber and the executive thread exchange control through a
// single-slot handoff: exactly one of them runs at any instant.
type DetachController struct {
	ex     *Executive
	origin *Event

	state         atomic.Int32
	park          chan struct{}
	yield         chan fiberSignal
	aborting      atomic.Bool
	resumePending atomic.Bool

	abortHandler func(args ...any)
	abortArgs    []any

	suspendTrace []byte
	panicVal     any
}

func newDetachController(ex *Executive, origin *Event) *DetachController {
	return &DetachController{
		ex:     ex,
		origin: origin,
		park:   make(chan struct{}),
		yield:  make(chan fiberSignal),
	}
}

// Event returns the origin record this fiber is bound to.
func (dec *DetachController) Event() *Event { return dec.origin }

// State returns the fiber lifecycle state.
func (dec *DetachController) State() DecState {
	return DecState(dec.state.Load())
}

// SuspendTrace returns the stack captured at the last suspension, when
// diagnostic traces are enabled.
func (dec *DetachController) SuspendTrace() []byte { return dec.suspendTrace }

// SetAbortHandler registers the handler run on the fiber when it is
// aborted.
func (dec *DetachController) SetAbortHandler(h func(args ...any), args ...any) {
	dec.abortHandler = h
	dec.abortArgs = args
}

func (dec *DetachController) onFiber() bool {
	return dec.ex.curDEC == dec && dec.State() == DecRunnable
}

func (dec *DetachController) done() bool {
	s := dec.State()
	return s == DecCompleted || s == DecAborted
}

// run executes the first slice of the fiber.
func (dec *DetachController) run(h Handler, userData any) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(abortSentinel); ok {
				if dec.abortHandler != nil {
					dec.abortHandler(dec.abortArgs...)
				}
				dec.state.Store(int32(DecAborted))
			} else {
				dec.panicVal = r
				dec.state.Store(int32(DecCompleted))
			}
			dec.yield <- fiberDone
			return
		}
		dec.state.Store(int32(DecCompleted))
		dec.yield <- fiberDone
	}()
	h(dec.ex, userData)
}

// Suspend parks the fiber and returns the executive thread to the loop.
// The fiber resumes when another event calls Resume, a suspend-until
// wake-up fires, or a join settles.
func (dec *DetachController) Suspend() error {
	if !dec.onFiber() {
		return ErrDetachableMisuse
	}
	if dec.ex.cfg.DiagnosticTraces {
		dec.suspendTrace = debug.Stack()
	}
	dec.state.Store(int32(DecSuspended))
	dec.yield <- fiberSuspended
	<-dec.park
	if dec.aborting.Load() {
		panic(abortSentinel{})
	}
	dec.state.Store(int32(DecRunnable))
	return nil
}

// SuspendFor parks the fiber for a span of virtual time.
func (dec *DetachController) SuspendFor(d time.Duration) error {
	return dec.SuspendUntil(dec.ex.Now().Add(d))
}

// SuspendUntil parks the fiber until the given virtual time, scheduling
// its own wake-up event.
func (dec *DetachController) SuspendUntil(t time.Time) error {
	if !dec.onFiber() {
		return ErrDetachableMisuse
	}
	ex := dec.ex
	ex.mu.Lock()
	when := t
	if when.Before(ex.now) {
		when = ex.now
	}
	ev := &Event{
		key:       nextKey(),
		when:      when,
		priority:  dec.origin.priority,
		kind:      Detachable,
		tag:       dec.origin.tag,
		addedWhen: ex.now,
		resume:    dec,
	}
	ex.staged = append(ex.staged, ev)
	ex.pending[ev.key] = ev
	dec.resumePending.Store(true)
	ex.mu.Unlock()
	return dec.Suspend()
}

// Resume wakes a suspended fiber from another event: the next slice runs
// at the current Now. An optional priority override orders colliding
// resumes; duplicates collapse into one slice.
func (dec *DetachController) Resume(priorityOverride ...float64) error {
	if dec.done() {
		return nil
	}
	if !dec.resumePending.CompareAndSwap(false, true) {
		return nil
	}
	p := dec.origin.priority
	if len(priorityOverride) > 0 {
		p = priorityOverride[0]
	}
	ex := dec.ex
	ex.mu.Lock()
	ex.stageResumeLocked(dec, p)
	ex.mu.Unlock()
	return nil
}

// Abort schedules abortion of the fiber: its pending wake-ups are
// cleared, the abort handler runs on the fiber, and the fiber unwinds.
// Idempotent.
func (dec *DetachController) Abort() error {
	if !dec.aborting.CompareAndSwap(false, true) {
		return nil
	}
	ex := dec.ex
	ex.mu.Lock()
	// Clear this fiber's wake-ups; the abort slice below replaces them.
	ex.removePendingLocked(func(e *Event) bool { return e.resume == dec })
	ex.stageResumeLocked(dec, dec.origin.priority)
	ex.mu.Unlock()
	return nil
}

// unwind synchronously aborts a parked fiber from the executive thread
// during teardown.
func (dec *DetachController) unwind() {
	if dec.done() {
		return
	}
	if dec.State() != DecSuspended {
		return
	}
	dec.aborting.Store(true)
	dec.park <- struct{}{}
	<-dec.yield
}
