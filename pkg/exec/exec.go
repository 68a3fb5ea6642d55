package exec

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/tempo/pkg/events"
	"github.com/cuemby/tempo/pkg/log"
	"github.com/cuemby/tempo/pkg/metrics"
)

// State represents the executive lifecycle state.
type State int32

const (
	Stopped State = iota
	Running
	Paused
	Finished
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Executive owns one virtual timeline: a future event set, the main loop,
// and the request/rescind/join surface. One goroutine (the caller of
// Start) becomes the executive thread; all handlers run on it, except
// Asynchronous ones.
type Executive struct {
	cfg    Config
	logger zerolog.Logger
	broker *events.Broker

	mu         sync.Mutex
	state      State
	now        time.Time
	staged     []*Event
	future     *futureSet
	past       []*Event
	pending    map[Key]*Event
	fired      map[Key]bool
	joins      map[Key][]*joinWaiter
	decs       map[Key]*DetachController
	runNumber  int
	runID      string
	eventCount int64

	stopRequested  bool
	abortRequested bool
	handlerErr     error

	pauseGate *Barrier

	hooks hookSet

	// executive-thread only
	curDEC *DetachController

	// parallel variant
	execGate     *Barrier
	rollbackGate *Barrier
	readGate     *Barrier
	inEvent      atomic.Bool
	atRollback   atomic.Bool
	atExecGate   atomic.Bool
	readParked   atomic.Int32
	statusNotify func()
	postRollback []func()

	asyncWG sync.WaitGroup
}

type joinWaiter struct {
	dec       *DetachController
	remaining int
}

// New creates an executive from the given configuration.
func New(cfg Config) *Executive {
	if cfg.Name == "" {
		cfg.Name = "executive"
	}
	if cfg.Parallel {
		// Rollback needs history; the parallel variant retains it always.
		cfg.RetainPastEvents = true
	}
	ex := &Executive{
		cfg:          cfg,
		logger:       log.WithExecutive(cfg.Name),
		future:       newFutureSet(),
		pending:      make(map[Key]*Event),
		fired:        make(map[Key]bool),
		joins:        make(map[Key][]*joinWaiter),
		decs:         make(map[Key]*DetachController),
		pauseGate:    NewBarrier(true),
		execGate:     NewBarrier(true),
		rollbackGate: NewBarrier(true),
		readGate:     NewBarrier(true),
	}
	return ex
}

// SetBroker attaches the observability broker the executive publishes to.
func (ex *Executive) SetBroker(b *events.Broker) {
	ex.broker = b
}

func (ex *Executive) publish(t events.EventType, when time.Time, md map[string]string) {
	if ex.broker == nil {
		return
	}
	ex.broker.Publish(&events.Event{
		Type:      t,
		Executive: ex.cfg.Name,
		When:      when,
		Metadata:  md,
	})
}

// Name returns the executive's configured identity.
func (ex *Executive) Name() string { return ex.cfg.Name }

// Parallel reports whether this is a parallel-variant executive.
func (ex *Executive) Parallel() bool { return ex.cfg.Parallel }

// Now returns the current virtual time.
func (ex *Executive) Now() time.Time {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.now
}

// State returns the current lifecycle state.
func (ex *Executive) State() State {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.state
}

// RunNumber returns the number of runs started, surviving resets.
func (ex *Executive) RunNumber() int {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.runNumber
}

// RunID returns the identity of the current (or last) run.
func (ex *Executive) RunID() string {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.runID
}

// EventCount returns the number of events fired in the current run.
func (ex *Executive) EventCount() int64 {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.eventCount
}

// PendingCount returns the number of non-daemon events in the future set.
func (ex *Executive) PendingCount() int {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.future.nonDaemonCount()
}

// Submit stages an event request. Thread-safe; the record joins the
// future set at the next loop boundary.
func (ex *Executive) Submit(req Request) (Key, error) {
	if req.Handler == nil {
		return 0, fmt.Errorf("event handler is required")
	}
	ex.mu.Lock()
	defer ex.mu.Unlock()
	when := req.When
	if when.Before(ex.now) {
		if !ex.cfg.IgnoreCausalityViolations {
			return 0, fmt.Errorf("%w: requested %s, now %s", ErrCausalityViolation, when, ex.now)
		}
		when = ex.now
	}
	priority := req.Priority
	kind := req.Kind
	if ex.cfg.Parallel {
		priority = 0
		kind = Synchronous
	}
	ev := &Event{
		key:       nextKey(),
		handler:   req.Handler,
		when:      when,
		priority:  priority,
		userData:  req.UserData,
		kind:      kind,
		daemon:    req.Daemon,
		tag:       req.Tag,
		revoke:    req.Revocation,
		addedWhen: ex.now,
	}
	ex.staged = append(ex.staged, ev)
	ex.pending[ev.key] = ev
	return ev.key, nil
}

// RequestEvent schedules a synchronous event at the given virtual time.
func (ex *Executive) RequestEvent(h Handler, when time.Time) (Key, error) {
	return ex.Submit(Request{Handler: h, When: when})
}

// RequestDaemonEvent schedules a daemon event: its presence does not by
// itself keep the loop alive.
func (ex *Executive) RequestDaemonEvent(h Handler, when time.Time) (Key, error) {
	return ex.Submit(Request{Handler: h, When: when, Daemon: true})
}

// Inject stages an event bypassing the causality check. It delivers a
// peer executive's call into this executive's past (the CoExecutor's
// Synchronize uses it, as can a peer's handler); the loop answers with a
// rollback. Injected records
// are stamped as predating the timeline so a rollback to their fire time
// does not discard them.
func (ex *Executive) Inject(req Request) (Key, error) {
	if req.Handler == nil {
		return 0, fmt.Errorf("event handler is required")
	}
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ev := &Event{
		key:      nextKey(),
		handler:  req.Handler,
		when:     req.When,
		priority: 0,
		userData: req.UserData,
		kind:     Synchronous,
		daemon:   req.Daemon,
		tag:      req.Tag,
		revoke:   req.Revocation,
		// zero addedWhen: survives any rollback
	}
	ex.staged = append(ex.staged, ev)
	ex.pending[ev.key] = ev
	return ev.key, nil
}

// Rescind removes a pending event. Rescinding an already-fired event is
// a no-op; a key the executive has never seen is an error.
func (ex *Executive) Rescind(key Key) error {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ev, ok := ex.pending[key]; ok {
		ex.removePendingLocked(func(e *Event) bool { return e.key == ev.key })
		return nil
	}
	if ex.fired[key] {
		return nil
	}
	return fmt.Errorf("%w: %d", ErrEventKeyUnknown, key)
}

// RescindByTag removes every pending event carrying the given
// handler-group tag and returns how many were removed.
func (ex *Executive) RescindByTag(tag string) int {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.removePendingLocked(func(e *Event) bool { return e.tag == tag && e.resume == nil })
}

// RescindIf removes every pending event matching pred and returns how
// many were removed.
func (ex *Executive) RescindIf(pred func(*Event) bool) int {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.removePendingLocked(pred)
}

// removePendingLocked removes matching records from both the future set
// and the staged buffer, firing revocation actions and settling joins.
func (ex *Executive) removePendingLocked(pred func(*Event) bool) int {
	removed := ex.future.removeIf(pred)
	kept := ex.staged[:0]
	for _, ev := range ex.staged {
		if pred(ev) {
			removed = append(removed, ev)
		} else {
			kept = append(kept, ev)
		}
	}
	ex.staged = kept
	for _, ev := range removed {
		if ev.revoke != nil {
			ev.revoke()
		}
		metrics.EventsRescinded.Inc()
		ex.completeLocked(ev)
	}
	return len(removed)
}

// completeLocked settles a record as fired-or-rescinded: joins waiting on
// it are decremented, and fibers whose last dependency settled get a
// resume slice scheduled at the current time.
func (ex *Executive) completeLocked(ev *Event) {
	if ex.fired[ev.key] {
		return
	}
	ex.fired[ev.key] = true
	delete(ex.pending, ev.key)
	waiters := ex.joins[ev.key]
	delete(ex.joins, ev.key)
	for _, jw := range waiters {
		jw.remaining--
		if jw.remaining == 0 {
			ex.stageResumeLocked(jw.dec, jw.dec.origin.priority)
		}
	}
}

// stageResumeLocked stages an internal fiber-resume slice at Now.
func (ex *Executive) stageResumeLocked(dec *DetachController, priority float64) *Event {
	ev := &Event{
		key:       nextKey(),
		when:      ex.now,
		priority:  priority,
		kind:      Detachable,
		tag:       dec.origin.tag,
		addedWhen: ex.now,
		resume:    dec,
	}
	ex.staged = append(ex.staged, ev)
	ex.pending[ev.key] = ev
	return ev
}

// Join parks the calling detachable fiber until every referenced event
// has fired or been rescinded. Unknown keys count as already fired.
func (ex *Executive) Join(keys ...Key) error {
	dec := ex.curDEC
	if dec == nil || !dec.onFiber() {
		return ErrDetachableMisuse
	}
	ex.mu.Lock()
	jw := &joinWaiter{dec: dec}
	for _, k := range keys {
		if _, ok := ex.pending[k]; ok {
			jw.remaining++
			ex.joins[k] = append(ex.joins[k], jw)
		}
	}
	outstanding := jw.remaining
	ex.mu.Unlock()
	if outstanding == 0 {
		return nil
	}
	return dec.Suspend()
}

// Detach returns the controller of the currently running detachable
// fiber, or ErrDetachableMisuse when called from a non-detachable
// handler.
func (ex *Executive) Detach() (*DetachController, error) {
	dec := ex.curDEC
	if dec == nil || !dec.onFiber() {
		return nil, ErrDetachableMisuse
	}
	return dec, nil
}

// Controller returns the live fiber controller for an in-flight
// detachable event key.
func (ex *Executive) Controller(key Key) (*DetachController, bool) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	dec, ok := ex.decs[key]
	return dec, ok
}

// Pause suspends the loop at the next event boundary.
func (ex *Executive) Pause() error {
	ex.mu.Lock()
	if ex.state != Running {
		ex.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrNotRunning, ex.state)
	}
	ex.state = Paused
	ex.mu.Unlock()
	ex.pauseGate.Reset()
	ex.fireLifecycle(ex.hooks.paused, events.EventExecutivePaused)
	return nil
}

// Resume releases a paused loop.
func (ex *Executive) Resume() error {
	ex.mu.Lock()
	if ex.state != Paused {
		ex.mu.Unlock()
		return fmt.Errorf("cannot resume executive in state %s", ex.state)
	}
	ex.state = Running
	ex.mu.Unlock()
	ex.pauseGate.Set()
	ex.fireLifecycle(ex.hooks.resumed, events.EventExecutiveResumed)
	return nil
}

// Stop requests a cooperative stop, honored at the next loop boundary.
func (ex *Executive) Stop() {
	ex.mu.Lock()
	ex.stopRequested = true
	if ex.state == Paused {
		ex.state = Running
	}
	ex.mu.Unlock()
	ex.pauseGate.Set()
}

// Abort requests an immediate abort: live fibers are unwound and the
// executive returns to Stopped.
func (ex *Executive) Abort() {
	ex.mu.Lock()
	ex.abortRequested = true
	if ex.state == Paused {
		ex.state = Running
	}
	ex.mu.Unlock()
	ex.pauseGate.Set()
}

// Reset clears all event state and returns the executive to Stopped.
// The run number survives.
func (ex *Executive) Reset() error {
	ex.mu.Lock()
	if ex.state == Running || ex.state == Paused {
		ex.mu.Unlock()
		return fmt.Errorf("cannot reset executive in state %s", ex.state)
	}
	live := make([]*DetachController, 0, len(ex.decs))
	for _, dec := range ex.decs {
		live = append(live, dec)
	}
	ex.decs = make(map[Key]*DetachController)
	ex.future.clear()
	ex.staged = nil
	ex.past = nil
	ex.pending = make(map[Key]*Event)
	ex.fired = make(map[Key]bool)
	ex.joins = make(map[Key][]*joinWaiter)
	ex.postRollback = nil
	ex.eventCount = 0
	ex.now = time.Time{}
	ex.state = Stopped
	ex.stopRequested = false
	ex.abortRequested = false
	ex.handlerErr = nil
	ex.mu.Unlock()
	for _, dec := range live {
		dec.unwind()
	}
	ex.fireLifecycle(ex.hooks.reset, events.EventExecutiveReset)
	return nil
}

// Start runs the main loop on the calling goroutine, which becomes the
// executive thread until the run ends.
func (ex *Executive) Start() error {
	ex.mu.Lock()
	if ex.state != Stopped {
		ex.mu.Unlock()
		return fmt.Errorf("cannot start executive in state %s", ex.state)
	}
	ex.state = Running
	ex.runNumber++
	ex.runID = uuid.New().String()
	ex.stopRequested = false
	ex.abortRequested = false
	ex.handlerErr = nil
	startTime := ex.now
	ex.dropStaleLocked(startTime)
	run := ex.runNumber
	ex.mu.Unlock()

	ex.logger.Info().Int("run", run).Str("run_id", ex.runID).Msg("Executive starting")
	metrics.ExecutivesRunning.Inc()
	defer metrics.ExecutivesRunning.Dec()

	ex.fireStartedSingleShot()
	ex.fireLifecycle(ex.hooks.started, events.EventExecutiveStarted)

	ex.mu.Lock()
	ex.drainLocked()
	for {
		// Between events: honor the pause monitor, then the parallel
		// barriers. StartAll holds the exec-time gate closed until the
		// whole cohort is up.
		ex.mu.Unlock()
		ex.pauseGate.Wait()
		if ex.cfg.Parallel {
			ex.atExecGate.Store(true)
			ex.notify()
			ex.execGate.Wait()
			ex.atExecGate.Store(false)
			ex.notify()
			ex.parkAtRollbackGate()
		}
		ex.mu.Lock()

		if ex.stopRequested || ex.abortRequested {
			break
		}
		if ex.future.nonDaemonCount() == 0 {
			break
		}
		ev := ex.future.peek()
		if ev.when.Before(ex.now) && ex.cfg.RetainPastEvents {
			// Straggler from a peer's past: warp back, then continue.
			ex.performRollbackLocked(ev.when)
			continue
		}
		ex.future.pop()
		advance := ev.when.After(ex.now)
		ex.mu.Unlock()

		if advance {
			ex.fireClockChange(ev.when)
			ex.mu.Lock()
			ex.now = ev.when
			ex.mu.Unlock()
		}
		ex.dispatch(ev)

		ex.mu.Lock()
		ex.drainLocked()
	}
	stopped := ex.stopRequested
	aborted := ex.abortRequested
	err := ex.handlerErr
	ex.mu.Unlock()

	ex.asyncWG.Wait()

	if aborted {
		ex.teardownFibers()
		ex.mu.Lock()
		ex.state = Stopped
		ex.mu.Unlock()
		ex.fireLifecycle(ex.hooks.aborted, events.EventExecutiveAborted)
		ex.logger.Warn().Int("run", run).Msg("Executive aborted")
		return err
	}
	if stopped {
		ex.fireLifecycle(ex.hooks.stopped, events.EventExecutiveStopped)
	}
	ex.fireLifecycle(ex.hooks.finished, events.EventExecutiveFinished)
	ex.mu.Lock()
	ex.state = Finished
	count := ex.eventCount
	ex.mu.Unlock()
	ex.logger.Info().Int("run", run).Int64("events", count).Msg("Executive finished")
	return nil
}

// dispatch fires one popped record: hooks, handler by kind, completion.
func (ex *Executive) dispatch(ev *Event) {
	ex.fireEventHook(ex.hooks.aboutToFire, ev, events.EventAboutToFire)
	ex.inEvent.Store(true)
	ex.notify()

	suspended := false
	switch {
	case ev.resume != nil:
		suspended = ex.runFiberSlice(ev.resume, nil)
	case ev.kind == Detachable:
		dec := newDetachController(ex, ev)
		ex.mu.Lock()
		ex.decs[ev.key] = dec
		ex.mu.Unlock()
		suspended = ex.runFiberSlice(dec, ev)
	case ev.kind == Asynchronous:
		ex.asyncWG.Add(1)
		go func() {
			defer ex.asyncWG.Done()
			defer func() {
				if r := recover(); r != nil {
					ex.handleHandlerFailure(ev, r)
				}
			}()
			ev.handler(ex, ev.userData)
		}()
	default:
		timer := metrics.NewTimer()
		func() {
			defer func() {
				if r := recover(); r != nil {
					ex.handleHandlerFailure(ev, r)
				}
			}()
			ev.handler(ex, ev.userData)
		}()
		timer.ObserveDuration(metrics.HandlerDuration)
	}

	ex.inEvent.Store(false)
	ex.notify()
	ex.fireEventHook(ex.hooks.hasCompleted, ev, events.EventHasCompleted)

	ex.mu.Lock()
	if ex.cfg.RetainPastEvents && ev.resume == nil {
		ex.past = append(ex.past, ev)
	}
	ex.eventCount++
	metrics.EventsFired.Inc()
	if !(suspended && ev.resume == nil) {
		// A suspended first slice leaves the origin record unsettled
		// until its fiber completes.
		ex.completeLocked(ev)
	}
	ex.mu.Unlock()
}

// runFiberSlice hands the executive thread to a fiber and blocks until
// it suspends or completes. start is non-nil for the first slice.
func (ex *Executive) runFiberSlice(dec *DetachController, start *Event) bool {
	if dec.done() {
		// Resume slice for a fiber that already unwound.
		return false
	}
	if start == nil && dec.State() != DecSuspended {
		// Stale resume: the fiber is not parked.
		return false
	}
	ex.curDEC = dec
	dec.resumePending.Store(false)
	if start != nil {
		go dec.run(start.handler, start.userData)
	} else {
		dec.park <- struct{}{}
	}
	sig := <-dec.yield
	ex.curDEC = nil
	if sig == fiberSuspended {
		return true
	}
	ex.mu.Lock()
	delete(ex.decs, dec.origin.key)
	if start == nil {
		// The origin record settles when its fiber finishes.
		ex.completeLocked(dec.origin)
	}
	ex.mu.Unlock()
	if dec.State() == DecAborted {
		ex.fireLifecycle(ex.hooks.aborted, events.EventExecutiveAborted)
	}
	if dec.panicVal != nil {
		ex.handleHandlerFailure(dec.origin, dec.panicVal)
	}
	return false
}

func (ex *Executive) handleHandlerFailure(ev *Event, val any) {
	err := &HandlerError{Key: ev.key, Val: val}
	metrics.HandlerFailures.Inc()
	if ex.cfg.RethrowHandlerFailures {
		ex.mu.Lock()
		ex.handlerErr = err
		ex.abortRequested = true
		ex.mu.Unlock()
		ex.logger.Error().Uint64("key", uint64(ev.key)).Interface("panic", val).Msg("Handler failed, aborting run")
		return
	}
	ex.logger.Error().Uint64("key", uint64(ev.key)).Interface("panic", val).Msg("Handler failed")
}

// drainLocked moves staged requests into the future set.
func (ex *Executive) drainLocked() {
	for _, ev := range ex.staged {
		ex.future.push(ev)
	}
	ex.staged = ex.staged[:0]
	metrics.PendingEvents.WithLabelValues(ex.cfg.Name).Set(float64(ex.future.len()))
}

// dropStaleLocked discards records scheduled before the start time.
func (ex *Executive) dropStaleLocked(startTime time.Time) {
	dropped := ex.future.removeIf(func(e *Event) bool { return e.when.Before(startTime) })
	kept := ex.staged[:0]
	for _, ev := range ex.staged {
		if ev.when.Before(startTime) {
			dropped = append(dropped, ev)
		} else {
			kept = append(kept, ev)
		}
	}
	ex.staged = kept
	for _, ev := range dropped {
		delete(ex.pending, ev.key)
	}
	if len(dropped) > 0 {
		ex.logger.Debug().Int("count", len(dropped)).Msg("Dropped stale events at start")
	}
}

// teardownFibers unwinds every live fiber, running abort handlers.
func (ex *Executive) teardownFibers() {
	ex.mu.Lock()
	live := make([]*DetachController, 0, len(ex.decs))
	for _, dec := range ex.decs {
		live = append(live, dec)
	}
	ex.decs = make(map[Key]*DetachController)
	ex.mu.Unlock()
	for _, dec := range live {
		dec.unwind()
	}
}

func (ex *Executive) notify() {
	if ex.statusNotify != nil {
		ex.statusNotify()
	}
}

// --- parallel variant surface ---

// ExecGate returns the exec-time barrier a peer closes to suspend this
// executive between events.
func (ex *Executive) ExecGate() *Barrier { return ex.execGate }

// RollbackGate returns the barrier the CoExecutor closes during rollback
// coordination.
func (ex *Executive) RollbackGate() *Barrier { return ex.rollbackGate }

// ReadGate returns the pending-read barrier callers park at while
// awaiting a value from another executive's virtual future.
func (ex *Executive) ReadGate() *Barrier { return ex.readGate }

// ParkForRead parks the caller at this executive's pending-read barrier
// until a peer opens it or rollback coordination kicks it. The park is
// visible to the CoExecutor's status tracking.
func (ex *Executive) ParkForRead() {
	ex.readParked.Add(1)
	ex.notify()
	ex.readGate.Wait()
	ex.readParked.Add(-1)
	ex.notify()
}

// ReadParked returns the number of callers parked at the pending-read
// barrier.
func (ex *Executive) ReadParked() int { return int(ex.readParked.Load()) }

// AtRollbackGate reports whether the executive thread is parked at the
// rollback barrier.
func (ex *Executive) AtRollbackGate() bool { return ex.atRollback.Load() }

// AtExecGate reports whether the executive thread is parked at the
// exec-time barrier.
func (ex *Executive) AtExecGate() bool { return ex.atExecGate.Load() }

// InEvent reports whether the executive thread is inside an event call.
func (ex *Executive) InEvent() bool { return ex.inEvent.Load() }

// SetStatusNotifier registers the callback invoked on every in-event /
// at-barrier status change. Set by the CoExecutor before StartAll.
func (ex *Executive) SetStatusNotifier(f func()) { ex.statusNotify = f }

func (ex *Executive) parkAtRollbackGate() {
	ex.atRollback.Store(true)
	ex.notify()
	ex.rollbackGate.Wait()
	ex.atRollback.Store(false)
	ex.notify()
}

// DeferPostRollback queues an action to run after the next rollback on
// this executive completes.
func (ex *Executive) DeferPostRollback(f func()) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.postRollback = append(ex.postRollback, f)
}

// PerformRollback restores the executive to an earlier virtual time.
// Called only by the CoExecutor while this executive is quiesced.
func (ex *Executive) PerformRollback(toWhen time.Time) error {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if !ex.cfg.RetainPastEvents {
		return fmt.Errorf("%w: no retained past events on %s", ErrRollbackImpossible, ex.cfg.Name)
	}
	ex.performRollbackLocked(toWhen)
	return nil
}

// performRollbackLocked implements the time-warp restore. Idempotent:
// repeating the same target is a no-op the second time.
func (ex *Executive) performRollbackLocked(toWhen time.Time) {
	timer := metrics.NewTimer()

	// 1. Discard future work created at-or-after the target, staged
	// buffer included.
	discard := func(e *Event) bool { return !e.addedWhen.Before(toWhen) }
	removed := ex.future.removeIf(discard)
	kept := ex.staged[:0]
	for _, ev := range ex.staged {
		if discard(ev) {
			removed = append(removed, ev)
		} else {
			kept = append(kept, ev)
		}
	}
	ex.staged = kept
	for _, ev := range removed {
		if ev.revoke != nil {
			ev.revoke()
		}
		metrics.EventsRevoked.Inc()
		ex.completeLocked(ev)
	}

	// 2. Re-introduce past events at-or-after the target, unless they
	// were themselves created after it.
	keptPast := ex.past[:0]
	for _, p := range ex.past {
		switch {
		case p.when.Before(toWhen):
			keptPast = append(keptPast, p)
		case p.addedWhen.Before(toWhen):
			delete(ex.fired, p.key)
			ex.pending[p.key] = p
			ex.future.push(p)
		default:
			// Created and fired inside the undone window: gone entirely.
		}
	}
	ex.past = keptPast

	// 3. Clock moves backward; the only place that may happen.
	ex.now = toWhen
	deferred := ex.postRollback
	ex.postRollback = nil

	metrics.Rollbacks.Inc()
	timer.ObserveDuration(metrics.RollbackDuration)
	ex.logger.Info().Time("to", toWhen).Int("revoked", len(removed)).Msg("Rolled back")

	// Hooks and deferred actions run without the lock.
	ex.mu.Unlock()
	ex.fireRolledBack(toWhen)
	for _, f := range deferred {
		f()
	}
	ex.mu.Lock()
}
