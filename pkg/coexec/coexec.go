package coexec

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/tempo/pkg/exec"
	"github.com/cuemby/tempo/pkg/log"
)

// ErrSyncAborted indicates a cross-executive synchronization that is
// impossible under the requested mode.
var ErrSyncAborted = errors.New("cross-executive synchronization aborted")

// Outcome is the result of a Synchronize call.
type Outcome int

const (
	// OutcomeExecute: the callee was at or behind the caller's time;
	// the action was delivered to run as the callee reaches it.
	OutcomeExecute Outcome = iota
	// OutcomeDefer: the callee was ahead; it was rolled back and the
	// caller stayed parked at its pending-read barrier until the
	// replayed action fired.
	OutcomeDefer
	// OutcomeAbort: synchronization was impossible under the mode.
	OutcomeAbort
)

// Mode selects whether Synchronize may answer a callee that is ahead
// with a coordinated rollback. A running callee at or behind the caller
// always executes regardless of mode; a callee that is not running
// aborts.
type Mode int

const (
	// ModeBlocking permits the rollback path: an ahead callee is warped
	// back and the caller waits for the replayed action to fire.
	ModeBlocking Mode = iota
	// ModeNonBlocking never waits: an ahead callee aborts the
	// synchronization.
	ModeNonBlocking
)

// CoExecutor launches a fixed cohort of parallel executives on
// dedicated OS threads, coterminates them at a shared deadline, and
// coordinates optimistic time-warp rollbacks across them.
type CoExecutor struct {
	execs         []*exec.Executive
	terminationAt time.Time
	logger        zerolog.Logger

	wg     sync.WaitGroup
	runErr struct {
		mu  sync.Mutex
		err error
	}

	statusMu   sync.Mutex
	statusCond *sync.Cond

	termMu  sync.Mutex
	arrived map[string]bool

	rbMu    sync.Mutex // single-entry rollback critical section
	pendMu  sync.Mutex
	pending []time.Time // concurrent rollback targets; the minimum wins
}

// New creates a CoExecutor over the given parallel executives.
func New(execs []*exec.Executive, terminationAt time.Time) (*CoExecutor, error) {
	if len(execs) == 0 {
		return nil, fmt.Errorf("at least one executive is required")
	}
	seen := make(map[string]bool, len(execs))
	for _, e := range execs {
		if !e.Parallel() {
			return nil, fmt.Errorf("executive %s is not a parallel variant", e.Name())
		}
		if seen[e.Name()] {
			return nil, fmt.Errorf("duplicate executive name %s", e.Name())
		}
		seen[e.Name()] = true
	}
	c := &CoExecutor{
		execs:         execs,
		terminationAt: terminationAt,
		logger:        log.WithComponent("coexec"),
		arrived:       make(map[string]bool, len(execs)),
	}
	c.statusCond = sync.NewCond(&c.statusMu)
	for _, e := range execs {
		e.SetStatusNotifier(c.notifyStatus)
	}
	return c, nil
}

// Executives returns the cohort.
func (c *CoExecutor) Executives() []*exec.Executive { return c.execs }

func (c *CoExecutor) notifyStatus() {
	c.statusMu.Lock()
	c.statusCond.Broadcast()
	c.statusMu.Unlock()
}

// StartAll launches one OS-bound thread per executive. All loops are
// held at their exec-time barriers until every thread is up, then
// released simultaneously.
func (c *CoExecutor) StartAll() error {
	for _, e := range c.execs {
		e.ExecGate().Reset()
		if _, err := e.Submit(exec.Request{Handler: c.onTermination, When: c.terminationAt}); err != nil {
			return fmt.Errorf("failed to arm termination on %s: %w", e.Name(), err)
		}
	}
	for _, e := range c.execs {
		c.wg.Add(1)
		go func(e *exec.Executive) {
			defer c.wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			if err := e.Start(); err != nil {
				c.runErr.mu.Lock()
				if c.runErr.err == nil {
					c.runErr.err = fmt.Errorf("executive %s: %w", e.Name(), err)
				}
				c.runErr.mu.Unlock()
				c.logger.Error().Err(err).Str("executive", e.Name()).Msg("Executive run failed")
			}
		}(e)
	}
	// Everybody, GO!
	for _, e := range c.execs {
		e.ExecGate().Set()
	}
	c.logger.Info().Int("executives", len(c.execs)).Time("termination_at", c.terminationAt).Msg("Cohort launched")
	return nil
}

// Wait blocks until every executive reached cotermination (or failed).
func (c *CoExecutor) Wait() error {
	c.wg.Wait()
	c.runErr.mu.Lock()
	defer c.runErr.mu.Unlock()
	return c.runErr.err
}

// Run is StartAll followed by Wait.
func (c *CoExecutor) Run() error {
	if err := c.StartAll(); err != nil {
		return err
	}
	return c.Wait()
}

// onTermination is the cotermination callback armed on every executive
// at the shared deadline. Stragglers re-arm and park at their exec-time
// barrier; the last arrival stops the whole cohort and opens the gates.
func (c *CoExecutor) onTermination(ex *exec.Executive, _ any) {
	c.termMu.Lock()
	c.arrived[ex.Name()] = true
	all := len(c.arrived) == len(c.execs)
	c.termMu.Unlock()

	if all {
		c.logger.Info().Msg("Cotermination reached")
		for _, e := range c.execs {
			e.Stop()
			e.ExecGate().Set()
		}
		return
	}
	ex.ExecGate().Reset()
	if _, err := ex.Submit(exec.Request{Handler: c.onTermination, When: c.terminationAt}); err != nil {
		c.logger.Error().Err(err).Str("executive", ex.Name()).Msg("Failed to re-arm termination")
	}
}

// EarliestNow returns the minimum virtual time across the cohort.
func (c *CoExecutor) EarliestNow() time.Time {
	earliest := c.execs[0].Now()
	for _, e := range c.execs[1:] {
		if now := e.Now(); now.Before(earliest) {
			earliest = now
		}
	}
	return earliest
}

// Rollback restores every executive that has advanced past toWhen back
// to toWhen. Initiation is serialized; concurrent requests collapse
// into a single rollback at the minimum target. The rollbacks
// themselves fan out in parallel.
func (c *CoExecutor) Rollback(toWhen time.Time) error {
	c.pendMu.Lock()
	c.pending = append(c.pending, toWhen)
	c.pendMu.Unlock()

	c.rbMu.Lock()
	defer c.rbMu.Unlock()

	c.pendMu.Lock()
	if len(c.pending) == 0 {
		// Collapsed into a rollback that already ran.
		c.pendMu.Unlock()
		return nil
	}
	target := c.pending[0]
	for _, t := range c.pending[1:] {
		if t.Before(target) {
			target = t
		}
	}
	c.pending = nil
	c.pendMu.Unlock()

	if target.Before(c.EarliestNow()) {
		// History below the cohort's earliest clock is committed.
		return fmt.Errorf("%w: target %s is before the cohort's earliest time", exec.ErrRollbackImpossible, target)
	}

	c.logger.Info().Time("to", target).Msg("Rollback initiated")

	// 1. Close every rollback barrier.
	for _, e := range c.execs {
		e.RollbackGate().Reset()
	}

	// 2. Wait until every executive is blocked at its rollback barrier
	// or inside an event call.
	c.statusMu.Lock()
	for !c.allQuiescedLocked() {
		c.statusCond.Wait()
	}
	c.statusMu.Unlock()

	// 3. The target set: executives whose clock has passed the target.
	var targets []*exec.Executive
	for _, e := range c.execs {
		if e.Now().After(target) {
			targets = append(targets, e)
		}
	}

	// 4. Kick each target's pending-read barrier until it advances to
	// the rollback barrier.
	for _, t := range targets {
		c.statusMu.Lock()
		for t.State() == exec.Running && !t.AtRollbackGate() && !t.AtExecGate() {
			t.ReadGate().Pulse()
			c.statusCond.Wait()
		}
		c.statusMu.Unlock()
	}

	// 5. Roll the targets back in parallel.
	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	for _, t := range targets {
		wg.Add(1)
		go func(e *exec.Executive) {
			defer wg.Done()
			if err := e.PerformRollback(target); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		}(t)
	}
	wg.Wait()

	// 6. Open every rollback barrier simultaneously.
	for _, e := range c.execs {
		e.RollbackGate().Set()
	}

	if firstErr != nil {
		c.logger.Error().Err(firstErr).Msg("Rollback failed, aborting cohort")
		c.AbortAll()
		return firstErr
	}
	return nil
}

func (c *CoExecutor) allQuiescedLocked() bool {
	for _, e := range c.execs {
		s := e.State()
		if s != exec.Running {
			continue
		}
		if !e.AtRollbackGate() && !e.AtExecGate() && !e.InEvent() {
			return false
		}
	}
	return true
}

// Synchronize delivers an action from the caller executive's timeline
// onto the callee's, at the caller's current time. A callee at or
// behind that time executes; a callee that is ahead is warped back and
// the caller waits for the replay to fire the action, when the mode
// permits waiting.
func (c *CoExecutor) Synchronize(caller, callee *exec.Executive, mode Mode, action exec.Handler) (Outcome, error) {
	at := caller.Now()
	if callee.State() != exec.Running {
		return OutcomeAbort, fmt.Errorf("%w: callee %s is %s", ErrSyncAborted, callee.Name(), callee.State())
	}
	if !callee.Now().After(at) {
		// Execute: the action time is in the callee's present or
		// future; it runs as the callee reaches it.
		if _, err := callee.Submit(exec.Request{Handler: action, When: at}); err != nil {
			return OutcomeAbort, err
		}
		return OutcomeExecute, nil
	}
	// Defer: the callee already advanced past the action time, so
	// reaching it requires a rollback.
	if mode == ModeNonBlocking {
		return OutcomeAbort, fmt.Errorf("%w: callee %s is ahead of %s", ErrSyncAborted, callee.Name(), caller.Name())
	}
	gate := caller.ReadGate()
	gate.Reset()
	wrapped := func(ex *exec.Executive, userData any) {
		action(ex, userData)
		gate.Set()
	}
	if _, err := callee.Inject(exec.Request{Handler: wrapped, When: at}); err != nil {
		gate.Set()
		return OutcomeAbort, err
	}
	if err := c.Rollback(at); err != nil {
		gate.Set()
		return OutcomeAbort, err
	}
	// The rollback only restored state; the callee's own thread still
	// has to replay forward and fire the action. Park until it does.
	caller.ParkForRead()
	return OutcomeDefer, nil
}

// AbortAll aborts every executive and opens all gates so their threads
// can unwind.
func (c *CoExecutor) AbortAll() {
	for _, e := range c.execs {
		e.Abort()
		e.ExecGate().Set()
		e.RollbackGate().Set()
		e.ReadGate().Set()
	}
}
