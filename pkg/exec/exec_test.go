package exec

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2016, 7, 15, 3, 51, 21, 0, time.UTC)

func TestHelloWorld(t *testing.T) {
	ex := New(Config{Name: "hello"})

	var fired int
	var firedAt time.Time
	key, err := ex.RequestEvent(func(ex *Executive, _ any) {
		fired++
		firedAt = ex.Now()
	}, t0)
	require.NoError(t, err)
	require.NotZero(t, key)

	require.Equal(t, Stopped, ex.State())
	require.NoError(t, ex.Start())

	assert.Equal(t, Finished, ex.State())
	assert.Equal(t, 1, fired)
	assert.True(t, firedAt.Equal(t0))
	assert.True(t, ex.Now().Equal(t0))
	assert.Equal(t, int64(1), ex.EventCount())
	assert.Equal(t, 1, ex.RunNumber())
}

func TestPriorityTiebreak(t *testing.T) {
	ex := New(Config{})
	var words []string
	say := func(w string) Handler {
		return func(*Executive, any) { words = append(words, w) }
	}

	_, err := ex.Submit(Request{Handler: say("World"), When: t0, Priority: 0.0})
	require.NoError(t, err)
	_, err = ex.Submit(Request{Handler: say("Hello"), When: t0, Priority: 1.0})
	require.NoError(t, err)

	require.NoError(t, ex.Start())
	assert.Equal(t, []string{"Hello", "World"}, words)
}

func TestArrivalOrderAtEqualPriority(t *testing.T) {
	ex := New(Config{})
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		_, err := ex.RequestEvent(func(*Executive, any) { order = append(order, i) }, t0)
		require.NoError(t, err)
	}
	require.NoError(t, ex.Start())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestRescindThenProceed(t *testing.T) {
	ex := New(Config{})
	var wrote int
	var revoked int

	key, err := ex.Submit(Request{
		Handler:    func(*Executive, any) { wrote++ },
		When:       t0.Add(5 * time.Minute),
		Revocation: func() { revoked++ },
	})
	require.NoError(t, err)

	_, err = ex.RequestEvent(func(ex *Executive, _ any) {
		require.NoError(t, ex.Rescind(key))
		// Rescinding again is a no-op.
		require.NoError(t, ex.Rescind(key))
	}, t0)
	require.NoError(t, err)

	require.NoError(t, ex.Start())
	assert.Zero(t, wrote)
	assert.Equal(t, 1, revoked)
	assert.Equal(t, int64(1), ex.EventCount())
	assert.True(t, ex.Now().Equal(t0))
}

func TestRescindUnknownKey(t *testing.T) {
	ex := New(Config{})
	err := ex.Rescind(Key(999999999))
	assert.ErrorIs(t, err, ErrEventKeyUnknown)
}

func TestRescindByTag(t *testing.T) {
	ex := New(Config{})
	var fired []string
	say := func(w string) Handler {
		return func(*Executive, any) { fired = append(fired, w) }
	}

	_, err := ex.Submit(Request{Handler: say("a"), When: t0.Add(time.Minute), Tag: "arrivals"})
	require.NoError(t, err)
	_, err = ex.Submit(Request{Handler: say("b"), When: t0.Add(2 * time.Minute), Tag: "arrivals"})
	require.NoError(t, err)
	_, err = ex.Submit(Request{Handler: say("c"), When: t0.Add(3 * time.Minute), Tag: "departures"})
	require.NoError(t, err)

	_, err = ex.RequestEvent(func(ex *Executive, _ any) {
		assert.Equal(t, 2, ex.RescindByTag("arrivals"))
	}, t0)
	require.NoError(t, err)

	require.NoError(t, ex.Start())
	assert.Equal(t, []string{"c"}, fired)
}

func TestDaemonEventDoesNotKeepLoopAlive(t *testing.T) {
	ex := New(Config{})
	var daemonFires int

	var rearm Handler
	rearm = func(ex *Executive, _ any) {
		daemonFires++
		_, err := ex.RequestDaemonEvent(rearm, ex.Now().Add(7*time.Minute))
		require.NoError(t, err)
	}
	_, err := ex.RequestDaemonEvent(rearm, t0)
	require.NoError(t, err)
	_, err = ex.RequestEvent(func(*Executive, any) {}, t0.Add(100*time.Minute))
	require.NoError(t, err)

	require.NoError(t, ex.Start())

	// Daemon fires at 0, 7, ..., 98 minutes; the loop ends at +100m.
	assert.Equal(t, 15, daemonFires)
	assert.True(t, ex.Now().Equal(t0.Add(100*time.Minute)))
	assert.Equal(t, Finished, ex.State())
}

func TestDaemonOnlySetTerminatesImmediately(t *testing.T) {
	ex := New(Config{})
	var fired int
	_, err := ex.RequestDaemonEvent(func(*Executive, any) { fired++ }, t0)
	require.NoError(t, err)

	require.NoError(t, ex.Start())
	assert.Zero(t, fired)
	assert.Equal(t, Finished, ex.State())
	assert.True(t, ex.Now().IsZero())
}

func TestCausalityViolationEnforced(t *testing.T) {
	ex := New(Config{})
	var requestErr error
	_, err := ex.RequestEvent(func(ex *Executive, _ any) {
		_, requestErr = ex.RequestEvent(func(*Executive, any) {}, ex.Now().Add(-time.Minute))
	}, t0)
	require.NoError(t, err)

	require.NoError(t, ex.Start())
	assert.ErrorIs(t, requestErr, ErrCausalityViolation)
}

func TestCausalityViolationIgnoredClampsToNow(t *testing.T) {
	ex := New(Config{IgnoreCausalityViolations: true})
	var lateAt time.Time
	_, err := ex.RequestEvent(func(ex *Executive, _ any) {
		_, err := ex.RequestEvent(func(ex *Executive, _ any) { lateAt = ex.Now() }, ex.Now().Add(-time.Minute))
		require.NoError(t, err)
	}, t0)
	require.NoError(t, err)

	require.NoError(t, ex.Start())
	assert.True(t, lateAt.Equal(t0))
}

func TestSameTimeEventDoesNotAnnounceClockChange(t *testing.T) {
	ex := New(Config{})
	var clockChanges int
	ex.OnClockAboutToChange(func(*Executive, time.Time) { clockChanges++ })

	_, err := ex.RequestEvent(func(ex *Executive, _ any) {
		_, err := ex.RequestEvent(func(*Executive, any) {}, ex.Now())
		require.NoError(t, err)
	}, t0)
	require.NoError(t, err)

	require.NoError(t, ex.Start())
	assert.Equal(t, 1, clockChanges)
	assert.Equal(t, int64(2), ex.EventCount())
}

func TestPauseResume(t *testing.T) {
	ex := New(Config{})
	var order []string

	_, err := ex.RequestEvent(func(ex *Executive, _ any) {
		order = append(order, "first")
		require.NoError(t, ex.Pause())
		go func() {
			time.Sleep(20 * time.Millisecond)
			order = append(order, "resume")
			require.NoError(t, ex.Resume())
		}()
	}, t0)
	require.NoError(t, err)
	_, err = ex.RequestEvent(func(*Executive, any) { order = append(order, "second") }, t0.Add(time.Minute))
	require.NoError(t, err)

	require.NoError(t, ex.Start())
	assert.Equal(t, []string{"first", "resume", "second"}, order)
	assert.Equal(t, Finished, ex.State())
}

func TestStopEndsRunEarly(t *testing.T) {
	ex := New(Config{})
	var stoppedHook, finishedHook bool
	ex.OnStopped(func(*Executive) { stoppedHook = true })
	ex.OnFinished(func(*Executive) { finishedHook = true })

	var fired int
	_, err := ex.RequestEvent(func(ex *Executive, _ any) {
		fired++
		ex.Stop()
	}, t0)
	require.NoError(t, err)
	_, err = ex.RequestEvent(func(*Executive, any) { fired++ }, t0.Add(time.Minute))
	require.NoError(t, err)

	require.NoError(t, ex.Start())
	assert.Equal(t, 1, fired)
	assert.True(t, stoppedHook)
	assert.True(t, finishedHook)
	assert.Equal(t, Finished, ex.State())
}

func TestResetRestoresFreshState(t *testing.T) {
	ex := New(Config{})
	_, err := ex.RequestEvent(func(*Executive, any) {}, t0)
	require.NoError(t, err)
	require.NoError(t, ex.Start())
	require.Equal(t, Finished, ex.State())

	var resetHook bool
	ex.OnReset(func(*Executive) { resetHook = true })
	require.NoError(t, ex.Reset())

	assert.True(t, resetHook)
	assert.Equal(t, Stopped, ex.State())
	assert.True(t, ex.Now().IsZero())
	assert.Zero(t, ex.EventCount())
	assert.Zero(t, ex.PendingCount())
	// The run number survives reset.
	assert.Equal(t, 1, ex.RunNumber())

	var fired int
	_, err = ex.RequestEvent(func(*Executive, any) { fired++ }, t0)
	require.NoError(t, err)
	require.NoError(t, ex.Start())
	assert.Equal(t, 1, fired)
	assert.Equal(t, 2, ex.RunNumber())
}

func TestStartRejectedWhileRunning(t *testing.T) {
	ex := New(Config{})
	var startErr error
	_, err := ex.RequestEvent(func(ex *Executive, _ any) {
		startErr = ex.Start()
	}, t0)
	require.NoError(t, err)
	require.NoError(t, ex.Start())
	assert.Error(t, startErr)
}

func TestLifecycleHookOrder(t *testing.T) {
	ex := New(Config{})
	var order []string
	ex.OnStartedSingleShot(func(*Executive) { order = append(order, "single") })
	ex.OnStarted(func(*Executive) { order = append(order, "started") })
	ex.OnEventAboutToFire(func(*Executive, *Event) { order = append(order, "about") })
	ex.OnEventHasCompleted(func(*Executive, *Event) { order = append(order, "completed") })
	ex.OnFinished(func(*Executive) { order = append(order, "finished") })

	_, err := ex.RequestEvent(func(*Executive, any) { order = append(order, "handler") }, t0)
	require.NoError(t, err)
	require.NoError(t, ex.Start())
	assert.Equal(t, []string{"single", "started", "about", "handler", "completed", "finished"}, order)

	// Single-shot hooks do not fire on the next run.
	require.NoError(t, ex.Reset())
	order = nil
	_, err = ex.RequestEvent(func(*Executive, any) {}, t0)
	require.NoError(t, err)
	require.NoError(t, ex.Start())
	assert.NotContains(t, order, "single")
	assert.Contains(t, order, "started")
}

func TestHandlerPanicIsSwallowedByDefault(t *testing.T) {
	ex := New(Config{})
	var second bool
	_, err := ex.RequestEvent(func(*Executive, any) { panic("boom") }, t0)
	require.NoError(t, err)
	_, err = ex.RequestEvent(func(*Executive, any) { second = true }, t0.Add(time.Minute))
	require.NoError(t, err)

	require.NoError(t, ex.Start())
	assert.True(t, second)
	assert.Equal(t, Finished, ex.State())
}

func TestHandlerPanicRethrowAbortsRun(t *testing.T) {
	ex := New(Config{RethrowHandlerFailures: true})
	var second bool
	_, err := ex.RequestEvent(func(*Executive, any) { panic("boom") }, t0)
	require.NoError(t, err)
	_, err = ex.RequestEvent(func(*Executive, any) { second = true }, t0.Add(time.Minute))
	require.NoError(t, err)

	err = ex.Start()
	require.Error(t, err)
	var he *HandlerError
	assert.True(t, errors.As(err, &he))
	assert.False(t, second)
	assert.Equal(t, Stopped, ex.State())
}

func TestAsynchronousEventRunsOffThread(t *testing.T) {
	ex := New(Config{})
	var asyncDone atomic.Bool
	_, err := ex.Submit(Request{
		Kind: Asynchronous,
		When: t0,
		Handler: func(*Executive, any) {
			time.Sleep(10 * time.Millisecond)
			asyncDone.Store(true)
		},
	})
	require.NoError(t, err)

	// The run drains async handlers before finishing.
	require.NoError(t, ex.Start())
	assert.True(t, asyncDone.Load())
}

func TestJoinOutsideFiberIsMisuse(t *testing.T) {
	ex := New(Config{})
	var joinErr error
	_, err := ex.RequestEvent(func(ex *Executive, _ any) {
		joinErr = ex.Join(Key(1))
	}, t0)
	require.NoError(t, err)
	require.NoError(t, ex.Start())
	assert.ErrorIs(t, joinErr, ErrDetachableMisuse)
}

func TestDetachOutsideFiberIsMisuse(t *testing.T) {
	ex := New(Config{})
	var detachErr error
	_, err := ex.RequestEvent(func(ex *Executive, _ any) {
		_, detachErr = ex.Detach()
	}, t0)
	require.NoError(t, err)
	require.NoError(t, ex.Start())
	assert.ErrorIs(t, detachErr, ErrDetachableMisuse)
}
