package exec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetachableSuspendFor(t *testing.T) {
	ex := New(Config{})
	var order []string

	_, err := ex.Submit(Request{
		Kind: Detachable,
		When: t0,
		Handler: func(ex *Executive, _ any) {
			dec, err := ex.Detach()
			require.NoError(t, err)
			order = append(order, "slice1")
			require.NoError(t, dec.SuspendFor(10*time.Minute))
			order = append(order, "slice2")
			assert.True(t, ex.Now().Equal(t0.Add(10*time.Minute)))
		},
	})
	require.NoError(t, err)
	_, err = ex.RequestEvent(func(*Executive, any) { order = append(order, "interleaved") }, t0.Add(5*time.Minute))
	require.NoError(t, err)

	require.NoError(t, ex.Start())
	assert.Equal(t, []string{"slice1", "interleaved", "slice2"}, order)
	assert.Equal(t, Finished, ex.State())
}

func TestDinnerWithJoin(t *testing.T) {
	ex := New(Config{})
	base := time.Date(2016, 11, 24, 9, 0, 0, 0, time.UTC)
	var served time.Time
	var done []string

	dish := func(name string, d time.Duration) Handler {
		return func(ex *Executive, _ any) {
			dec, err := ex.Detach()
			require.NoError(t, err)
			require.NoError(t, dec.SuspendFor(d))
			done = append(done, name)
		}
	}

	_, err := ex.Submit(Request{
		Kind: Detachable,
		When: base,
		Handler: func(ex *Executive, _ any) {
			turkey, err := ex.Submit(Request{Kind: Detachable, When: ex.Now(), Handler: dish("turkey", 300*time.Minute)})
			require.NoError(t, err)
			gravy, err := ex.Submit(Request{Kind: Detachable, When: ex.Now(), Handler: dish("gravy", 250*time.Minute)})
			require.NoError(t, err)
			stuffing, err := ex.Submit(Request{Kind: Detachable, When: ex.Now(), Handler: dish("stuffing", 30*time.Minute)})
			require.NoError(t, err)

			require.NoError(t, ex.Join(turkey, gravy, stuffing))
			served = ex.Now()
		},
	})
	require.NoError(t, err)

	require.NoError(t, ex.Start())
	assert.ElementsMatch(t, []string{"turkey", "gravy", "stuffing"}, done)
	assert.Len(t, done, 3)
	// Dinner is served when the slowest dish finishes.
	assert.True(t, served.Equal(base.Add(300*time.Minute)), "served at %s", served)
}

func TestJoinOnSettledKeysReturnsImmediately(t *testing.T) {
	ex := New(Config{})
	var joined bool

	fast, err := ex.RequestEvent(func(*Executive, any) {}, t0)
	require.NoError(t, err)

	_, err = ex.Submit(Request{
		Kind: Detachable,
		When: t0.Add(time.Minute),
		Handler: func(ex *Executive, _ any) {
			// fast already fired; an unknown key counts as fired too.
			require.NoError(t, ex.Join(fast, Key(424242)))
			joined = true
		},
	})
	require.NoError(t, err)

	require.NoError(t, ex.Start())
	assert.True(t, joined)
}

func TestJoinSettledByRescind(t *testing.T) {
	ex := New(Config{})
	var joinedAt time.Time

	victim, err := ex.RequestEvent(func(*Executive, any) {}, t0.Add(time.Hour))
	require.NoError(t, err)
	_, err = ex.RequestEvent(func(ex *Executive, _ any) {
		require.NoError(t, ex.Rescind(victim))
	}, t0.Add(10*time.Minute))
	require.NoError(t, err)

	_, err = ex.Submit(Request{
		Kind: Detachable,
		When: t0,
		Handler: func(ex *Executive, _ any) {
			require.NoError(t, ex.Join(victim))
			joinedAt = ex.Now()
		},
	})
	require.NoError(t, err)

	require.NoError(t, ex.Start())
	// The join settles when the awaited event is rescinded, not fired.
	assert.True(t, joinedAt.Equal(t0.Add(10*time.Minute)))
}

func TestResumeFromAnotherEvent(t *testing.T) {
	ex := New(Config{})
	var resumedAt time.Time

	key, err := ex.Submit(Request{
		Kind: Detachable,
		When: t0,
		Handler: func(ex *Executive, _ any) {
			dec, err := ex.Detach()
			require.NoError(t, err)
			require.NoError(t, dec.Suspend())
			resumedAt = ex.Now()
		},
	})
	require.NoError(t, err)

	_, err = ex.RequestEvent(func(ex *Executive, _ any) {
		dec, ok := ex.Controller(key)
		require.True(t, ok)
		require.NoError(t, dec.Resume())
		// Colliding resumes collapse into one slice.
		require.NoError(t, dec.Resume())
	}, t0.Add(20*time.Minute))
	require.NoError(t, err)

	require.NoError(t, ex.Start())
	assert.True(t, resumedAt.Equal(t0.Add(20*time.Minute)))
	assert.Equal(t, Finished, ex.State())
}

func TestSuspendRoundTripKeepsClock(t *testing.T) {
	ex := New(Config{})
	var before, after time.Time

	key, err := ex.Submit(Request{
		Kind: Detachable,
		When: t0,
		Handler: func(ex *Executive, _ any) {
			dec, err := ex.Detach()
			require.NoError(t, err)
			before = ex.Now()
			require.NoError(t, dec.Suspend())
			after = ex.Now()
		},
	})
	require.NoError(t, err)
	_, err = ex.RequestEvent(func(ex *Executive, _ any) {
		dec, ok := ex.Controller(key)
		require.True(t, ok)
		require.NoError(t, dec.Resume())
	}, t0)
	require.NoError(t, err)

	require.NoError(t, ex.Start())
	// The resume slice runs at Now; the round trip never moves the
	// clock backward.
	assert.True(t, before.Equal(t0))
	assert.True(t, after.Equal(t0))
}

func TestAbortRunsAbortHandlerOnFiber(t *testing.T) {
	ex := New(Config{})
	var aborted bool
	var finishedBody bool

	key, err := ex.Submit(Request{
		Kind: Detachable,
		When: t0,
		Handler: func(ex *Executive, _ any) {
			dec, err := ex.Detach()
			require.NoError(t, err)
			dec.SetAbortHandler(func(...any) { aborted = true })
			_ = dec.SuspendUntil(t0.Add(time.Hour))
			finishedBody = true
		},
	})
	require.NoError(t, err)

	_, err = ex.RequestEvent(func(ex *Executive, _ any) {
		dec, ok := ex.Controller(key)
		require.True(t, ok)
		require.NoError(t, dec.Abort())
		// Abort is idempotent.
		require.NoError(t, dec.Abort())
	}, t0.Add(5*time.Minute))
	require.NoError(t, err)

	require.NoError(t, ex.Start())
	assert.True(t, aborted)
	assert.False(t, finishedBody)
	// The hour-long wake-up was cleared with the fiber.
	assert.True(t, ex.Now().Equal(t0.Add(5*time.Minute)))
	assert.Equal(t, Finished, ex.State())
}

func TestSuspendOffFiberIsMisuse(t *testing.T) {
	ex := New(Config{})
	var suspendErr error

	key, err := ex.Submit(Request{
		Kind: Detachable,
		When: t0,
		Handler: func(ex *Executive, _ any) {
			dec, err := ex.Detach()
			require.NoError(t, err)
			require.NoError(t, dec.Suspend())
		},
	})
	require.NoError(t, err)
	_, err = ex.RequestEvent(func(ex *Executive, _ any) {
		dec, ok := ex.Controller(key)
		require.True(t, ok)
		// Suspending someone else's fiber is not allowed.
		suspendErr = dec.Suspend()
		require.NoError(t, dec.Resume())
	}, t0.Add(time.Minute))
	require.NoError(t, err)

	require.NoError(t, ex.Start())
	assert.ErrorIs(t, suspendErr, ErrDetachableMisuse)
}
