package exec

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarrierOpenPassesThrough(t *testing.T) {
	b := NewBarrier(true)
	done := make(chan struct{})
	go func() {
		b.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter blocked on an open barrier")
	}
}

func TestBarrierSetReleasesAllWaiters(t *testing.T) {
	b := NewBarrier(false)
	var released atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Wait()
			released.Add(1)
		}()
	}
	// Let waiters park.
	waitFor(t, func() bool { return b.Waiting() == 5 })
	require.Equal(t, int32(0), released.Load())

	b.Set()
	wg.Wait()
	assert.Equal(t, int32(5), released.Load())
}

func TestBarrierResetArmsAgain(t *testing.T) {
	b := NewBarrier(true)
	b.Reset()
	assert.False(t, b.IsOpen())

	done := make(chan struct{})
	go func() {
		b.Wait()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("waiter passed a closed barrier")
	case <-time.After(50 * time.Millisecond):
	}
	b.Set()
	<-done
}

func TestBarrierPulseReleasesOnlyCurrentWaiters(t *testing.T) {
	b := NewBarrier(false)
	done := make(chan struct{})
	go func() {
		b.Wait()
		close(done)
	}()
	waitFor(t, func() bool { return b.Waiting() == 1 })

	b.Pulse()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pulse did not release the parked waiter")
	}

	// Barrier stays closed for new arrivals.
	assert.False(t, b.IsOpen())
	late := make(chan struct{})
	go func() {
		b.Wait()
		close(late)
	}()
	select {
	case <-late:
		t.Fatal("new waiter passed after a pulse")
	case <-time.After(50 * time.Millisecond):
	}
	b.Set()
	<-late
}

// waitFor polls until cond holds or the test times out.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
