/*
Package exec implements the discrete-event simulation executive: a
single-threaded event loop over virtual time, with cooperative
detachable fibers and an optional parallel variant coordinated through
barriers.

# Architecture

	┌─────────────────── EXECUTIVE ────────────────────────────┐
	│                                                           │
	│  Submit / Rescind (any goroutine, lock-protected)        │
	│        │                                                  │
	│        ▼                                                  │
	│  ┌──────────────┐   drain at loop     ┌───────────────┐ │
	│  │ staged buffer │ ──────────────────▶ │ future event  │ │
	│  └──────────────┘   boundaries         │ set (min-heap)│ │
	│                                        └──────┬────────┘ │
	│                                               │ pop-min   │
	│                                               ▼           │
	│  hooks: about-to-fire ─▶ handler ─▶ has-completed        │
	│        (synchronous │ detachable fiber │ asynchronous)   │
	│                                                           │
	│  pause gate · exec gate · rollback gate · read gate      │
	└───────────────────────────────────────────────────────────┘

Events are ordered by ascending time, then descending priority, then
ascending key, so records sharing a timestamp and priority fire in
arrival order. Daemon events do not keep the loop alive: the run ends
when no non-daemon event is pending.

# Detachable fibers

A Detachable event's handler runs on its own goroutine, but control is
handed off through a single-slot channel so that exactly one of fiber
and executive executes at any instant. The handler obtains its
controller with ex.Detach() and may Suspend, SuspendFor/SuspendUntil,
or Join on other events; peers wake it with Resume. Aborting a fiber
runs its abort handler on the fiber and unwinds it; abort cannot be
refused.

# Parallel variant

With Config.Parallel, records carry addedWhen stamps, fired events are
retained, priority is forced to zero and only Synchronous events are
accepted. PerformRollback restores the executive to an earlier time:
future events created at-or-after the target are revoked, past events
are re-introduced, and the clock moves backward; this is the only way
Now ever decreases. The CoExecutor in package coexec drives the
barriers and rollback coordination across a cohort of such executives.
*/
package exec
