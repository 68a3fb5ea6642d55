/*
Package events provides an in-memory event broker for Tempo's observability
feed.

Every executive publishes its lifecycle here: start/stop/finish/reset,
pause/resume, clock changes, per-event fire and completion, and rollbacks in
the parallel variant. Delivery is asynchronous over buffered channels and
never blocks the executive thread; a slow subscriber drops events rather than
stalling virtual time.

The broker is topic-agnostic: all events are broadcast to every subscriber,
which filters on Event.Type and Event.Executive. This mirrors the small
number of consumers the kernel expects (a trace recorder, a metrics bridge,
an interactive console).

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			fmt.Println(ev.Type, ev.Executive, ev.When)
		}
	}()

Synchronous lifecycle hooks (which can veto or abort a run) live on the
executive itself; this broker is the fire-and-forget mirror of those hooks.
*/
package events
