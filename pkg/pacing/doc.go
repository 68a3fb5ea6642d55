/*
Package pacing couples a Tempo executive to periodic and wall-clock
schedules.

Metronome re-issues a virtual-time tick on [start, end) at a fixed
period; subscribers register one callback each, and unsubscribing stops
future firings without cancelling an in-flight callback.

Controller paces virtual time against wall time: it sleeps the
executive thread at clock-advance boundaries to hold the
virtual-to-wall ratio near 10^scale, and raises render ticks at a fixed
frame rate per wall-clock second for display layers.
*/
package pacing
