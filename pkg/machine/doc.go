/*
Package machine provides the declarative state machine that gates a
simulation model's lifecycle.

The machine is backed by a boolean transition matrix over a finite
ordinal state set, plus a follow-on state per state: a state is terminal
iff its follow-on is itself, and a permitted transition chains
automatically through non-terminal follow-on states, firing the
transition-completed hooks after each leg. Disallowed transitions fail
with ErrBadTransition. Three distinguished states (start, abort, idle)
anchor the model façade in package model.
*/
package machine
