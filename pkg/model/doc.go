/*
Package model provides the façade host domain code builds simulations
on: a Model owns one executive, one state machine, and an
InitializationManager whose registered tasks run when the model enters
the Initialized state.

The state machine gates the executive. A model moves
raw → initialized → running → finished, with aborted reachable from
running and another initialization legal after finished or aborted.
Hook registration (Starting, StartedSingleShot, Stopped, Finished,
Reset) forwards to the underlying executive's lifecycle hooks.
*/
package model
