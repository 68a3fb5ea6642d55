/*
Package coexec coordinates several parallel-variant executives sharing
one virtual timeline.

The CoExecutor binds each executive to its own OS thread, holds them at
their exec-time barriers until all are up, releases them together, and
coterminates the cohort at a shared deadline: each executive that
reaches the deadline signals arrival and parks; the last arrival issues
stop to everyone.

Rollback is the optimistic time-warp path. Initiation is serialized and
concurrent requests collapse to the minimum target; the coordinator
closes every rollback barrier, waits (on condition variables, never
spinning) until every executive is parked or inside an event, kicks
pending readers forward, rolls the affected executives back in
parallel, and opens the barriers together. As observed from any
executive, a rollback is atomic: no peer ever sees state straddling the
boundary.

Synchronize carries an action from one executive's timeline to
another's at the caller's current time. A callee at or behind that time
executes: the action is delivered into its future. A callee that has
already passed it is rolled back, and the caller parks at its
pending-read barrier until the replay fires the action — or the whole
attempt aborts when the mode forbids waiting.
*/
package coexec
