/*
Package trace persists Tempo's observability feed to a BoltDB file for
post-run inspection.

Entries are JSON-marshaled into a nested bucket per run, keyed by a
monotonic sequence so append order is replay order. Attach a recorder
to the event broker for live capture, or call Record directly.
*/
package trace
