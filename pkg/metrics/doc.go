/*
Package metrics provides Prometheus instrumentation for the Tempo kernel.

All collectors are package-level and registered at init. Executives
increment fire/rescind/rollback counters and keep the per-executive
pending gauge current at every loop boundary; handler latency and
rollback duration are observed as wall-clock histograms.

Expose the scrape endpoint with:

	http.Handle("/metrics", metrics.Handler())

Virtual time never appears in these metrics; they measure the kernel's
wall-clock behavior, not the simulation's.
*/
package metrics
