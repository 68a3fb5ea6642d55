package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Executive metrics
	ExecutivesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tempo_executives_running",
			Help: "Number of executives currently inside a run",
		},
	)

	EventsFired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tempo_events_fired_total",
			Help: "Total number of events fired across all executives",
		},
	)

	EventsRescinded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tempo_events_rescinded_total",
			Help: "Total number of pending events removed by rescission",
		},
	)

	EventsRevoked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tempo_events_revoked_total",
			Help: "Total number of future events discarded by rollbacks",
		},
	)

	HandlerFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tempo_handler_failures_total",
			Help: "Total number of panics escaping user event handlers",
		},
	)

	PendingEvents = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tempo_pending_events",
			Help: "Events in the future set by executive",
		},
		[]string{"executive"},
	)

	HandlerDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tempo_handler_duration_seconds",
			Help:    "Wall-clock time spent inside synchronous event handlers",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Rollback metrics
	Rollbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tempo_rollbacks_total",
			Help: "Total number of time-warp rollbacks performed",
		},
	)

	RollbackDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tempo_rollback_duration_seconds",
			Help:    "Wall-clock time taken by a single executive rollback",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ExecutivesRunning)
	prometheus.MustRegister(EventsFired)
	prometheus.MustRegister(EventsRescinded)
	prometheus.MustRegister(EventsRevoked)
	prometheus.MustRegister(HandlerFailures)
	prometheus.MustRegister(PendingEvents)
	prometheus.MustRegister(HandlerDuration)
	prometheus.MustRegister(Rollbacks)
	prometheus.MustRegister(RollbackDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
