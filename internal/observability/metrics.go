package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the Prometheus instruments the orchestrator updates
// across a run: tasks ingested, issues published, and reporter failures,
// as named in SPEC_FULL's ambient stack section.
type Metrics struct {
	TasksIngested       *prometheus.CounterVec
	IssuesPublished     *prometheus.CounterVec
	ReporterFailures    *prometheus.CounterVec
	RunDuration         *prometheus.HistogramVec
	CircuitBreakerTrips *prometheus.CounterVec
}

// NewMetrics registers and returns the pipeline's metric instruments on
// reg. Passing prometheus.NewRegistry() isolates test runs from the global
// default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "revpipe",
			Name:      "tasks_ingested_total",
			Help:      "Number of CI tasks ingested, labeled by analyzer kind and outcome.",
		}, []string{"analyzer", "outcome"}),
		IssuesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "revpipe",
			Name:      "issues_published_total",
			Help:      "Number of issues published, labeled by analyzer, level, and reporter kind.",
		}, []string{"analyzer", "level", "reporter"}),
		ReporterFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "revpipe",
			Name:      "reporter_failures_total",
			Help:      "Number of reporter dispatch failures, labeled by reporter kind.",
		}, []string{"reporter"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "revpipe",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a pipeline run, labeled by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		CircuitBreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "revpipe",
			Name:      "circuit_breaker_trips_total",
			Help:      "Number of per-host circuit breaker state changes, labeled by host and new state.",
		}, []string{"host", "state"}),
	}

	reg.MustRegister(m.TasksIngested, m.IssuesPublished, m.ReporterFailures, m.RunDuration, m.CircuitBreakerTrips)
	return m
}
