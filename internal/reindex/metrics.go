package reindex

import "github.com/prometheus/client_golang/prometheus"

var (
	reindexRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlscribe_reindex_runs_total",
			Help: "Total number of reindex cycles by status.",
		},
		[]string{"status"},
	)
	reindexProjectFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlscribe_reindex_project_failures_total",
			Help: "Total number of projects that failed to reindex.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		reindexRunsTotal,
		reindexProjectFailuresTotal,
	)
}
