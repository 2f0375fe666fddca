package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineStageLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlscribe_pipeline_stage_latency_ms",
			Help:    "Latency of each question pipeline stage in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"stage", "outcome"},
	)
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlscribe_questions_total",
			Help: "Total number of answered questions by outcome.",
		},
		[]string{"outcome"},
	)
	unsafeQueryRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlscribe_unsafe_query_rejections_total",
			Help: "Total number of generated queries rejected by the read-only gate.",
		},
	)
	fragmentsIndexedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlscribe_fragments_indexed_total",
			Help: "Total number of schema fragments written to project stores.",
		},
		[]string{"collection"},
	)
	indexRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlscribe_index_runs_total",
			Help: "Total number of indexing runs by outcome.",
		},
		[]string{"outcome"},
	)
	promptBudgetExceededTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlscribe_prompt_budget_exceeded_total",
			Help: "Total number of composed prompts larger than the configured soft budget.",
		},
	)
	promptCharacters = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlscribe_prompt_characters",
			Help:    "Size of composed prompts in characters.",
			Buckets: []float64{500, 1000, 2000, 4000, 8000, 16000, 32000, 64000},
		},
	)
	generationRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlscribe_generation_retries_total",
			Help: "Total number of retried generation attempts.",
		},
	)
	historyWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlscribe_history_write_failures_total",
			Help: "Total number of history entries that could not be recorded.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		pipelineStageLatencyMs,
		questionsTotal,
		unsafeQueryRejectionsTotal,
		fragmentsIndexedTotal,
		indexRunsTotal,
		promptBudgetExceededTotal,
		promptCharacters,
		generationRetriesTotal,
		historyWriteFailuresTotal,
	)
}

func ObservePipelineStage(stage, outcome string, elapsed time.Duration) {
	pipelineStageLatencyMs.WithLabelValues(stage, outcome).Observe(float64(elapsed.Milliseconds()))
}

func IncrementQuestions(outcome string) {
	questionsTotal.WithLabelValues(outcome).Inc()
}

func IncrementUnsafeQueryRejections() {
	unsafeQueryRejectionsTotal.Inc()
}

func ObserveIndexRun(outcome string, schemaFragments, relationshipFragments int) {
	indexRunsTotal.WithLabelValues(outcome).Inc()
	if schemaFragments > 0 {
		fragmentsIndexedTotal.WithLabelValues("schema").Add(float64(schemaFragments))
	}
	if relationshipFragments > 0 {
		fragmentsIndexedTotal.WithLabelValues("relationship").Add(float64(relationshipFragments))
	}
}

func ObservePromptSize(chars int, overBudget bool) {
	promptCharacters.Observe(float64(chars))
	if overBudget {
		promptBudgetExceededTotal.Inc()
	}
}

func IncrementGenerationRetries() {
	generationRetriesTotal.Inc()
}

func IncrementHistoryWriteFailures() {
	historyWriteFailuresTotal.Inc()
}
