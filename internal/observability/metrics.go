// Package observability exposes Prometheus metrics for queue depth, pipeline
// stage outcomes, and governance decisions. It replaces the crawler's
// hand-rolled text-exposition Metrics type with client_golang counters and
// gauges, the library the rest of the example pack reaches for whenever it
// needs Prometheus metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge the worker, scheduler, and API processes
// publish. All three processes share this type and New registers every
// metric in each of them; a process records samples only for the metrics
// relevant to its role by calling the corresponding Inc/Observe/Set
// method — an unused metric simply never gets a sample.
type Metrics struct {
	JobsEnqueued   prometheus.Counter
	JobsCompleted  prometheus.Counter
	JobsFailed     prometheus.Counter
	JobsDeadLettered prometheus.Counter

	StageDuration *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec

	GovernanceDenied prometheus.Counter
	RateLimitWaits   *prometheus.HistogramVec

	QueueDepth      prometheus.Gauge
	ProcessingDepth prometheus.Gauge
	DeadLetterDepth prometheus.Gauge

	BrowserPoolInUse prometheus.Gauge
}

// New registers and returns a Metrics bound to reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		JobsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "newsagent_jobs_enqueued_total",
			Help: "Total jobs placed on the work queue.",
		}),
		JobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "newsagent_jobs_completed_total",
			Help: "Total jobs that completed the pipeline successfully.",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "newsagent_jobs_failed_total",
			Help: "Total jobs that failed a pipeline stage.",
		}),
		JobsDeadLettered: factory.NewCounter(prometheus.CounterOpts{
			Name: "newsagent_jobs_dead_lettered_total",
			Help: "Total jobs moved to the dead-letter list after exhausting retries.",
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "newsagent_pipeline_stage_duration_seconds",
			Help: "Duration of each pipeline stage.",
		}, []string{"stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "newsagent_pipeline_stage_failures_total",
			Help: "Failures per pipeline stage.",
		}, []string{"stage"}),
		GovernanceDenied: factory.NewCounter(prometheus.CounterOpts{
			Name: "newsagent_governance_denied_total",
			Help: "Fetches denied by robots.txt.",
		}),
		RateLimitWaits: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "newsagent_rate_limit_wait_seconds",
			Help: "Time spent waiting for a per-domain rate limit slot.",
		}, []string{"domain"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "newsagent_queue_depth",
			Help: "Current depth of the work queue.",
		}),
		ProcessingDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "newsagent_queue_processing_depth",
			Help: "Jobs currently claimed by a worker.",
		}),
		DeadLetterDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "newsagent_queue_dead_letter_depth",
			Help: "Current depth of the dead-letter list.",
		}),
		BrowserPoolInUse: factory.NewGauge(prometheus.GaugeOpts{
			Name: "newsagent_browser_pool_in_use",
			Help: "Browser tabs currently checked out of the pool.",
		}),
	}
}

// Handler returns the standard Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
