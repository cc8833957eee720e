// Package metrics provides Prometheus instrumentation for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metric collectors for the pipeline.
type Metrics struct {
	JobsCreatedTotal    prometheus.Counter
	StageAttemptsTotal  *prometheus.CounterVec // stage
	StageSuccessTotal   *prometheus.CounterVec // stage
	StageRetriesTotal   *prometheus.CounterVec // stage
	JobsFailedTotal     *prometheus.CounterVec // terminal stage
	StageLatency        *prometheus.HistogramVec
	QueueDepth          *prometheus.GaugeVec
	DeadLetterDepth     *prometheus.GaugeVec
	PoisonMessagesTotal *prometheus.CounterVec
	WorkerBusy          *prometheus.GaugeVec
}

// New creates all metrics registered against the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates all metrics registered against the given registerer.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "docpipe_jobs_created_total",
			Help: "Total number of document jobs accepted by the upload boundary.",
		}),

		StageAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docpipe_stage_attempts_total",
			Help: "Total collaborator invocations, partitioned by stage.",
		}, []string{"stage"}),

		StageSuccessTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docpipe_stage_success_total",
			Help: "Total successful stage completions, partitioned by stage.",
		}, []string{"stage"}),

		StageRetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docpipe_stage_retries_total",
			Help: "Total failed attempts re-queued for retry, partitioned by stage.",
		}, []string{"stage"}),

		JobsFailedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docpipe_jobs_failed_total",
			Help: "Total jobs reaching a terminal failure, partitioned by terminal stage.",
		}, []string{"stage"}),

		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docpipe_stage_latency_seconds",
			Help:    "Wall time of a single stage attempt, partitioned by stage.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}, []string{"stage"}),

		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docpipe_queue_depth",
			Help: "Current number of deliverable messages, partitioned by queue.",
		}, []string{"queue"}),

		DeadLetterDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docpipe_dead_letter_depth",
			Help: "Current number of dead-lettered messages, partitioned by queue.",
		}, []string{"queue"}),

		PoisonMessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docpipe_poison_messages_total",
			Help: "Messages dead-lettered by the queue delivery ceiling. Should stay at zero.",
		}, []string{"queue"}),

		WorkerBusy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docpipe_worker_busy",
			Help: "Whether the worker is currently processing a job (1=busy, 0=idle).",
		}, []string{"worker_id"}),
	}
}
