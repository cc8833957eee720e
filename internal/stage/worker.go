// Package stage implements the pipeline stage workers. Each worker pulls
// from its queue, advances jobs through the stage machine via the job
// store's compare-and-set transition, and publishes a status event after
// every committed transition. Multiple instances of the same worker may run
// concurrently; the compare-and-set is the only coordination between them.
package stage

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"

	"go.uber.org/zap"

	"github.com/swastik-shetty-85/docpipe/internal/job"
	"github.com/swastik-shetty-85/docpipe/internal/metrics"
	"github.com/swastik-shetty-85/docpipe/internal/queue"
	"github.com/swastik-shetty-85/docpipe/internal/statusbus"
)

var tracer = otel.Tracer("docpipe/stage")

// Config holds stage worker configuration.
type Config struct {
	// CallTimeout bounds a single collaborator invocation. Expiry is
	// treated as a failed attempt.
	CallTimeout time.Duration

	// RedeliverInterval is how often the worker sweeps its queue for due
	// and expired messages.
	RedeliverInterval time.Duration

	// MetricsInterval is how often queue gauges are refreshed.
	MetricsInterval time.Duration
}

// DefaultConfig returns sensible stage worker defaults.
func DefaultConfig() Config {
	return Config{
		CallTimeout:       5 * time.Minute,
		RedeliverInterval: 5 * time.Second,
		MetricsInterval:   5 * time.Second,
	}
}

// redeliverLoop periodically sweeps the queue so unacknowledged and
// backoff-delayed messages become deliverable again.
func redeliverLoop(ctx context.Context, q queue.Queue, name string, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			moved, err := q.Redeliver(ctx)
			if err != nil {
				logger.Error("redeliver sweep failed",
					zap.String("queue", name),
					zap.Error(err),
				)
				continue
			}
			if moved > 0 {
				logger.Info("redelivered messages",
					zap.String("queue", name),
					zap.Int("count", moved),
				)
			}
		}
	}
}

// queueMetricsLoop periodically refreshes depth gauges for the queue.
func queueMetricsLoop(ctx context.Context, q queue.Queue, name string, interval time.Duration, m *metrics.Metrics) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if depth, err := q.Depth(ctx); err == nil {
				m.QueueDepth.WithLabelValues(name).Set(float64(depth))
			}
			if depth, err := q.DeadLetterDepth(ctx); err == nil {
				m.DeadLetterDepth.WithLabelValues(name).Set(float64(depth))
			}
		}
	}
}

// publish emits the status event for a committed transition. Fanout is
// best-effort; a publish failure never fails the stage.
func publish(ctx context.Context, bus statusbus.Bus, logger *zap.Logger, j *job.Job) {
	if err := bus.Publish(ctx, statusbus.NewEvent(j)); err != nil {
		logger.Warn("publish status event failed",
			zap.String("job_id", j.ID.String()),
			zap.String("stage", string(j.Stage)),
			zap.Error(err),
		)
	}
}

// escalatePoison handles a message the queue dead-lettered at its delivery
// ceiling. The job is forced to dead_lettered unless already terminal. This
// path firing at all means job-level retry accounting failed to stop the
// message, so it is logged as an alarm.
func escalatePoison(ctx context.Context, jobs job.Repository, bus statusbus.Bus, m *metrics.Metrics, logger *zap.Logger, queueName string, msg queue.Message) {
	m.PoisonMessagesTotal.WithLabelValues(queueName).Inc()
	logger.Error("poison message dead-lettered by queue ceiling",
		zap.String("queue", queueName),
		zap.String("job_id", msg.JobID.String()),
		zap.Int("delivery_count", msg.DeliveryCount),
	)

	j, err := jobs.GetByID(ctx, msg.JobID)
	if err != nil {
		logger.Error("load poisoned job failed", zap.Error(err))
		return
	}
	if j.Stage.Terminal() {
		return
	}

	j, err = jobs.Transition(ctx, j.ID, j.Stage, job.StageDeadLettered,
		job.WithError("message exceeded queue delivery ceiling"),
		job.ClearStructuredRef())
	if err != nil {
		logger.Error("dead-letter poisoned job failed", zap.Error(err))
		return
	}
	m.JobsFailedTotal.WithLabelValues(string(job.StageDeadLettered)).Inc()
	publish(ctx, bus, logger, j)
}
