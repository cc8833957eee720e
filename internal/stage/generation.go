package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/swastik-shetty-85/docpipe/internal/artifact"
	"github.com/swastik-shetty-85/docpipe/internal/job"
	"github.com/swastik-shetty-85/docpipe/internal/metrics"
	"github.com/swastik-shetty-85/docpipe/internal/queue"
	"github.com/swastik-shetty-85/docpipe/internal/render"
	"github.com/swastik-shetty-85/docpipe/internal/retry"
	"github.com/swastik-shetty-85/docpipe/internal/statusbus"
)

// outputName is the artifact name for the rendered document.
const outputName = "output.pdf"

// Generation turns extracted jobs into completed ones. It consumes the
// generation queue, invokes the rendering collaborator with the structured
// record and template, and persists the output document.
//
// A job that exhausts generation retries ends in failed, not dead_lettered:
// its upload was processable, the late pipeline gave out. Keeping the two
// terminal stages distinct preserves which stage ran out of road.
type Generation struct {
	workerID  string
	jobs      job.Repository
	artifacts artifact.Gateway
	renderer  render.Renderer
	generateQ queue.Queue
	bus       statusbus.Bus
	policy    *retry.Policy
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       Config
}

// NewGeneration creates a generation stage worker.
func NewGeneration(
	jobs job.Repository,
	artifacts artifact.Gateway,
	renderer render.Renderer,
	generateQ queue.Queue,
	bus statusbus.Bus,
	policy *retry.Policy,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg Config,
) *Generation {
	return &Generation{
		workerID:  fmt.Sprintf("generate-%s", uuid.New().String()[:8]),
		jobs:      jobs,
		artifacts: artifacts,
		renderer:  renderer,
		generateQ: generateQ,
		bus:       bus,
		policy:    policy,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run starts the worker loop. It blocks until the context is cancelled.
func (w *Generation) Run(ctx context.Context) error {
	w.logger.Info("generation worker started", zap.String("worker_id", w.workerID))

	go redeliverLoop(ctx, w.generateQ, "generate", w.cfg.RedeliverInterval, w.logger)
	go queueMetricsLoop(ctx, w.generateQ, "generate", w.cfg.MetricsInterval, w.metrics)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("generation worker shutting down", zap.String("worker_id", w.workerID))
			return nil
		default:
			if err := w.processNext(ctx); err != nil {
				w.logger.Error("process error", zap.Error(err))
			}
		}
	}
}

// processNext dequeues and handles a single message.
func (w *Generation) processNext(ctx context.Context) error {
	d, err := w.generateQ.Dequeue(ctx)
	if err != nil {
		return fmt.Errorf("dequeue: %w", err)
	}
	if d == nil {
		return nil
	}

	if d.Poisoned {
		escalatePoison(ctx, w.jobs, w.bus, w.metrics, w.logger, "generate", d.Message)
		return w.generateQ.Ack(ctx, d)
	}

	j, err := w.jobs.GetByID(ctx, d.Message.JobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			w.logger.Warn("message for unknown job, discarding",
				zap.String("job_id", d.Message.JobID.String()))
			return w.generateQ.Ack(ctx, d)
		}
		return fmt.Errorf("load job: %w", err)
	}

	switch j.Stage {
	case job.StageExtracted:
		// Normal path.
	case job.StageGenerating:
		// A previous delivery died mid-attempt; reset and take over.
		j, err = w.jobs.Transition(ctx, j.ID, job.StageGenerating, job.StageExtracted,
			job.WithError("attempt interrupted"))
		if err != nil {
			if errors.Is(err, job.ErrStaleTransition) {
				return w.generateQ.Ack(ctx, d)
			}
			return fmt.Errorf("reset interrupted job: %w", err)
		}
		publish(ctx, w.bus, w.logger, j)
	default:
		// Duplicate delivery; the job already completed or terminated.
		return w.generateQ.Ack(ctx, d)
	}

	attempts, err := w.jobs.IncrementAttempt(ctx, j.ID, job.StageGenerating)
	if err != nil {
		return fmt.Errorf("increment attempt: %w", err)
	}
	if attempts > w.policy.MaxAttempts {
		return w.fail(ctx, d, j.ID, job.StageExtracted,
			fmt.Sprintf("generation retry budget exhausted after %d attempts", attempts-1))
	}

	ctx, span := tracer.Start(ctx, "stage.generate",
		trace.WithAttributes(
			attribute.String("job.id", j.ID.String()),
			attribute.Int("job.attempt", attempts),
		),
	)
	defer span.End()

	w.metrics.WorkerBusy.WithLabelValues(w.workerID).Set(1)
	defer w.metrics.WorkerBusy.WithLabelValues(w.workerID).Set(0)
	w.metrics.StageAttemptsTotal.WithLabelValues("generate").Inc()

	j, err = w.jobs.Transition(ctx, j.ID, job.StageExtracted, job.StageGenerating)
	if err != nil {
		if errors.Is(err, job.ErrStaleTransition) {
			return w.generateQ.Ack(ctx, d)
		}
		return fmt.Errorf("transition to generating: %w", err)
	}
	publish(ctx, w.bus, w.logger, j)

	start := time.Now()
	output, err := w.runRender(ctx, j)
	w.metrics.StageLatency.WithLabelValues("generate").Observe(time.Since(start).Seconds())
	if err != nil {
		return w.handleFailure(ctx, d, j, attempts, err)
	}

	return w.commit(ctx, d, j, output)
}

// runRender loads the template and structured record and invokes the
// renderer under the stage call timeout.
func (w *Generation) runRender(ctx context.Context, j *job.Job) ([]byte, error) {
	template, err := w.artifacts.Get(ctx, j.TemplateRef)
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	record, err := w.artifacts.Get(ctx, j.StructuredDataRef)
	if err != nil {
		return nil, fmt.Errorf("load structured record: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
	defer cancel()

	output, err := w.renderer.Render(callCtx, template, record)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return output, nil
}

// commit persists the output and completes the job.
func (w *Generation) commit(ctx context.Context, d *queue.Delivery, j *job.Job, output []byte) error {
	ref := artifact.Ref(j.ID, outputName)
	if err := w.artifacts.Put(ctx, ref, output); err != nil {
		return w.handleFailure(ctx, d, j, j.RenderAttempts, fmt.Errorf("persist output: %w", err))
	}

	j, err := w.jobs.Transition(ctx, j.ID, job.StageGenerating, job.StageComplete,
		job.WithOutputRef(ref), job.ClearError())
	if err != nil {
		if errors.Is(err, job.ErrStaleTransition) {
			w.logger.Info("rendered output discarded, job moved on",
				zap.String("job_id", j.ID.String()))
			return w.generateQ.Ack(ctx, d)
		}
		return fmt.Errorf("transition to complete: %w", err)
	}
	publish(ctx, w.bus, w.logger, j)

	w.metrics.StageSuccessTotal.WithLabelValues("generate").Inc()
	w.logger.Info("job complete",
		zap.String("job_id", j.ID.String()),
		zap.String("output_ref", ref),
		zap.Int("attempt", j.RenderAttempts),
	)
	return w.generateQ.Ack(ctx, d)
}

// handleFailure decides between retry and terminal failure.
func (w *Generation) handleFailure(ctx context.Context, d *queue.Delivery, j *job.Job, attempts int, execErr error) error {
	errMsg := execErr.Error()

	if w.policy.Exhausted(attempts) {
		return w.fail(ctx, d, j.ID, job.StageGenerating, errMsg)
	}

	j, err := w.jobs.Transition(ctx, j.ID, job.StageGenerating, job.StageExtracted,
		job.WithError(errMsg))
	if err != nil {
		if errors.Is(err, job.ErrStaleTransition) {
			return w.generateQ.Ack(ctx, d)
		}
		return fmt.Errorf("transition to extracted: %w", err)
	}
	publish(ctx, w.bus, w.logger, j)

	delay := w.policy.NextDelay(attempts)
	w.logger.Info("retrying generation",
		zap.String("job_id", j.ID.String()),
		zap.Int("attempt", attempts),
		zap.Duration("delay", delay),
	)
	if err := w.generateQ.EnqueueAfter(ctx, j.ID, delay); err != nil {
		return fmt.Errorf("enqueue retry: %w", err)
	}
	w.metrics.StageRetriesTotal.WithLabelValues("generate").Inc()
	return w.generateQ.Ack(ctx, d)
}

// fail terminates the job after a late-pipeline failure.
func (w *Generation) fail(ctx context.Context, d *queue.Delivery, id uuid.UUID, from job.Stage, errMsg string) error {
	j, err := w.jobs.Transition(ctx, id, from, job.StageFailed,
		job.WithError(errMsg), job.ClearStructuredRef())
	if err != nil {
		if errors.Is(err, job.ErrStaleTransition) {
			return w.generateQ.Ack(ctx, d)
		}
		return fmt.Errorf("transition to failed: %w", err)
	}
	publish(ctx, w.bus, w.logger, j)

	w.metrics.JobsFailedTotal.WithLabelValues(string(job.StageFailed)).Inc()
	w.logger.Error("job permanently failed",
		zap.String("job_id", id.String()),
		zap.String("error", errMsg),
	)
	return w.generateQ.Ack(ctx, d)
}
