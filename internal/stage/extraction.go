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
	"github.com/swastik-shetty-85/docpipe/internal/extract"
	"github.com/swastik-shetty-85/docpipe/internal/job"
	"github.com/swastik-shetty-85/docpipe/internal/metrics"
	"github.com/swastik-shetty-85/docpipe/internal/queue"
	"github.com/swastik-shetty-85/docpipe/internal/retry"
	"github.com/swastik-shetty-85/docpipe/internal/statusbus"
)

// structuredDataName is the artifact name for the extraction result.
const structuredDataName = "structured.json"

// Extraction turns queued jobs into extracted ones. It consumes the
// extraction queue, invokes the extraction collaborator, persists the
// structured record, and hands the job to the generation queue.
type Extraction struct {
	workerID  string
	jobs      job.Repository
	artifacts artifact.Gateway
	extractor extract.Extractor
	extractQ  queue.Queue
	generateQ queue.Queue
	bus       statusbus.Bus
	policy    *retry.Policy
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       Config
}

// NewExtraction creates an extraction stage worker.
func NewExtraction(
	jobs job.Repository,
	artifacts artifact.Gateway,
	extractor extract.Extractor,
	extractQ, generateQ queue.Queue,
	bus statusbus.Bus,
	policy *retry.Policy,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg Config,
) *Extraction {
	return &Extraction{
		workerID:  fmt.Sprintf("extract-%s", uuid.New().String()[:8]),
		jobs:      jobs,
		artifacts: artifacts,
		extractor: extractor,
		extractQ:  extractQ,
		generateQ: generateQ,
		bus:       bus,
		policy:    policy,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run starts the worker loop. It blocks until the context is cancelled.
func (w *Extraction) Run(ctx context.Context) error {
	w.logger.Info("extraction worker started", zap.String("worker_id", w.workerID))

	go redeliverLoop(ctx, w.extractQ, "extract", w.cfg.RedeliverInterval, w.logger)
	go queueMetricsLoop(ctx, w.extractQ, "extract", w.cfg.MetricsInterval, w.metrics)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("extraction worker shutting down", zap.String("worker_id", w.workerID))
			return nil
		default:
			if err := w.processNext(ctx); err != nil {
				w.logger.Error("process error", zap.Error(err))
			}
		}
	}
}

// processNext dequeues and handles a single message.
func (w *Extraction) processNext(ctx context.Context) error {
	d, err := w.extractQ.Dequeue(ctx)
	if err != nil {
		return fmt.Errorf("dequeue: %w", err)
	}
	if d == nil {
		return nil // Poll timeout, nothing available.
	}

	if d.Poisoned {
		escalatePoison(ctx, w.jobs, w.bus, w.metrics, w.logger, "extract", d.Message)
		return w.extractQ.Ack(ctx, d)
	}

	j, err := w.jobs.GetByID(ctx, d.Message.JobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			w.logger.Warn("message for unknown job, discarding",
				zap.String("job_id", d.Message.JobID.String()))
			return w.extractQ.Ack(ctx, d)
		}
		return fmt.Errorf("load job: %w", err) // Unacked; redelivery retries.
	}

	switch j.Stage {
	case job.StageQueued:
		// Normal path.
	case job.StageExtracting:
		// A previous delivery started the attempt and died without
		// committing. Reset so this delivery can take over.
		j, err = w.jobs.Transition(ctx, j.ID, job.StageExtracting, job.StageQueued,
			job.WithError("attempt interrupted"))
		if err != nil {
			if errors.Is(err, job.ErrStaleTransition) {
				return w.extractQ.Ack(ctx, d)
			}
			return fmt.Errorf("reset interrupted job: %w", err)
		}
		publish(ctx, w.bus, w.logger, j)
	case job.StageExtracted:
		// Extraction committed but the generation hand-off may have been
		// lost before this message was acknowledged. Re-enqueue it; a
		// duplicate is harmless, a hole is not.
		if err := w.generateQ.Enqueue(ctx, j.ID); err != nil {
			return fmt.Errorf("re-enqueue generation: %w", err)
		}
		return w.extractQ.Ack(ctx, d)
	default:
		// Duplicate delivery for a job already past this stage.
		return w.extractQ.Ack(ctx, d)
	}

	attempts, err := w.jobs.IncrementAttempt(ctx, j.ID, job.StageExtracting)
	if err != nil {
		return fmt.Errorf("increment attempt: %w", err)
	}
	if attempts > w.policy.MaxAttempts {
		// Only reachable when earlier attempts died before their own
		// terminal decision; settle the job now.
		return w.deadLetter(ctx, d, j.ID, job.StageQueued,
			fmt.Sprintf("extraction retry budget exhausted after %d attempts", attempts-1))
	}

	ctx, span := tracer.Start(ctx, "stage.extract",
		trace.WithAttributes(
			attribute.String("job.id", j.ID.String()),
			attribute.Int("job.attempt", attempts),
		),
	)
	defer span.End()

	w.metrics.WorkerBusy.WithLabelValues(w.workerID).Set(1)
	defer w.metrics.WorkerBusy.WithLabelValues(w.workerID).Set(0)
	w.metrics.StageAttemptsTotal.WithLabelValues("extract").Inc()

	j, err = w.jobs.Transition(ctx, j.ID, job.StageQueued, job.StageExtracting)
	if err != nil {
		if errors.Is(err, job.ErrStaleTransition) {
			// Another worker claimed the job, or it was cancelled.
			return w.extractQ.Ack(ctx, d)
		}
		return fmt.Errorf("transition to extracting: %w", err)
	}
	publish(ctx, w.bus, w.logger, j)

	start := time.Now()
	record, err := w.runExtraction(ctx, j)
	w.metrics.StageLatency.WithLabelValues("extract").Observe(time.Since(start).Seconds())
	if err != nil {
		return w.handleFailure(ctx, d, j, attempts, err)
	}

	return w.commit(ctx, d, j, record)
}

// runExtraction loads the input artifacts and invokes the collaborator
// under the stage call timeout.
func (w *Extraction) runExtraction(ctx context.Context, j *job.Job) ([]byte, error) {
	document, err := w.artifacts.Get(ctx, j.InputRef)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	spec, err := w.artifacts.Get(ctx, j.SpecRef)
	if err != nil {
		return nil, fmt.Errorf("load spec: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
	defer cancel()

	record, err := w.extractor.Extract(callCtx, document, spec)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return record, nil
}

// commit persists the structured record and advances the job. The artifact
// write precedes the compare-and-set that records it; if the transition
// loses (cancellation, racing worker) the record is simply never referenced.
func (w *Extraction) commit(ctx context.Context, d *queue.Delivery, j *job.Job, record []byte) error {
	ref := artifact.Ref(j.ID, structuredDataName)
	if err := w.artifacts.Put(ctx, ref, record); err != nil {
		return w.handleFailure(ctx, d, j, j.ExtractAttempts, fmt.Errorf("persist record: %w", err))
	}

	j, err := w.jobs.Transition(ctx, j.ID, job.StageExtracting, job.StageExtracted,
		job.WithStructuredDataRef(ref), job.ClearError())
	if err != nil {
		if errors.Is(err, job.ErrStaleTransition) {
			w.logger.Info("extraction result discarded, job moved on",
				zap.String("job_id", j.ID.String()))
			return w.extractQ.Ack(ctx, d)
		}
		return fmt.Errorf("transition to extracted: %w", err)
	}
	publish(ctx, w.bus, w.logger, j)

	if err := w.generateQ.Enqueue(ctx, j.ID); err != nil {
		// Leave the message unacknowledged; its redelivery hits the
		// extracted guard above and repairs the hand-off.
		return fmt.Errorf("enqueue generation: %w", err)
	}

	w.metrics.StageSuccessTotal.WithLabelValues("extract").Inc()
	w.logger.Info("extraction complete",
		zap.String("job_id", j.ID.String()),
		zap.Int("attempt", j.ExtractAttempts),
	)
	return w.extractQ.Ack(ctx, d)
}

// handleFailure decides between retry and dead-lettering for a failed
// attempt. attempts is the number of the attempt that just failed.
func (w *Extraction) handleFailure(ctx context.Context, d *queue.Delivery, j *job.Job, attempts int, execErr error) error {
	errMsg := execErr.Error()

	if extract.IsPermanent(execErr) {
		w.logger.Error("permanent extraction failure",
			zap.String("job_id", j.ID.String()),
			zap.String("error", errMsg),
		)
		return w.deadLetter(ctx, d, j.ID, job.StageExtracting, errMsg)
	}

	if w.policy.Exhausted(attempts) {
		return w.deadLetter(ctx, d, j.ID, job.StageExtracting, errMsg)
	}

	j, err := w.jobs.Transition(ctx, j.ID, job.StageExtracting, job.StageQueued,
		job.WithError(errMsg))
	if err != nil {
		if errors.Is(err, job.ErrStaleTransition) {
			return w.extractQ.Ack(ctx, d)
		}
		return fmt.Errorf("transition to queued: %w", err)
	}
	publish(ctx, w.bus, w.logger, j)

	delay := w.policy.NextDelay(attempts)
	w.logger.Info("retrying extraction",
		zap.String("job_id", j.ID.String()),
		zap.Int("attempt", attempts),
		zap.Duration("delay", delay),
	)
	if err := w.extractQ.EnqueueAfter(ctx, j.ID, delay); err != nil {
		// Leave unacked: the original message redelivers after its
		// visibility timeout instead of the intended backoff.
		return fmt.Errorf("enqueue retry: %w", err)
	}
	w.metrics.StageRetriesTotal.WithLabelValues("extract").Inc()
	return w.extractQ.Ack(ctx, d)
}

// deadLetter terminates the job after an unprocessable upload.
func (w *Extraction) deadLetter(ctx context.Context, d *queue.Delivery, id uuid.UUID, from job.Stage, errMsg string) error {
	j, err := w.jobs.Transition(ctx, id, from, job.StageDeadLettered, job.WithError(errMsg))
	if err != nil {
		if errors.Is(err, job.ErrStaleTransition) {
			return w.extractQ.Ack(ctx, d)
		}
		return fmt.Errorf("transition to dead_lettered: %w", err)
	}
	publish(ctx, w.bus, w.logger, j)

	w.metrics.JobsFailedTotal.WithLabelValues(string(job.StageDeadLettered)).Inc()
	w.logger.Error("job dead-lettered",
		zap.String("job_id", id.String()),
		zap.String("error", errMsg),
	)
	return w.extractQ.Ack(ctx, d)
}
