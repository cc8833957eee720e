// Package ingest implements the upload boundary: it persists the incoming
// artifacts, creates the job record, and feeds the first pipeline message.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/swastik-shetty-85/docpipe/internal/artifact"
	"github.com/swastik-shetty-85/docpipe/internal/extract"
	"github.com/swastik-shetty-85/docpipe/internal/job"
	"github.com/swastik-shetty-85/docpipe/internal/metrics"
	"github.com/swastik-shetty-85/docpipe/internal/queue"
	"github.com/swastik-shetty-85/docpipe/internal/statusbus"
)

// ErrInvalidInput marks a submission rejected before anything was stored.
// Retrying the same request cannot succeed.
var ErrInvalidInput = errors.New("invalid submission")

// Artifact names under the job's key prefix.
const (
	inputName    = "input.pdf"
	specName     = "spec.json"
	templateName = "template.pdf"
)

// Service accepts document submissions and starts their pipeline run.
type Service struct {
	jobs      job.Repository
	artifacts artifact.Gateway
	extractQ  queue.Queue
	bus       statusbus.Bus
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

var tracer = otel.Tracer("docpipe/ingest")

// NewService creates the upload boundary service.
func NewService(
	jobs job.Repository,
	artifacts artifact.Gateway,
	extractQ queue.Queue,
	bus statusbus.Bus,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		jobs:      jobs,
		artifacts: artifacts,
		extractQ:  extractQ,
		bus:       bus,
		metrics:   m,
		logger:    logger,
	}
}

// Submit stores the artifacts, creates the job, and enqueues the first
// processing message. The returned job is in the queued stage. An invalid
// extraction spec is rejected here, before anything is stored.
func (s *Service) Submit(ctx context.Context, owner string, document, spec, template []byte) (*job.Job, error) {
	ctx, span := tracer.Start(ctx, "ingest.submit",
		trace.WithAttributes(attribute.String("owner", owner)),
	)
	defer span.End()

	if len(document) == 0 {
		return nil, fmt.Errorf("%w: document is empty", ErrInvalidInput)
	}
	if err := extract.CompileSpec(spec); err != nil {
		return nil, fmt.Errorf("%w: extraction spec: %w", ErrInvalidInput, err)
	}

	j := job.New(owner, "", "", "")
	j.InputRef = artifact.Ref(j.ID, inputName)
	j.SpecRef = artifact.Ref(j.ID, specName)
	j.TemplateRef = artifact.Ref(j.ID, templateName)

	if err := s.artifacts.Put(ctx, j.InputRef, document); err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}
	if err := s.artifacts.Put(ctx, j.SpecRef, spec); err != nil {
		return nil, fmt.Errorf("store spec: %w", err)
	}
	if err := s.artifacts.Put(ctx, j.TemplateRef, template); err != nil {
		return nil, fmt.Errorf("store template: %w", err)
	}

	if err := s.jobs.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	j, err := s.jobs.Transition(ctx, j.ID, job.StageUploaded, job.StageQueued)
	if err != nil {
		return nil, fmt.Errorf("queue job: %w", err)
	}

	if err := s.extractQ.Enqueue(ctx, j.ID); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	if err := s.bus.Publish(ctx, statusbus.NewEvent(j)); err != nil {
		s.logger.Warn("publish status event failed",
			zap.String("job_id", j.ID.String()),
			zap.Error(err),
		)
	}
	s.metrics.JobsCreatedTotal.Inc()

	s.logger.Info("job submitted",
		zap.String("job_id", j.ID.String()),
		zap.String("owner", owner),
		zap.Int("document_bytes", len(document)),
	)
	return j, nil
}
