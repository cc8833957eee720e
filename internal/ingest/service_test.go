package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/swastik-shetty-85/docpipe/internal/artifact"
	"github.com/swastik-shetty-85/docpipe/internal/job"
	"github.com/swastik-shetty-85/docpipe/internal/metrics"
	"github.com/swastik-shetty-85/docpipe/internal/queue"
	"github.com/swastik-shetty-85/docpipe/internal/statusbus"
	"github.com/swastik-shetty-85/docpipe/internal/storage"
)

const validSpec = `{
	"type": "object",
	"required": ["total"],
	"properties": {"total": {"type": "number"}}
}`

type fixture struct {
	svc       *Service
	jobs      *storage.MemoryJobRepository
	artifacts *artifact.MemoryGateway
	extractQ  *queue.MemoryQueue
	bus       *statusbus.MemoryBus
}

func newFixture() *fixture {
	jobs := storage.NewMemoryJobRepository()
	artifacts := artifact.NewMemoryGateway()
	extractQ := queue.NewMemoryQueue(queue.Options{
		VisibilityTimeout: time.Minute,
		DeliveryCeiling:   10,
		PollInterval:      20 * time.Millisecond,
	})
	bus := statusbus.NewMemoryBus(zap.NewNop())
	m := metrics.NewWith(prometheus.NewRegistry())

	return &fixture{
		svc:       NewService(jobs, artifacts, extractQ, bus, m, zap.NewNop()),
		jobs:      jobs,
		artifacts: artifacts,
		extractQ:  extractQ,
		bus:       bus,
	}
}

func TestSubmit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	j, err := f.svc.Submit(ctx, "alice", []byte("%PDF-1.4 invoice"), []byte(validSpec), []byte("<html/>"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if j.Stage != job.StageQueued {
		t.Errorf("expected stage queued, got %s", j.Stage)
	}
	if j.Owner != "alice" {
		t.Errorf("expected owner alice, got %s", j.Owner)
	}
	if j.InputRef == "" || j.SpecRef == "" || j.TemplateRef == "" {
		t.Error("expected all artifact refs to be set")
	}

	// All three artifacts stored, retrievable by ref.
	if f.artifacts.Len() != 3 {
		t.Errorf("expected 3 stored artifacts, got %d", f.artifacts.Len())
	}
	doc, err := f.artifacts.Get(ctx, j.InputRef)
	if err != nil {
		t.Fatalf("get input: %v", err)
	}
	if string(doc) != "%PDF-1.4 invoice" {
		t.Errorf("unexpected stored document: %q", doc)
	}

	// Job row persisted in the queued stage.
	stored, err := f.jobs.GetByID(ctx, j.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.Stage != job.StageQueued {
		t.Errorf("expected stored stage queued, got %s", stored.Stage)
	}

	// Exactly one extraction message.
	depth, _ := f.extractQ.Depth(ctx)
	if depth != 1 {
		t.Errorf("expected extraction queue depth 1, got %d", depth)
	}
	d, _ := f.extractQ.Dequeue(ctx)
	if d == nil || d.Message.JobID != j.ID {
		t.Errorf("expected extraction message for job %s", j.ID)
	}
}

func TestSubmitPublishesQueuedEvent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// The job ID only exists after Submit returns, so the queued event
	// itself cannot be observed here; clients handle this with a
	// get-then-subscribe. Assert the stream works for the new job.
	j, err := f.svc.Submit(ctx, "alice", []byte("doc"), []byte(validSpec), []byte("tmpl"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ch, cancel, _ := f.bus.Subscribe(ctx, j.ID)
	defer cancel()

	got, _ := f.jobs.GetByID(ctx, j.ID)
	f.bus.Publish(ctx, statusbus.NewEvent(got))

	select {
	case ev := <-ch:
		if ev.Stage != job.StageQueued {
			t.Errorf("expected queued event, got %s", ev.Stage)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubmitRejectsEmptyDocument(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Submit(context.Background(), "alice", nil, []byte(validSpec), []byte("tmpl"))
	if err == nil {
		t.Fatal("expected error for empty document")
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if f.artifacts.Len() != 0 {
		t.Error("expected nothing stored for rejected submission")
	}
}

func TestSubmitRejectsInvalidSpec(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "alice", []byte("doc"), []byte(`{"type": 42}`), []byte("tmpl"))
	if err == nil {
		t.Fatal("expected error for invalid spec")
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if f.artifacts.Len() != 0 {
		t.Error("expected nothing stored for rejected submission")
	}
	depth, _ := f.extractQ.Depth(ctx)
	if depth != 0 {
		t.Error("expected nothing enqueued for rejected submission")
	}
}
