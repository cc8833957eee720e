package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/swastik-shetty-85/docpipe/internal/job"
)

func newQueuedJob(t *testing.T, r *MemoryJobRepository) *job.Job {
	t.Helper()
	j := job.New("alice", "in", "spec", "tmpl")
	j.Stage = job.StageQueued
	if err := r.Create(context.Background(), j); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return j
}

func TestCreateAndGet(t *testing.T) {
	r := NewMemoryJobRepository()
	ctx := context.Background()

	j := newQueuedJob(t, r)

	got, err := r.GetByID(ctx, j.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != j.ID || got.Owner != "alice" || got.Stage != job.StageQueued {
		t.Errorf("got %+v, want id=%s owner=alice stage=queued", got, j.ID)
	}

	if _, err := r.GetByID(ctx, uuid.New()); !errors.Is(err, job.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestCreateDuplicate(t *testing.T) {
	r := NewMemoryJobRepository()
	j := newQueuedJob(t, r)
	if err := r.Create(context.Background(), j); err == nil {
		t.Error("expected error creating duplicate job")
	}
}

func TestTransition(t *testing.T) {
	r := NewMemoryJobRepository()
	ctx := context.Background()
	j := newQueuedJob(t, r)

	got, err := r.Transition(ctx, j.ID, job.StageQueued, job.StageExtracting)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Stage != job.StageExtracting {
		t.Errorf("expected stage extracting, got %s", got.Stage)
	}
	if !got.UpdatedAt.After(j.UpdatedAt) && !got.UpdatedAt.Equal(j.UpdatedAt) {
		t.Error("expected updated_at to advance")
	}
}

func TestTransitionStale(t *testing.T) {
	r := NewMemoryJobRepository()
	ctx := context.Background()
	j := newQueuedJob(t, r)

	// The job moved on; a transition expecting the old stage must lose.
	if _, err := r.Transition(ctx, j.ID, job.StageQueued, job.StageExtracting); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := r.Transition(ctx, j.ID, job.StageQueued, job.StageExtracting)
	if !errors.Is(err, job.ErrStaleTransition) {
		t.Errorf("expected ErrStaleTransition, got %v", err)
	}

	// The losing write must not have touched the row.
	got, _ := r.GetByID(ctx, j.ID)
	if got.Stage != job.StageExtracting {
		t.Errorf("expected stage extracting, got %s", got.Stage)
	}
}

func TestTransitionInvalidEdge(t *testing.T) {
	r := NewMemoryJobRepository()
	j := newQueuedJob(t, r)

	_, err := r.Transition(context.Background(), j.ID, job.StageQueued, job.StageComplete)
	if !errors.Is(err, job.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransitionMutations(t *testing.T) {
	r := NewMemoryJobRepository()
	ctx := context.Background()
	j := newQueuedJob(t, r)

	if _, err := r.Transition(ctx, j.ID, job.StageQueued, job.StageExtracting); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := r.Transition(ctx, j.ID, job.StageExtracting, job.StageExtracted,
		job.WithStructuredDataRef("jobs/x/structured.json"), job.ClearError())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.StructuredDataRef != "jobs/x/structured.json" {
		t.Errorf("expected structured data ref, got '%s'", got.StructuredDataRef)
	}
}

// TestTransitionRace verifies the compare-and-set under contention: many
// goroutines claim the same queued job, exactly one wins, the rest observe
// a stale transition.
func TestTransitionRace(t *testing.T) {
	r := NewMemoryJobRepository()
	ctx := context.Background()
	j := newQueuedJob(t, r)

	const workers = 16
	var (
		wins  int64
		stale int64
		wg    sync.WaitGroup
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Transition(ctx, j.ID, job.StageQueued, job.StageExtracting)
			switch {
			case err == nil:
				atomic.AddInt64(&wins, 1)
			case errors.Is(err, job.ErrStaleTransition):
				atomic.AddInt64(&stale, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly 1 winner, got %d", wins)
	}
	if stale != workers-1 {
		t.Errorf("expected %d stale losers, got %d", workers-1, stale)
	}
}

func TestIncrementAttempt(t *testing.T) {
	r := NewMemoryJobRepository()
	ctx := context.Background()
	j := newQueuedJob(t, r)

	for want := 1; want <= 3; want++ {
		got, err := r.IncrementAttempt(ctx, j.ID, job.StageExtracting)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("expected attempt %d, got %d", want, got)
		}
	}

	got, err := r.IncrementAttempt(ctx, j.ID, job.StageGenerating)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1 {
		t.Errorf("expected render attempt 1, got %d", got)
	}

	if _, err := r.IncrementAttempt(ctx, j.ID, job.StageQueued); err == nil {
		t.Error("expected error for stage without attempt counter")
	}
}

func TestCancel(t *testing.T) {
	r := NewMemoryJobRepository()
	ctx := context.Background()
	j := newQueuedJob(t, r)

	got, err := r.Cancel(ctx, j.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Stage != job.StageCancelled {
		t.Errorf("expected stage cancelled, got %s", got.Stage)
	}
}

func TestCancelClearsStructuredRef(t *testing.T) {
	r := NewMemoryJobRepository()
	ctx := context.Background()

	j := job.New("alice", "in", "spec", "tmpl")
	j.Stage = job.StageExtracted
	j.StructuredDataRef = "jobs/" + j.ID.String() + "/structured.json"
	if err := r.Create(ctx, j); err != nil {
		t.Fatalf("create job: %v", err)
	}

	got, err := r.Cancel(ctx, j.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Stage != job.StageCancelled {
		t.Errorf("expected stage cancelled, got %s", got.Stage)
	}
	if got.StructuredDataRef != "" {
		t.Errorf("cancelled job still carries structured data ref %q", got.StructuredDataRef)
	}
}

func TestCancelTerminalNoop(t *testing.T) {
	r := NewMemoryJobRepository()
	ctx := context.Background()

	j := job.New("alice", "in", "spec", "tmpl")
	j.Stage = job.StageComplete
	if err := r.Create(ctx, j); err != nil {
		t.Fatalf("create job: %v", err)
	}

	got, err := r.Cancel(ctx, j.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Stage != job.StageComplete {
		t.Errorf("expected terminal job unchanged, got %s", got.Stage)
	}
}

func TestListByStage(t *testing.T) {
	r := NewMemoryJobRepository()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		newQueuedJob(t, r)
	}
	done := job.New("bob", "in", "spec", "tmpl")
	done.Stage = job.StageComplete
	if err := r.Create(ctx, done); err != nil {
		t.Fatalf("create job: %v", err)
	}

	queued, err := r.ListByStage(ctx, job.StageQueued, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queued) != 3 {
		t.Errorf("expected 3 queued jobs, got %d", len(queued))
	}

	limited, err := r.ListByStage(ctx, job.StageQueued, 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 jobs with limit, got %d", len(limited))
	}

	counts, err := r.CountByStage(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts[job.StageQueued] != 3 || counts[job.StageComplete] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}
