package stage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/swastik-shetty-85/docpipe/internal/artifact"
	"github.com/swastik-shetty-85/docpipe/internal/job"
)

// extractedJob creates a job ready for generation: structured record and
// template stored, stage extracted, one message on the generation queue.
func (f *stageFixture) extractedJob(t *testing.T) *job.Job {
	t.Helper()
	ctx := context.Background()

	j := f.queuedJob(t)

	// Consume the extraction message; this test path starts after it.
	if d, _ := f.extractQ.Dequeue(ctx); d != nil {
		f.extractQ.Ack(ctx, d)
	}

	ref := artifact.Ref(j.ID, "structured.json")
	if err := f.artifacts.Put(ctx, ref, []byte(testRecord)); err != nil {
		t.Fatalf("put record: %v", err)
	}
	if _, err := f.jobs.Transition(ctx, j.ID, job.StageQueued, job.StageExtracting); err != nil {
		t.Fatalf("claim: %v", err)
	}
	j, err := f.jobs.Transition(ctx, j.ID, job.StageExtracting, job.StageExtracted,
		job.WithStructuredDataRef(ref))
	if err != nil {
		t.Fatalf("commit extraction: %v", err)
	}
	if err := f.generateQ.Enqueue(ctx, j.ID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return j
}

func drainGeneration(t *testing.T, w *Generation, passes int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < passes; i++ {
		time.Sleep(10 * time.Millisecond)
		if err := w.processNext(ctx); err != nil {
			t.Fatalf("pass %d: %v", i+1, err)
		}
	}
}

func TestGenerationHappyPath(t *testing.T) {
	f := newStageFixture()
	ctx := context.Background()
	j := f.extractedJob(t)

	renderer := &scriptedRenderer{output: []byte("%PDF-1.4 rendered")}
	w := f.generation(renderer)

	if err := w.processNext(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := f.jobs.GetByID(ctx, j.ID)
	if got.Stage != job.StageComplete {
		t.Errorf("expected stage complete, got %s", got.Stage)
	}
	if got.RenderAttempts != 1 {
		t.Errorf("expected 1 attempt, got %d", got.RenderAttempts)
	}
	if got.OutputRef == "" {
		t.Fatal("expected output ref to be set")
	}
	output, err := f.artifacts.Get(ctx, got.OutputRef)
	if err != nil {
		t.Fatalf("get output: %v", err)
	}
	if string(output) != "%PDF-1.4 rendered" {
		t.Errorf("unexpected stored output: %q", output)
	}

	if moved, _ := f.generateQ.Redeliver(ctx); moved != 0 {
		t.Errorf("expected generation message acked, %d redelivered", moved)
	}
}

func TestGenerationRetriesThenSucceeds(t *testing.T) {
	f := newStageFixture()
	ctx := context.Background()
	j := f.extractedJob(t)

	renderer := &scriptedRenderer{
		script: []error{errors.New("render service 503"), nil},
		output: []byte("pdf"),
	}
	w := f.generation(renderer)

	drainGeneration(t, w, 2)

	got, _ := f.jobs.GetByID(ctx, j.ID)
	if got.Stage != job.StageComplete {
		t.Errorf("expected stage complete, got %s", got.Stage)
	}
	if got.RenderAttempts != 2 {
		t.Errorf("expected 2 attempts, got %d", got.RenderAttempts)
	}
	if renderer.calls != 2 {
		t.Errorf("expected 2 renderer calls, got %d", renderer.calls)
	}
}

// A job whose generation retries run out fails rather than dead-letters:
// the upload itself was processable.
func TestGenerationExhaustionFailsJob(t *testing.T) {
	f := newStageFixture()
	ctx := context.Background()
	j := f.extractedJob(t)

	boom := errors.New("render service down")
	renderer := &scriptedRenderer{script: []error{boom, boom, boom}}
	w := f.generation(renderer)

	drainGeneration(t, w, 3)

	got, _ := f.jobs.GetByID(ctx, j.ID)
	if got.Stage != job.StageFailed {
		t.Errorf("expected stage failed, got %s", got.Stage)
	}
	if got.RenderAttempts != f.policy.MaxAttempts {
		t.Errorf("expected exactly %d attempts, got %d", f.policy.MaxAttempts, got.RenderAttempts)
	}
	if got.LastError == "" {
		t.Error("expected last error recorded")
	}
	if got.StructuredDataRef != "" {
		t.Errorf("failed job still carries structured data ref %q", got.StructuredDataRef)
	}

	time.Sleep(10 * time.Millisecond)
	depth, _ := f.generateQ.Depth(ctx)
	if depth != 0 {
		t.Errorf("expected empty generation queue, got %d", depth)
	}
}

func TestGenerationRecoversInterruptedAttempt(t *testing.T) {
	f := newStageFixture()
	ctx := context.Background()
	j := f.extractedJob(t)

	if _, err := f.jobs.Transition(ctx, j.ID, job.StageExtracted, job.StageGenerating); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := f.jobs.IncrementAttempt(ctx, j.ID, job.StageGenerating); err != nil {
		t.Fatalf("increment: %v", err)
	}

	renderer := &scriptedRenderer{output: []byte("pdf")}
	w := f.generation(renderer)

	if err := w.processNext(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := f.jobs.GetByID(ctx, j.ID)
	if got.Stage != job.StageComplete {
		t.Errorf("expected stage complete, got %s", got.Stage)
	}
	if got.RenderAttempts != 2 {
		t.Errorf("expected 2 attempts, got %d", got.RenderAttempts)
	}
}

// The full pipeline publishes one event per committed transition, in
// order, and the terminal event ends the stream.
func TestPipelineEventOrder(t *testing.T) {
	f := newStageFixture()
	ctx := context.Background()
	j := f.queuedJob(t)

	ch, cancel, err := f.bus.Subscribe(ctx, j.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	extraction := f.extraction(&scriptedExtractor{record: []byte(testRecord)})
	generation := f.generation(&scriptedRenderer{output: []byte("pdf")})

	if err := extraction.processNext(ctx); err != nil {
		t.Fatalf("extraction: %v", err)
	}
	if err := generation.processNext(ctx); err != nil {
		t.Fatalf("generation: %v", err)
	}

	want := []job.Stage{
		job.StageExtracting,
		job.StageExtracted,
		job.StageGenerating,
		job.StageComplete,
	}
	for _, stage := range want {
		select {
		case ev, open := <-ch:
			if !open {
				t.Fatalf("stream closed before stage %s", stage)
			}
			if ev.Stage != stage {
				t.Errorf("expected stage %s, got %s", stage, ev.Stage)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for stage %s", stage)
		}
	}

	if _, open := <-ch; open {
		t.Error("expected stream closed after the terminal event")
	}

	got, _ := f.jobs.GetByID(ctx, j.ID)
	if got.Stage != job.StageComplete {
		t.Errorf("expected job complete, got %s", got.Stage)
	}
}
