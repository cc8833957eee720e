package statusbus

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/swastik-shetty-85/docpipe/internal/job"
)

func event(jobID uuid.UUID, stage job.Stage) Event {
	return Event{JobID: jobID, Stage: stage, Timestamp: time.Now().UTC()}
}

func TestPublishSubscribe(t *testing.T) {
	b := NewMemoryBus(zap.NewNop())
	ctx := context.Background()
	jobID := uuid.New()

	ch, cancel, err := b.Subscribe(ctx, jobID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	stages := []job.Stage{job.StageExtracting, job.StageExtracted, job.StageGenerating}
	for _, s := range stages {
		if err := b.Publish(ctx, event(jobID, s)); err != nil {
			t.Fatalf("publish %s: %v", s, err)
		}
	}

	// Events arrive in publish order.
	for _, want := range stages {
		select {
		case ev := <-ch:
			if ev.Stage != want {
				t.Errorf("expected stage %s, got %s", want, ev.Stage)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for stage %s", want)
		}
	}
}

func TestTerminalEventClosesStream(t *testing.T) {
	b := NewMemoryBus(zap.NewNop())
	ctx := context.Background()
	jobID := uuid.New()

	ch, cancel, _ := b.Subscribe(ctx, jobID)
	defer cancel()

	b.Publish(ctx, event(jobID, job.StageComplete))

	ev, open := <-ch
	if !open {
		t.Fatal("expected the terminal event before close")
	}
	if ev.Stage != job.StageComplete {
		t.Errorf("expected complete, got %s", ev.Stage)
	}

	if _, open := <-ch; open {
		t.Error("expected channel closed after terminal event")
	}
}

func TestPublishIsolatesJobs(t *testing.T) {
	b := NewMemoryBus(zap.NewNop())
	ctx := context.Background()
	jobA := uuid.New()
	jobB := uuid.New()

	chA, cancelA, _ := b.Subscribe(ctx, jobA)
	defer cancelA()

	b.Publish(ctx, event(jobB, job.StageExtracting))

	select {
	case ev := <-chA:
		t.Errorf("subscriber of %s received event for %s", jobA, ev.JobID)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	b := NewMemoryBus(zap.NewNop())
	ctx := context.Background()
	jobID := uuid.New()

	ch, cancel, _ := b.Subscribe(ctx, jobID)
	defer cancel()

	// Overflow the buffer without draining; Publish must never block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*3; i++ {
			b.Publish(ctx, event(jobID, job.StageExtracting))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	if received != subscriberBuffer {
		t.Errorf("expected %d buffered events, got %d", subscriberBuffer, received)
	}
}

func TestCancelUnsubscribes(t *testing.T) {
	b := NewMemoryBus(zap.NewNop())
	ctx := context.Background()
	jobID := uuid.New()

	ch, cancel, _ := b.Subscribe(ctx, jobID)
	cancel()

	if _, open := <-ch; open {
		t.Error("expected channel closed after cancel")
	}

	// Publishing after cancel must not panic or block.
	if err := b.Publish(ctx, event(jobID, job.StageComplete)); err != nil {
		t.Errorf("publish after cancel: %v", err)
	}
}

func TestNewEvent(t *testing.T) {
	j := job.New("alice", "in", "spec", "tmpl")
	j.Stage = job.StageFailed
	j.LastError = "render gave out"

	ev := NewEvent(j)
	if ev.JobID != j.ID {
		t.Errorf("expected job id %s, got %s", j.ID, ev.JobID)
	}
	if ev.Stage != job.StageFailed {
		t.Errorf("expected stage failed, got %s", ev.Stage)
	}
	if ev.Error != "render gave out" {
		t.Errorf("expected error carried, got '%s'", ev.Error)
	}
	if !ev.Terminal() {
		t.Error("expected failed event to be terminal")
	}
}
