// Package statusbus publishes job stage transitions to live observers.
//
// Delivery is fire-and-forget: the bus exists for low-latency observation,
// not durability. The job store remains the source of truth; a subscriber
// that misses an event resynchronizes by re-reading the job.
package statusbus

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/swastik-shetty-85/docpipe/internal/job"
)

// Event is one stage transition, published immediately after the
// transition commits. Events are ephemeral and never persisted.
type Event struct {
	JobID     uuid.UUID `json:"job_id"`
	Stage     job.Stage `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Terminal reports whether this event ends the job's stream.
func (e Event) Terminal() bool {
	return e.Stage.Terminal()
}

// Bus fans stage-transition events out to per-job subscribers.
type Bus interface {
	// Publish delivers the event to all live subscribers of its job.
	// Slow or gone subscribers are skipped; Publish never blocks on them.
	Publish(ctx context.Context, ev Event) error

	// Subscribe returns a live stream of the job's events from this moment
	// on, plus a cancel function. The channel closes after a terminal event
	// is delivered or the subscription is cancelled. Callers wanting the
	// current state must read the job store first and accept the small
	// window between read and subscribe.
	Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan Event, func(), error)
}

// NewEvent builds the event for a committed transition.
func NewEvent(j *job.Job) Event {
	return Event{
		JobID:     j.ID,
		Stage:     j.Stage,
		Timestamp: j.UpdatedAt,
		Error:     j.LastError,
	}
}
