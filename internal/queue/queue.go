// Package queue provides at-least-once message delivery between pipeline
// stages, with visibility timeouts, delayed redelivery, and dead-lettering.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Message carries a job reference between stages. DeliveryCount is
// maintained by the queue, independent of the job's own attempt
// bookkeeping; it is the circuit breaker of last resort if job-level
// retry accounting is ever bypassed.
type Message struct {
	ID            uuid.UUID `json:"id"`
	JobID         uuid.UUID `json:"job_id"`
	DeliveryCount int       `json:"delivery_count"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// Delivery is a dequeued message plus the handle needed to acknowledge it.
// An unacknowledged delivery becomes eligible for redelivery once its
// visibility timeout elapses.
//
// Poisoned marks a message whose delivery count exceeded the hard ceiling.
// The queue has already moved it to the dead letter queue; the consumer's
// only remaining duty is to escalate the job and move on.
type Delivery struct {
	Message  Message
	Poisoned bool

	// token identifies the in-flight entry for Ack. Empty for poisoned
	// deliveries, which have nothing left to acknowledge.
	token string
}

// Queue is the delivery contract between stages. Implementations provide
// at-least-once semantics: a message is redelivered until acknowledged or
// dead-lettered, and may be delivered more than once.
type Queue interface {
	// Enqueue makes a new message for the job immediately deliverable.
	Enqueue(ctx context.Context, jobID uuid.UUID) error

	// EnqueueAfter schedules a message to become deliverable after delay.
	// Stage retries use it to apply backoff between attempts.
	EnqueueAfter(ctx context.Context, jobID uuid.UUID, delay time.Duration) error

	// Dequeue blocks until a message is available, bounded by the poll
	// interval. Returns (nil, nil) when no message arrived in time.
	Dequeue(ctx context.Context) (*Delivery, error)

	// Ack permanently removes a delivered message.
	Ack(ctx context.Context, d *Delivery) error

	// Redeliver moves due delayed messages and expired in-flight messages
	// back to the deliverable pool. Returns how many were moved. Workers
	// call it periodically; it is what turns an unacknowledged delivery
	// into a retry.
	Redeliver(ctx context.Context) (int, error)

	// Depth returns the number of immediately deliverable messages.
	Depth(ctx context.Context) (int64, error)

	// DeadLetterDepth returns the number of dead-lettered messages.
	DeadLetterDepth(ctx context.Context) (int64, error)
}

// Options tune a queue's delivery discipline.
type Options struct {
	// VisibilityTimeout is how long a dequeued message stays invisible
	// before an unacknowledged delivery is retried.
	VisibilityTimeout time.Duration

	// DeliveryCeiling is the hard per-message delivery bound. It must be
	// strictly larger than any job-level retry bound; crossing it means
	// job-level accounting failed to stop a looping message.
	DeliveryCeiling int

	// PollInterval bounds how long Dequeue blocks waiting for a message.
	PollInterval time.Duration
}

// DefaultOptions returns the default delivery discipline.
func DefaultOptions() Options {
	return Options{
		VisibilityTimeout: 5 * time.Minute,
		DeliveryCeiling:   10,
		PollInterval:      5 * time.Second,
	}
}
