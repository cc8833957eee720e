package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue implements Queue in process memory with the same delivery
// discipline as the Redis queue. It backs tests and single-node development
// where a Redis dependency is unwanted.
type MemoryQueue struct {
	mu         sync.Mutex
	opts       Options
	pending    []Message
	delayed    []timedMessage
	processing map[string]timedMessage
	dead       []Message

	now func() time.Time
}

type timedMessage struct {
	msg   Message
	token string
	at    time.Time // ready time for delayed, deadline for processing
}

// NewMemoryQueue creates an in-memory stage queue.
func NewMemoryQueue(opts Options) *MemoryQueue {
	return &MemoryQueue{
		opts:       opts,
		processing: make(map[string]timedMessage),
		now:        time.Now,
	}
}

// Enqueue makes a fresh message for the job immediately deliverable.
func (q *MemoryQueue) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, Message{
		ID:         uuid.New(),
		JobID:      jobID,
		EnqueuedAt: q.now().UTC(),
	})
	return nil
}

// EnqueueAfter schedules a message to become deliverable after delay.
func (q *MemoryQueue) EnqueueAfter(ctx context.Context, jobID uuid.UUID, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg := Message{
		ID:         uuid.New(),
		JobID:      jobID,
		EnqueuedAt: q.now().UTC(),
	}
	q.delayed = append(q.delayed, timedMessage{msg: msg, at: q.now().Add(delay)})
	return nil
}

// Dequeue pops the next deliverable message, waiting up to the poll
// interval. Returns (nil, nil) when nothing arrived in time.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	deadline := time.Now().Add(q.opts.PollInterval)

	for {
		if d := q.tryDequeue(); d != nil {
			return d, nil
		}

		if time.Now().After(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func (q *MemoryQueue) tryDequeue() *Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.promote(q.now())
	if len(q.pending) == 0 {
		return nil
	}

	msg := q.pending[0]
	q.pending = q.pending[1:]
	msg.DeliveryCount++

	if msg.DeliveryCount > q.opts.DeliveryCeiling {
		q.dead = append(q.dead, msg)
		return &Delivery{Message: msg, Poisoned: true}
	}

	token := fmt.Sprintf("%s#%d", msg.ID, msg.DeliveryCount)
	q.processing[token] = timedMessage{
		msg:   msg,
		token: token,
		at:    q.now().Add(q.opts.VisibilityTimeout),
	}
	return &Delivery{Message: msg, token: token}
}

// Ack removes the delivery's in-flight entry.
func (q *MemoryQueue) Ack(ctx context.Context, d *Delivery) error {
	if d.token == "" {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, d.token)
	return nil
}

// Redeliver promotes due delayed and expired in-flight messages.
func (q *MemoryQueue) Redeliver(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.promote(q.now()), nil
}

// promote moves due delayed messages and expired processing entries back to
// pending. Callers hold q.mu.
func (q *MemoryQueue) promote(now time.Time) int {
	moved := 0

	remaining := q.delayed[:0]
	for _, tm := range q.delayed {
		if tm.at.After(now) {
			remaining = append(remaining, tm)
			continue
		}
		q.pending = append(q.pending, tm.msg)
		moved++
	}
	q.delayed = remaining

	for token, tm := range q.processing {
		if tm.at.After(now) {
			continue
		}
		delete(q.processing, token)
		q.pending = append(q.pending, tm.msg)
		moved++
	}

	return moved
}

// Depth returns the number of immediately deliverable messages.
func (q *MemoryQueue) Depth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending)), nil
}

// DeadLetterDepth returns the number of dead-lettered messages.
func (q *MemoryQueue) DeadLetterDepth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.dead)), nil
}
