package statusbus

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls further behind than this starts losing events.
const subscriberBuffer = 16

// MemoryBus fans events out to in-process subscribers. It backs tests and
// single-process deployments where API and workers share a binary.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]map[*memorySub]struct{}
	logger *zap.Logger
}

type memorySub struct {
	ch   chan Event
	once sync.Once
}

func (s *memorySub) close() {
	s.once.Do(func() { close(s.ch) })
}

// NewMemoryBus creates an in-process status bus.
func NewMemoryBus(logger *zap.Logger) *MemoryBus {
	return &MemoryBus{
		subs:   make(map[uuid.UUID]map[*memorySub]struct{}),
		logger: logger,
	}
}

// Publish delivers the event to every live subscriber of the job, dropping
// it for subscribers whose buffers are full. A terminal event closes and
// forgets the job's subscribers.
func (b *MemoryBus) Publish(ctx context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.subs[ev.JobID] {
		select {
		case s.ch <- ev:
		default:
			b.logger.Warn("dropping status event for slow subscriber",
				zap.String("job_id", ev.JobID.String()),
				zap.String("stage", string(ev.Stage)),
			)
		}
	}

	if ev.Terminal() {
		for s := range b.subs[ev.JobID] {
			s.close()
		}
		delete(b.subs, ev.JobID)
	}
	return nil
}

// Subscribe attaches a new observer to the job's event stream.
func (b *MemoryBus) Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan Event, func(), error) {
	s := &memorySub{ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[*memorySub]struct{})
	}
	b.subs[jobID][s] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[jobID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(b.subs, jobID)
			}
		}
		b.mu.Unlock()
		s.close()
	}
	return s.ch, cancel, nil
}
