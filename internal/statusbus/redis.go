package statusbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus fans events across processes via Redis Pub/Sub, one channel per
// job. Pub/Sub delivery is inherently fire-and-forget, which matches the
// bus contract: disconnected subscribers simply miss events.
type RedisBus struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBus creates a Redis-backed status bus.
func NewRedisBus(client *redis.Client, logger *zap.Logger) *RedisBus {
	return &RedisBus{client: client, logger: logger}
}

func channelFor(jobID uuid.UUID) string {
	return "docpipe:status:" + jobID.String()
}

// Publish broadcasts the event on the job's channel.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, channelFor(ev.JobID), data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe attaches to the job's channel and decodes events until a
// terminal event arrives or the subscription is cancelled.
func (b *RedisBus) Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan Event, func(), error) {
	sub := b.client.Subscribe(ctx, channelFor(jobID))

	// Force the subscription onto the wire before returning so callers do
	// not miss events published right after Subscribe returns.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", jobID, err)
	}

	out := make(chan Event, subscriberBuffer)
	var once sync.Once
	cancel := func() {
		once.Do(func() { sub.Close() })
	}

	go func() {
		defer close(out)
		defer cancel()

		for msg := range sub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("dropping undecodable status event",
					zap.String("job_id", jobID.String()),
					zap.Error(err),
				)
				continue
			}

			select {
			case out <- ev:
			default:
				b.logger.Warn("dropping status event for slow subscriber",
					zap.String("job_id", jobID.String()),
					zap.String("stage", string(ev.Stage)),
				)
				continue
			}

			if ev.Terminal() {
				return
			}
		}
	}()

	return out, cancel, nil
}
