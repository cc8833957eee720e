package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisQueue implements Queue on Redis. Structure per queue name:
//
//	docpipe:<name>:pending     list, immediately deliverable (LPUSH/BRPOP)
//	docpipe:<name>:processing  zset of in-flight messages, score = visibility deadline
//	docpipe:<name>:delayed     zset of backoff messages, score = ready time
//	docpipe:<name>:dead_letter list of poison messages held for inspection
//
// Dequeue moves a message from pending into processing under a visibility
// deadline; Ack removes it; Redeliver sweeps expired and due entries back
// onto pending.
type RedisQueue struct {
	client *redis.Client
	name   string
	opts   Options
	logger *zap.Logger
}

// NewRedisQueue creates a Redis-backed stage queue with the given name.
func NewRedisQueue(client *redis.Client, name string, opts Options, logger *zap.Logger) *RedisQueue {
	return &RedisQueue{
		client: client,
		name:   name,
		opts:   opts,
		logger: logger,
	}
}

func (q *RedisQueue) pendingKey() string    { return "docpipe:" + q.name + ":pending" }
func (q *RedisQueue) processingKey() string { return "docpipe:" + q.name + ":processing" }
func (q *RedisQueue) delayedKey() string    { return "docpipe:" + q.name + ":delayed" }
func (q *RedisQueue) deadLetterKey() string { return "docpipe:" + q.name + ":dead_letter" }

// Enqueue pushes a fresh message for the job onto the pending list.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	data, err := json.Marshal(Message{
		ID:         uuid.New(),
		JobID:      jobID,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := q.client.LPush(ctx, q.pendingKey(), data).Err(); err != nil {
		return fmt.Errorf("lpush message: %w", err)
	}
	return nil
}

// EnqueueAfter schedules a message onto the delayed set; Redeliver promotes
// it once the delay elapses.
func (q *RedisQueue) EnqueueAfter(ctx context.Context, jobID uuid.UUID, delay time.Duration) error {
	data, err := json.Marshal(Message{
		ID:         uuid.New(),
		JobID:      jobID,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ready := float64(time.Now().Add(delay).UnixMilli())
	if err := q.client.ZAdd(ctx, q.delayedKey(), redis.Z{Score: ready, Member: data}).Err(); err != nil {
		return fmt.Errorf("zadd delayed: %w", err)
	}
	return nil
}

// Dequeue blocks on the pending list up to the poll interval. The returned
// delivery carries an incremented delivery count; if the count crosses the
// hard ceiling the message goes straight to the dead letter list instead of
// the processing set.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	result, err := q.client.BRPop(ctx, q.opts.PollInterval, q.pendingKey()).Result()
	if err != nil {
		if err == redis.Nil || ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("brpop: %w", err)
	}
	if len(result) < 2 {
		return nil, nil
	}

	var msg Message
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		q.logger.Error("dropping undecodable message",
			zap.String("queue", q.name),
			zap.Error(err),
		)
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}

	msg.DeliveryCount++
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	if msg.DeliveryCount > q.opts.DeliveryCeiling {
		// Operational alarm: job-level retry accounting should have stopped
		// this message long before the queue ceiling.
		q.logger.Error("message exceeded delivery ceiling, dead-lettering",
			zap.String("queue", q.name),
			zap.String("job_id", msg.JobID.String()),
			zap.Int("delivery_count", msg.DeliveryCount),
		)
		if err := q.client.LPush(ctx, q.deadLetterKey(), data).Err(); err != nil {
			return nil, fmt.Errorf("lpush dead letter: %w", err)
		}
		return &Delivery{Message: msg, Poisoned: true}, nil
	}

	deadline := float64(time.Now().Add(q.opts.VisibilityTimeout).UnixMilli())
	if err := q.client.ZAdd(ctx, q.processingKey(), redis.Z{Score: deadline, Member: data}).Err(); err != nil {
		return nil, fmt.Errorf("zadd processing: %w", err)
	}

	return &Delivery{Message: msg, token: string(data)}, nil
}

// Ack removes the delivery's in-flight entry so it is never redelivered.
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	if d.token == "" {
		return nil
	}
	if err := q.client.ZRem(ctx, q.processingKey(), d.token).Err(); err != nil {
		return fmt.Errorf("zrem processing: %w", err)
	}
	return nil
}

// Redeliver promotes due delayed messages and sweeps expired in-flight
// messages back onto the pending list.
func (q *RedisQueue) Redeliver(ctx context.Context) (int, error) {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	moved := 0

	for _, key := range []string{q.delayedKey(), q.processingKey()} {
		members, err := q.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
			Min: "-inf",
			Max: now,
		}).Result()
		if err != nil {
			return moved, fmt.Errorf("zrangebyscore %s: %w", key, err)
		}

		for _, m := range members {
			// ZREM first so two sweepers cannot both requeue the same entry.
			removed, err := q.client.ZRem(ctx, key, m).Result()
			if err != nil {
				return moved, fmt.Errorf("zrem %s: %w", key, err)
			}
			if removed == 0 {
				continue
			}
			if err := q.client.LPush(ctx, q.pendingKey(), m).Err(); err != nil {
				return moved, fmt.Errorf("lpush pending: %w", err)
			}
			moved++
		}
	}

	return moved, nil
}

// Depth returns the number of immediately deliverable messages.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.pendingKey()).Result()
}

// DeadLetterDepth returns the number of dead-lettered messages.
func (q *RedisQueue) DeadLetterDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.deadLetterKey()).Result()
}
