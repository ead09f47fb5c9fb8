package taskgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrJobNotFound is returned when a job record is missing or expired.
var ErrJobNotFound = errors.New("taskgraph: job not found")

// Broker moves jobs between queues and persists their records. The worker
// only speaks this interface; RedisBroker is the production implementation.
type Broker interface {
	// Push saves the job record and appends its ID to its queue.
	Push(ctx context.Context, job *Job) error
	// PushDelayed schedules the job to enter its queue after delay.
	PushDelayed(ctx context.Context, job *Job, delay time.Duration) error
	// Pop blocks up to wait for a job across queues in priority order.
	// Returns (nil, nil) on timeout.
	Pop(ctx context.Context, queues []QueueName, wait time.Duration) (*Job, error)
	// Update rewrites the job record.
	Update(ctx context.Context, job *Job) error
	// Load reads a job record by ID.
	Load(ctx context.Context, id string) (*Job, error)
	// PromoteDelayed moves due delayed jobs onto their queues.
	PromoteDelayed(ctx context.Context) error
}

const (
	queueKeyPrefix = "queue:"
	jobKeyPrefix   = "job:"
	delayedKey     = "queue_delayed"

	// jobRecordTTL matches the result TTL so records outlive any retry arc.
	jobRecordTTL = 24 * time.Hour
)

// RedisBroker is the Redis-list implementation of Broker.
type RedisBroker struct {
	client redis.UniversalClient
}

// NewRedisBroker wraps a Redis client.
func NewRedisBroker(client redis.UniversalClient) *RedisBroker {
	return &RedisBroker{client: client}
}

func queueKey(q QueueName) string { return queueKeyPrefix + string(q) }

func (b *RedisBroker) saveJob(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	return b.client.Set(ctx, jobKeyPrefix+job.ID, raw, jobRecordTTL).Err()
}

// Push implements Broker.
func (b *RedisBroker) Push(ctx context.Context, job *Job) error {
	job.Status = StatusQueued
	if err := b.saveJob(ctx, job); err != nil {
		return err
	}
	return b.client.LPush(ctx, queueKey(job.Queue), job.ID).Err()
}

// PushDelayed implements Broker.
func (b *RedisBroker) PushDelayed(ctx context.Context, job *Job, delay time.Duration) error {
	job.Status = StatusDeferred
	if err := b.saveJob(ctx, job); err != nil {
		return err
	}
	readyAt := float64(time.Now().Add(delay).Unix())
	return b.client.ZAdd(ctx, delayedKey, redis.Z{Score: readyAt, Member: job.ID}).Err()
}

// Pop implements Broker. BRPOP's key order gives queue priority.
func (b *RedisBroker) Pop(ctx context.Context, queues []QueueName, wait time.Duration) (*Job, error) {
	keys := make([]string, len(queues))
	for i, q := range queues {
		keys[i] = queueKey(q)
	}
	res, err := b.client.BRPop(ctx, wait, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// res is [key, jobID].
	return b.Load(ctx, res[1])
}

// Update implements Broker.
func (b *RedisBroker) Update(ctx context.Context, job *Job) error {
	return b.saveJob(ctx, job)
}

// Load implements Broker.
func (b *RedisBroker) Load(ctx context.Context, id string) (*Job, error) {
	raw, err := b.client.Get(ctx, jobKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

// PromoteDelayed implements Broker: due members of the delayed zset are
// moved back onto their queues.
func (b *RedisBroker) PromoteDelayed(ctx context.Context) error {
	now := fmt.Sprintf("%d", time.Now().Unix())
	ids, err := b.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf", Max: now,
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		job, err := b.Load(ctx, id)
		if err != nil {
			// Record expired; drop the orphan member.
			b.client.ZRem(ctx, delayedKey, id)
			continue
		}
		if removed, err := b.client.ZRem(ctx, delayedKey, id).Result(); err != nil || removed == 0 {
			// Another worker promoted it first.
			continue
		}
		if err := b.Push(ctx, job); err != nil {
			return err
		}
	}
	return nil
}
