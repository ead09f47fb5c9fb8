// Package resultcache is the shared Redis store for per-job results,
// per-token qualified-wallet snapshots, and batch completion barriers. The
// task-graph dependency mechanism is advisory; this cache is authoritative
// for data.
package resultcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/solrunner/walletrank/internal/metrics"
)

// Key prefixes and TTLs.
const (
	jobResultPrefix  = "job_result:"
	qualifiedPrefix  = "token_qualified:"
	batchTotalPrefix = "batch_total:"
	batchDonePrefix  = "batch_done:"
	abandonedPrefix  = "abandoned:"

	// JobResultTTL bounds how long a job output stays readable.
	JobResultTTL = 24 * time.Hour
	// QualifiedTTL keeps a token's qualified set warm for the duration of a
	// typical cross-token batch, so the same token is never recomputed.
	QualifiedTTL = 6 * time.Hour
	// BarrierTTL outlives any single request.
	BarrierTTL = 24 * time.Hour
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("resultcache: key not found")

// Store is the cache handle. Safe for concurrent use.
type Store struct {
	client redis.UniversalClient
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// New dials Redis with the long-haul connection discipline the aggregators
// need: keep-alive, generous socket timeouts, retry with backoff.
func New(opts Options) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  10 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 250 * time.Millisecond,
		MaxRetryBackoff: 2 * time.Second,

		ConnMaxIdleTime: 5 * time.Minute,
	})
	return &Store{client: client}
}

// NewWithClient wraps an existing client (tests use redismock).
func NewWithClient(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.client.Close() }

// SetJSON marshals value and stores it under key with the given TTL.
func (s *Store) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// GetJSON reads key into out. Returns ErrNotFound on a miss.
func (s *Store) GetJSON(ctx context.Context, key string, out interface{}) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// Delete removes a key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// SaveJobResult persists a job's output under job_result:{jobID}.
func (s *Store) SaveJobResult(ctx context.Context, jobID string, result interface{}) error {
	return s.SetJSON(ctx, jobResultPrefix+jobID, result, JobResultTTL)
}

// GetJobResult reads a job's output into out.
func (s *Store) GetJobResult(ctx context.Context, jobID string, out interface{}) error {
	err := s.GetJSON(ctx, jobResultPrefix+jobID, out)
	switch {
	case err == nil:
		metrics.CountCacheHit("job_result")
	case errors.Is(err, ErrNotFound):
		metrics.CountCacheMiss("job_result")
	}
	return err
}

// SaveQualifiedSnapshot stores a token's qualified-wallet snapshot.
func (s *Store) SaveQualifiedSnapshot(ctx context.Context, tokenAddr string, snap interface{}) error {
	return s.SetJSON(ctx, qualifiedPrefix+tokenAddr, snap, QualifiedTTL)
}

// GetQualifiedSnapshot reads a token's qualified-wallet snapshot into out.
func (s *Store) GetQualifiedSnapshot(ctx context.Context, tokenAddr string, out interface{}) error {
	err := s.GetJSON(ctx, qualifiedPrefix+tokenAddr, out)
	switch {
	case err == nil:
		metrics.CountCacheHit("token_qualified")
	case errors.Is(err, ErrNotFound):
		metrics.CountCacheMiss("token_qualified")
	}
	return err
}

// MarkAbandoned writes the request-abandonment sentinel; coordinators check
// it between fan-in waits.
func (s *Store) MarkAbandoned(ctx context.Context, requestID string) error {
	return s.client.Set(ctx, abandonedPrefix+requestID, "1", BarrierTTL).Err()
}

// IsAbandoned reports whether the request was marked abandoned. Errors read
// as not-abandoned; abandonment is best effort.
func (s *Store) IsAbandoned(ctx context.Context, requestID string) bool {
	n, err := s.client.Exists(ctx, abandonedPrefix+requestID).Result()
	if err != nil {
		log.Debug().Err(err).Str("request", requestID).Msg("abandonment check failed")
		return false
	}
	return n > 0
}

// SAdd adds members to a batch membership set.
func (s *Store) SAdd(ctx context.Context, key string, members ...interface{}) error {
	if err := s.client.SAdd(ctx, key, members...).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, BarrierTTL).Err()
}

// SRem removes members from a batch membership set.
func (s *Store) SRem(ctx context.Context, key string, members ...interface{}) error {
	return s.client.SRem(ctx, key, members...).Err()
}

// SMembers lists a batch membership set.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, key).Result()
}
