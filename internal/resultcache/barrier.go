package resultcache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// InitBarrier records how many children a parent job fans out to. Called by
// the coordinator before enqueueing the first child.
func (s *Store) InitBarrier(ctx context.Context, parentID string, total int) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, batchTotalPrefix+parentID, total, BarrierTTL)
	pipe.Set(ctx, batchDonePrefix+parentID, 0, BarrierTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// BarrierDone atomically bumps the done counter and returns its new value.
// The aggregator acts on the transition to done == total.
func (s *Store) BarrierDone(ctx context.Context, parentID string) (int64, error) {
	n, err := s.client.Incr(ctx, batchDonePrefix+parentID).Result()
	if err != nil {
		return 0, err
	}
	// Refresh TTL so a slow batch does not lose its counter mid-flight.
	s.client.Expire(ctx, batchDonePrefix+parentID, BarrierTTL)
	return n, nil
}

// BarrierState reads (done, total). totalKnown is false when the total
// counter is missing, which happens after a store restart; the caller must
// degrade to a bounded poll rather than wait forever.
func (s *Store) BarrierState(ctx context.Context, parentID string) (done, total int64, totalKnown bool, err error) {
	total, err = s.client.Get(ctx, batchTotalPrefix+parentID).Int64()
	switch {
	case err == nil:
		totalKnown = true
	case errors.Is(err, redis.Nil):
		err = nil
	default:
		return 0, 0, false, err
	}

	done, derr := s.client.Get(ctx, batchDonePrefix+parentID).Int64()
	if derr != nil && !errors.Is(derr, redis.Nil) {
		return 0, 0, totalKnown, derr
	}
	return done, total, totalKnown, nil
}

// AwaitBarrier polls until done >= total, the deadline passes, or the
// request is abandoned. When the total is unknown it polls against
// fallbackTotal. Returns the last observed done count and whether the
// barrier completed.
func (s *Store) AwaitBarrier(ctx context.Context, requestID, parentID string, fallbackTotal int64, interval, timeout time.Duration) (int64, bool) {
	deadline := time.Now().Add(timeout)
	for {
		done, total, known, err := s.BarrierState(ctx, parentID)
		if err == nil {
			want := total
			if !known {
				want = fallbackTotal
			}
			if want > 0 && done >= want {
				return done, true
			}
		}
		if time.Now().After(deadline) || s.IsAbandoned(ctx, requestID) {
			return done, false
		}
		select {
		case <-ctx.Done():
			return done, false
		case <-time.After(interval):
		}
	}
}
