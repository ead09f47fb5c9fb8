package resultcache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Wallet string  `json:"wallet"`
	Score  float64 `json:"score"`
}

func TestStore_SaveAndGetJobResult(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewWithClient(client)
	ctx := context.Background()

	in := sample{Wallet: "W1", Score: 87.5}
	raw, _ := json.Marshal(in)

	mock.ExpectSet("job_result:abc", raw, JobResultTTL).SetVal("OK")
	require.NoError(t, s.SaveJobResult(ctx, "abc", in))

	mock.ExpectGet("job_result:abc").SetVal(string(raw))
	var out sample
	require.NoError(t, s.GetJobResult(ctx, "abc", &out))
	assert.Equal(t, in, out)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetJSONMiss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewWithClient(client)

	mock.ExpectGet("job_result:missing").RedisNil()
	var out sample
	err := s.GetJobResult(context.Background(), "missing", &out)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_QualifiedSnapshotKeying(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewWithClient(client)

	snap := map[string]int{"wallet_count": 3}
	raw, _ := json.Marshal(snap)
	mock.ExpectSet("token_qualified:MINT", raw, QualifiedTTL).SetVal("OK")
	require.NoError(t, s.SaveQualifiedSnapshot(context.Background(), "MINT", snap))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBarrier_DoneIncrement(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewWithClient(client)
	ctx := context.Background()

	mock.ExpectIncr("batch_done:parent1").SetVal(3)
	mock.ExpectExpire("batch_done:parent1", BarrierTTL).SetVal(true)

	n, err := s.BarrierDone(ctx, "parent1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestBarrier_StateMissingTotal(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewWithClient(client)

	// Store restart wiped batch_total; done survives.
	mock.ExpectGet("batch_total:p").RedisNil()
	mock.ExpectGet("batch_done:p").SetVal("4")

	done, total, known, err := s.BarrierState(context.Background(), "p")
	require.NoError(t, err)
	assert.False(t, known)
	assert.Equal(t, int64(0), total)
	assert.Equal(t, int64(4), done)
}

func TestAwaitBarrier_FallbackTotalCompletes(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewWithClient(client)

	mock.ExpectGet("batch_total:p").RedisNil()
	mock.ExpectGet("batch_done:p").SetVal("5")

	done, ok := s.AwaitBarrier(context.Background(), "req", "p", 5, 10*time.Millisecond, time.Second)
	assert.True(t, ok)
	assert.Equal(t, int64(5), done)
}

func TestAwaitBarrier_TimesOutBounded(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewWithClient(client)

	// The poll is bounded even when the barrier never fills.
	for i := 0; i < 50; i++ {
		mock.ExpectGet("batch_total:p").SetVal("10")
		mock.ExpectGet("batch_done:p").SetVal("4")
		mock.ExpectExists("abandoned:req").SetVal(0)
	}

	start := time.Now()
	done, ok := s.AwaitBarrier(context.Background(), "req", "p", 0, 20*time.Millisecond, 100*time.Millisecond)
	assert.False(t, ok)
	assert.Equal(t, int64(4), done)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStore_AbandonedSentinel(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewWithClient(client)
	ctx := context.Background()

	mock.ExpectSet("abandoned:req9", "1", BarrierTTL).SetVal("OK")
	require.NoError(t, s.MarkAbandoned(ctx, "req9"))

	mock.ExpectExists("abandoned:req9").SetVal(1)
	assert.True(t, s.IsAbandoned(ctx, "req9"))
}
