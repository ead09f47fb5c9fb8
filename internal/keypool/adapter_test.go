package keypool

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAdapter(pool *Pool) *Adapter {
	cfg := DefaultAdapterConfig()
	cfg.SustainedRate = 1000 // no pacing in tests
	cfg.Burst = 100
	cfg.Timeout = 2 * time.Second
	return NewAdapter(pool, cfg)
}

func TestAdapter_SuccessMarksKey(t *testing.T) {
	var gotKey atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey.Store(r.Header.Get("X-API-KEY"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	pool := NewPool([]string{"cred-0001"})
	a := testAdapter(pool)

	body, err := a.Get(context.Background(), srv.URL, "/defi/ohlcv", url.Values{"address": {"So11"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, "cred-0001", gotKey.Load())
	assert.Equal(t, int64(1), pool.keys[0].SuccessCount)
}

func TestAdapter_RotatesOnRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") == "limited-key" {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	pool := NewPool([]string{"limited-key", "good-key-22"})
	a := testAdapter(pool)

	_, err := a.Get(context.Background(), srv.URL, "/x", nil)
	require.NoError(t, err)

	_, cooling, _ := pool.Counts()
	assert.Equal(t, 1, cooling)
}

func TestAdapter_BurnsKeyOnForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") == "revoked-key" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	pool := NewPool([]string{"revoked-key", "good-key-22"})
	a := testAdapter(pool)

	_, err := a.Get(context.Background(), srv.URL, "/x", nil)
	require.NoError(t, err)

	_, _, failed := pool.Counts()
	assert.Equal(t, 1, failed)
}

func TestAdapter_NoActiveKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	pool := NewPool([]string{"only-key-01"})
	a := testAdapter(pool)

	_, err := a.Get(context.Background(), srv.URL, "/x", nil)
	assert.ErrorIs(t, err, ErrNoActiveKeys)
}

func TestAdapter_RetriesExhaustedOn5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	pool := NewPool([]string{"some-key-01"})
	a := testAdapter(pool)

	_, err := a.Get(context.Background(), srv.URL, "/x", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	// 5xx must not penalize the key.
	active, _, _ := pool.Counts()
	assert.Equal(t, 1, active)
}

func TestAdapter_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	pool := NewPool([]string{"some-key-01"})
	a := testAdapter(pool)

	_, err := a.Get(context.Background(), srv.URL, "/missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdapter_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	pool := NewPool([]string{"some-key-01"})
	a := testAdapter(pool)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := a.Get(ctx, srv.URL, "/slow", nil)
	assert.Error(t, err)
}
