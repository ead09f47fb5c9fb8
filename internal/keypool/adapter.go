package keypool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/solrunner/walletrank/internal/metrics"
)

// Sentinel errors surfaced by the adapter.
var (
	// ErrNoActiveKeys means every credential is cooling or burnt.
	ErrNoActiveKeys = errors.New("keypool: no active keys")
	// ErrRetriesExhausted means the retry budget ran out on transient failures.
	ErrRetriesExhausted = errors.New("keypool: retries exhausted")
	// ErrNotFound maps a provider 404 so callers can treat it as "no data".
	ErrNotFound = errors.New("keypool: resource not found")
)

// AdapterConfig tunes the request adapter.
type AdapterConfig struct {
	// RetryBudget is attempts per request against transient failures.
	RetryBudget int
	// SustainedRate paces outbound requests (free-tier credit protection).
	SustainedRate float64
	Burst         int
	// JitterMin/Max add a randomized pause before each request when JitterMax
	// is non-zero; batch callers use 3-6s to stagger provider load.
	JitterMin time.Duration
	JitterMax time.Duration
	// AuthHeader carries the credential, e.g. "X-API-KEY".
	AuthHeader string
	Timeout    time.Duration
}

// DefaultAdapterConfig matches the provider free tier.
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		RetryBudget:   3,
		SustainedRate: 2,
		Burst:         1,
		AuthHeader:    "X-API-KEY",
		Timeout:       30 * time.Second,
	}
}

// Adapter issues HTTP GETs through the key pool: acquire a key, send, then
// classify the response. 429 cools the key and rotates, 401/403 burns it,
// 5xx/timeouts consume the retry budget without penalizing the key.
type Adapter struct {
	pool    *Pool
	client  *http.Client
	cfg     AdapterConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewAdapter wires a pool to an HTTP client with a pacing limiter and a
// circuit breaker around the provider host.
func NewAdapter(pool *Pool, cfg AdapterConfig) *Adapter {
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.SustainedRate <= 0 {
		cfg.SustainedRate = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "provider",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 8
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("provider circuit breaker state change")
		},
	})
	return &Adapter{
		pool:    pool,
		client:  &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.SustainedRate), cfg.Burst),
		breaker: breaker,
	}
}

// Get issues a GET to baseURL+endpoint with params, rotating keys per the
// classification rules, and returns the response body on success.
func (a *Adapter) Get(ctx context.Context, baseURL, endpoint string, params url.Values) ([]byte, error) {
	retries := a.cfg.RetryBudget

	for retries > 0 {
		if err := a.pause(ctx); err != nil {
			return nil, err
		}

		key := a.pool.Next()
		if key == nil {
			return nil, ErrNoActiveKeys
		}

		start := time.Now()
		body, status, err := a.do(ctx, key, baseURL, endpoint, params)
		if err != nil {
			metrics.CountProviderRequest(endpoint, "error", time.Since(start))
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			retries--
			log.Debug().Err(err).Str("endpoint", endpoint).Int("retries_left", retries).
				Msg("provider request transport error")
			continue
		}
		metrics.CountProviderRequest(endpoint, statusClass(status), time.Since(start))

		switch {
		case status >= 200 && status < 300:
			a.pool.MarkSuccess(key)
			return body, nil
		case status == http.StatusTooManyRequests:
			a.pool.MarkRateLimited(key)
			// Rotate within the same attempt; does not consume the budget.
			continue
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			a.pool.MarkFailed(key)
			continue
		case status == http.StatusNotFound:
			return nil, ErrNotFound
		default:
			retries--
			log.Debug().Int("status", status).Str("endpoint", endpoint).
				Int("retries_left", retries).Msg("provider request failed")
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRetriesExhausted, endpoint)
}

// statusClass buckets an HTTP status for the request counter.
func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status == http.StatusTooManyRequests:
		return "429"
	case status == http.StatusNotFound:
		return "404"
	case status >= 400 && status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

func (a *Adapter) pause(ctx context.Context) error {
	if a.cfg.JitterMax > 0 {
		span := a.cfg.JitterMax - a.cfg.JitterMin
		d := a.cfg.JitterMin
		if span > 0 {
			d += time.Duration(rand.Int63n(int64(span)))
		}
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return a.limiter.Wait(ctx)
}

func (a *Adapter) do(ctx context.Context, key *Key, baseURL, endpoint string, params url.Values) ([]byte, int, error) {
	fullURL := baseURL + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	result, err := a.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set(a.cfg.AuthHeader, key.Credential)

		resp, err := a.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return nil, err
		}
		return &httpResult{body: body, status: resp.StatusCode}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	r := result.(*httpResult)
	return r.body, r.status, nil
}

type httpResult struct {
	body   []byte
	status int
}
