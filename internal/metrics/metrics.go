package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all Prometheus metrics for walletrank.
type Registry struct {
	// Provider request metrics.
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec

	// API key pool state.
	PoolKeys *prometheus.GaugeVec

	// Job execution metrics.
	JobDuration *prometheus.HistogramVec
	JobOutcomes *prometheus.CounterVec
	QueueDepth  *prometheus.GaugeVec

	// Result cache metrics.
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Analysis metrics.
	TokensAnalyzed   prometheus.Counter
	RalliesDetected  prometheus.Counter
	WalletsQualified prometheus.Counter
}

// std is the process-wide registry. Instrumented packages record through
// the package-level helpers, which no-op until NewRegistry runs.
var std *Registry

// NewRegistry creates and registers all walletrank metrics. Call once per
// process, before starting workers or servers.
func NewRegistry() *Registry {
	r := &Registry{
		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletrank_provider_requests_total",
				Help: "Total provider requests by endpoint and status class",
			},
			[]string{"endpoint", "status"},
		),

		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "walletrank_provider_latency_seconds",
				Help:    "Provider request latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		PoolKeys: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "walletrank_pool_keys",
				Help: "API keys in the pool by state (active, cooling, burned)",
			},
			[]string{"state"},
		),

		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "walletrank_job_duration_seconds",
				Help:    "Job execution duration in seconds by queue and function",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"queue", "func"},
		),

		JobOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletrank_job_outcomes_total",
				Help: "Terminal job outcomes by queue and status",
			},
			[]string{"queue", "status"},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "walletrank_queue_depth",
				Help: "Pending jobs per queue",
			},
			[]string{"queue"},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletrank_cache_hits_total",
				Help: "Result cache hits by entry type",
			},
			[]string{"entry_type"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletrank_cache_misses_total",
				Help: "Result cache misses by entry type",
			},
			[]string{"entry_type"},
		),

		TokensAnalyzed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "walletrank_tokens_analyzed_total",
				Help: "Total tokens run through the analysis pipeline",
			},
		),

		RalliesDetected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "walletrank_rallies_detected_total",
				Help: "Total validated rallies detected",
			},
		),

		WalletsQualified: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "walletrank_wallets_qualified_total",
				Help: "Total wallets passing qualification",
			},
		),
	}

	prometheus.MustRegister(
		r.ProviderRequests,
		r.ProviderLatency,
		r.PoolKeys,
		r.JobDuration,
		r.JobOutcomes,
		r.QueueDepth,
		r.CacheHits,
		r.CacheMisses,
		r.TokensAnalyzed,
		r.RalliesDetected,
		r.WalletsQualified,
	)

	std = r
	return r
}

// ObserveJob records one terminal job: duration plus outcome.
func ObserveJob(queue, fn string, d time.Duration, status string) {
	if std == nil {
		return
	}
	std.JobDuration.WithLabelValues(queue, fn).Observe(d.Seconds())
	std.JobOutcomes.WithLabelValues(queue, status).Inc()
}

// CountProviderRequest records one provider call by status class
// ("2xx", "429", "5xx") with its latency.
func CountProviderRequest(endpoint, status string, latency time.Duration) {
	if std == nil {
		return
	}
	std.ProviderRequests.WithLabelValues(endpoint, status).Inc()
	std.ProviderLatency.WithLabelValues(endpoint).Observe(latency.Seconds())
}

// CountCacheHit records a hit for the given entry type.
func CountCacheHit(entryType string) {
	if std == nil {
		return
	}
	std.CacheHits.WithLabelValues(entryType).Inc()
}

// CountCacheMiss records a miss for the given entry type.
func CountCacheMiss(entryType string) {
	if std == nil {
		return
	}
	std.CacheMisses.WithLabelValues(entryType).Inc()
}

// CountTokenAnalyzed records one token run through the pipeline along with
// the rallies it produced and the wallets that qualified.
func CountTokenAnalyzed(rallies, qualified int) {
	if std == nil {
		return
	}
	std.TokensAnalyzed.Inc()
	std.RalliesDetected.Add(float64(rallies))
	std.WalletsQualified.Add(float64(qualified))
}

// SetPoolCounts publishes the key pool state.
func (r *Registry) SetPoolCounts(active, cooling, burned int) {
	r.PoolKeys.WithLabelValues("active").Set(float64(active))
	r.PoolKeys.WithLabelValues("cooling").Set(float64(cooling))
	r.PoolKeys.WithLabelValues("burned").Set(float64(burned))
}
