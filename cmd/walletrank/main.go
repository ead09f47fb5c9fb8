package main

import (
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/solrunner/walletrank/internal/config"
	"github.com/solrunner/walletrank/internal/keypool"
	"github.com/solrunner/walletrank/internal/market"
	"github.com/solrunner/walletrank/internal/pipeline"
	"github.com/solrunner/walletrank/internal/rally"
	"github.com/solrunner/walletrank/internal/resultcache"
	"github.com/solrunner/walletrank/internal/taskgraph"
)

const (
	appName = "walletrank"
	version = "v1.2.0"
)

var (
	configPath  string
	outputPath  string
	minROI      float64
	runnerHits  int
	windowDays  int
	workerCount int
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Rank Solana wallets that enter before price rallies",
		Version: version,
		Long: `walletrank analyzes target tokens for detected price rallies and ranks
the wallets that entered before them. It discovers candidates from top
traders, first buyers, recent trades and top holders, qualifies them by
realized profit, and scores entry timing against the all-time high.`,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to walletrank.yaml")

	analyzeCmd := &cobra.Command{
		Use:   "analyze TOKEN:TICKER [TOKEN:TICKER...]",
		Short: "Analyze tokens and print the wallet ranking",
		Long: `Run a full analysis in-process: spin local workers against the broker,
submit the request, and print the result envelope as JSON.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAnalyze,
	}
	analyzeCmd.Flags().Float64Var(&minROI, "min-roi", 0, "minimum ROI multiplier for PnL qualification")
	analyzeCmd.Flags().IntVar(&runnerHits, "min-runner-hits", 0, "tokens a wallet must hit to count as cross-token")
	analyzeCmd.Flags().IntVar(&windowDays, "days", 0, "analysis window in days (1-90)")
	analyzeCmd.Flags().StringVarP(&outputPath, "out", "o", "", "write the result JSON to a file instead of stdout")

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a job worker against the broker",
		Long:  "Consume analysis jobs from Redis until interrupted.",
		RunE:  runWorker,
	}
	workerCmd.Flags().IntVar(&workerCount, "concurrency", 3, "worker goroutines")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long:  "Expose /analyze, /results, /watchlist, /health and /metrics.",
		RunE:  runServe,
	}

	rootCmd.AddCommand(analyzeCmd, workerCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadRuntime builds the shared backends every command needs.
func loadRuntime() (*config.Config, *runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	setupLogging(cfg.LogFormat)

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pool := keypool.NewPool(cfg.Provider.APIKeys)
	if cfg.Provider.Cooldown > 0 {
		pool.SetCooldown(cfg.Provider.Cooldown)
	}
	adapterCfg := keypool.DefaultAdapterConfig()
	if cfg.Provider.RetryBudget > 0 {
		adapterCfg.RetryBudget = cfg.Provider.RetryBudget
	}
	if cfg.Provider.SustainedRate > 0 {
		adapterCfg.SustainedRate = cfg.Provider.SustainedRate
	}
	if cfg.Provider.JitterMax > 0 {
		adapterCfg.JitterMin = cfg.Provider.JitterMin
		adapterCfg.JitterMax = cfg.Provider.JitterMax
	}
	adapter := keypool.NewAdapter(pool, adapterCfg)

	cache := resultcache.NewWithClient(client)
	broker := taskgraph.NewRedisBroker(client)
	api := market.NewClient(cfg.Provider.BaseURL, adapter)
	analyzer := pipeline.NewAnalyzer(api, cache, broker, rally.NewDetector(rally.DefaultConfig()))

	return cfg, &runtime{
		redis:    client,
		pool:     pool,
		cache:    cache,
		broker:   broker,
		analyzer: analyzer,
	}, nil
}

type runtime struct {
	redis    *redis.Client
	pool     *keypool.Pool
	cache    *resultcache.Store
	broker   *taskgraph.RedisBroker
	analyzer *pipeline.Analyzer
}

// newWorker builds a worker for the given queues with every pipeline
// handler registered. Coordinators block on barriers, so compute workers
// must never be the only ones draining the leaf queues.
func (r *runtime) newWorker(queues ...taskgraph.QueueName) *taskgraph.Worker {
	w := taskgraph.NewWorker(r.broker, r.cache, queues)
	r.analyzer.RegisterHandlers(w)
	return w
}

func setupLogging(format string) {
	zerolog.TimeFieldFormat = time.RFC3339
	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
