package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/solrunner/walletrank/internal/metrics"
	"github.com/solrunner/walletrank/internal/pipeline"
	"github.com/solrunner/walletrank/internal/taskgraph"
)

// runAnalyze runs a full request in-process: local workers drain the
// queues while the request coordinator runs in the foreground.
func runAnalyze(cmd *cobra.Command, args []string) error {
	tokens, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	cfg, rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.redis.Close()
	metrics.NewRegistry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.cache.Ping(ctx); err != nil {
		return fmt.Errorf("redis unreachable at %s: %w", cfg.Redis.Addr, err)
	}

	// Leaf workers first, one compute worker for the per-token
	// coordinators. The request itself runs here, not on a queue.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	for i := 0; i < 3; i++ {
		go rt.newWorker(taskgraph.QueueHigh, taskgraph.QueueBatch).Run(workerCtx)
	}
	go rt.newWorker(taskgraph.QueueCompute).Run(workerCtx)

	req := &pipeline.AnalysisRequest{
		Tokens: tokens,
		Options: pipeline.Options{
			MinROIMultiplier: minROI,
			MinRunnerHits:    runnerHits,
			AnalysisDays:     windowDays,
		},
	}
	if req.Options.MinROIMultiplier == 0 {
		req.Options.MinROIMultiplier = cfg.Analysis.MinROIMultiplier
	}
	if req.Options.MinRunnerHits == 0 {
		req.Options.MinRunnerHits = cfg.Analysis.MinRunnerHits
	}
	if req.Options.AnalysisDays == 0 {
		req.Options.AnalysisDays = cfg.Analysis.AnalysisDays
	}

	log.Info().Int("tokens", len(tokens)).Float64("min_roi", req.Options.MinROIMultiplier).
		Msg("starting analysis")

	result := rt.analyzer.AnalyzeRequest(ctx, req)

	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if outputPath != "" {
		if err := os.WriteFile(outputPath, raw, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", outputPath, err)
		}
		log.Info().Str("path", outputPath).Msg("result written")
		return nil
	}
	fmt.Println(string(raw))
	return nil
}

// parseTokenArgs turns ADDRESS:TICKER args into token inputs.
func parseTokenArgs(args []string) ([]pipeline.TokenInput, error) {
	tokens := make([]pipeline.TokenInput, 0, len(args))
	for _, arg := range args {
		parts := strings.SplitN(arg, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid token %q, expected ADDRESS:TICKER", arg)
		}
		tokens = append(tokens, pipeline.TokenInput{
			Address: parts[0],
			Ticker:  strings.ToUpper(parts[1]),
			Chain:   "solana",
		})
	}
	return tokens, nil
}
