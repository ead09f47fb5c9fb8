package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/solrunner/walletrank/internal/metrics"
	"github.com/solrunner/walletrank/internal/taskgraph"
)

// runWorker drains jobs until interrupted. Leaf queues get the bulk of
// the concurrency; one goroutine handles coordinators.
func runWorker(cmd *cobra.Command, args []string) error {
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

	leafWorkers := workerCount
	if leafWorkers < 1 {
		leafWorkers = 1
	}
	log.Info().Int("leaf_workers", leafWorkers).Msg("worker pool starting")

	errCh := make(chan error, leafWorkers+1)
	for i := 0; i < leafWorkers; i++ {
		go func() {
			errCh <- rt.newWorker(taskgraph.QueueHigh, taskgraph.QueueBatch).Run(ctx)
		}()
	}
	go func() {
		errCh <- rt.newWorker(taskgraph.QueueCompute).Run(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, draining workers")
	for i := 0; i < leafWorkers+1; i++ {
		<-errCh
	}
	return nil
}
