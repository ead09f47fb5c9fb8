package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/solrunner/walletrank/internal/httpapi"
	"github.com/solrunner/walletrank/internal/metrics"
	"github.com/solrunner/walletrank/internal/watchlist"
	wlpg "github.com/solrunner/walletrank/internal/watchlist/postgres"
)

// runServe exposes the HTTP API. Analysis jobs submitted here are drained
// by separate `walletrank worker` processes.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.redis.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.cache.Ping(ctx); err != nil {
		return fmt.Errorf("redis unreachable at %s: %w", cfg.Redis.Addr, err)
	}

	reg := metrics.NewRegistry()
	go publishPoolGauges(ctx, reg, rt)

	var repo watchlist.Repo
	if cfg.Postgres.Enabled {
		db, err := wlpg.Connect(cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		repo = wlpg.NewRepo(db, 5*time.Second)
		log.Info().Msg("watchlist store connected")
	}

	srv := httpapi.NewServer(httpapi.Deps{
		Cfg:       cfg,
		Redis:     rt.cache,
		Pool:      rt.pool,
		Results:   rt.cache,
		Queue:     rt.broker,
		Watchlist: repo,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
	}
	return nil
}

// publishPoolGauges refreshes the key pool metrics every 15s.
func publishPoolGauges(ctx context.Context, reg *metrics.Registry, rt *runtime) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active, cooling, burned := rt.pool.Counts()
			reg.SetPoolCounts(active, cooling, burned)
		}
	}
}
