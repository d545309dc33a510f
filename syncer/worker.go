// Package syncer feeds the aggregator from the exchange: a periodic
// leaderboard refresh for the tracked universe, and a per-trader fill feed
// (poll or websocket push) for traders with open copy-trade configs.
package syncer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/odddkidout/hyperliquid-tracker/aggregator"
	"github.com/odddkidout/hyperliquid-tracker/api"
	"github.com/odddkidout/hyperliquid-tracker/config"
	"github.com/odddkidout/hyperliquid-tracker/service"
	"github.com/odddkidout/hyperliquid-tracker/storage"
)

// Worker runs the periodic background jobs: leaderboard refresh and account
// snapshot persistence.
type Worker struct {
	info  *api.InfoClient
	agg   *aggregator.Aggregator
	store storage.DataStore
	cfg   *config.Config
	svc   *service.Service

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewWorker builds a new sync worker.
func NewWorker(info *api.InfoClient, agg *aggregator.Aggregator, store storage.DataStore, cfg *config.Config, svc *service.Service) *Worker {
	return &Worker{
		info:  info,
		agg:   agg,
		store: store,
		cfg:   cfg,
		svc:   svc,
		stop:  make(chan struct{}),
	}
}

// Start restores the persisted snapshot and launches background goroutines.
func (w *Worker) Start() {
	if err := w.restoreAccounts(context.Background()); err != nil {
		log.Printf("[sync] account restore failed: %v", err)
	}
	w.startLoop("leaderboard-refresh", time.Duration(w.cfg.Feed.RefreshIntervalMins)*time.Minute, w.refreshLeaderboard)
}

// Stop waits for goroutines to exit.
func (w *Worker) Stop() {
	close(w.stop)
	w.wg.Wait()
}

func (w *Worker) startLoop(name string, interval time.Duration, fn func(context.Context) error) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// Run immediately at startup
		if err := fn(context.Background()); err != nil {
			log.Printf("[sync] %s initial run failed: %v", name, err)
		}

		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval/2)
				if err := fn(ctx); err != nil {
					log.Printf("[sync] %s tick failed: %v", name, err)
				}
				cancel()
			}
		}
	}()
}

// restoreAccounts reloads the last persisted snapshot so leaderboards are
// served immediately after a restart.
func (w *Worker) restoreAccounts(ctx context.Context) error {
	accounts, err := w.store.LoadAccounts(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	for _, acct := range accounts {
		ev := aggregator.StatsEvent{
			Address:      acct.Address,
			DisplayName:  acct.DisplayName,
			AccountValue: acct.AccountValue,
			Stats:        acct.Stats,
		}
		if err := w.agg.Ingest(ev); err != nil {
			log.Printf("[sync] restore skipped %s: %v", acct.Address, err)
		}
	}
	if len(accounts) > 0 {
		log.Printf("[sync] restored %d accounts from snapshot", len(accounts))
	}
	return nil
}

// refreshLeaderboard pulls the exchange's leaderboard snapshot, seeds the
// aggregator with it, and persists the merged universe.
func (w *Worker) refreshLeaderboard(ctx context.Context) error {
	start := time.Now()

	rows, err := w.info.GetLeaderboard(ctx)
	if err != nil {
		return fmt.Errorf("fetch leaderboard: %w", err)
	}
	if len(rows) == 0 {
		log.Println("[sync] leaderboard refresh returned no rows")
		return nil
	}

	seeded := 0
	for _, row := range rows {
		ev := aggregator.StatsEvent{
			Address:      row.Address,
			DisplayName:  row.DisplayName,
			AccountValue: row.AccountValue,
			Stats:        row.Stats,
		}
		if err := w.agg.Ingest(ev); err != nil {
			log.Printf("[sync] leaderboard row %s rejected: %v", row.Address, err)
			continue
		}
		seeded++
	}

	if err := w.store.SaveAccounts(ctx, w.agg.Snapshot()); err != nil {
		return fmt.Errorf("persist accounts: %w", err)
	}
	if w.svc != nil {
		w.svc.InvalidateCaches()
	}

	log.Printf("[sync] refreshed leaderboard with %d accounts in %s", seeded, time.Since(start))
	return nil
}
