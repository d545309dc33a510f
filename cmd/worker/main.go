package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/odddkidout/hyperliquid-tracker/aggregator"
	"github.com/odddkidout/hyperliquid-tracker/api"
	"github.com/odddkidout/hyperliquid-tracker/config"
	"github.com/odddkidout/hyperliquid-tracker/copytrade"
	"github.com/odddkidout/hyperliquid-tracker/storage"
	"github.com/odddkidout/hyperliquid-tracker/syncer"

	"github.com/joho/godotenv"
)

// Headless replication worker. Runs the fill feed and the copy-trade
// replicator without the HTTP API, publishing feed metrics to Redis so the
// API process can serve them.
func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load(os.Getenv("HL_TRACKER_CONFIG"))
	if err != nil {
		log.Fatalf("[worker] failed to load config: %v", err)
	}

	store, err := storage.NewPostgres()
	if err != nil {
		log.Fatalf("[worker] failed to init storage: %v", err)
	}
	defer store.Close()
	log.Println("[worker] PostgreSQL storage initialized")

	exchange := api.NewExchangeClient(
		cfg.CopyTrade.ExchangeURL,
		time.Duration(cfg.CopyTrade.SubmitTimeoutMS)*time.Millisecond,
		cfg.CopyTrade.RetryAttempts,
		time.Duration(cfg.CopyTrade.RetryBackoffMS)*time.Millisecond,
	)
	info := api.NewInfoClient(
		cfg.Feed.InfoURL,
		cfg.Feed.StatsURL,
		time.Duration(cfg.Feed.RequestTimeoutMS)*time.Millisecond,
		cfg.Feed.RequestsPerSecond,
	)

	agg := aggregator.New(cfg.CopyTrade.AggregatorShards)
	manager := copytrade.NewManager(store)
	replicator := copytrade.NewReplicator(
		manager, store, exchange, agg,
		cfg.CopyTrade.MaxWorkers,
		cfg.CopyTrade.FailurePauseCount,
		time.Duration(cfg.CopyTrade.SubmitTimeoutMS)*time.Millisecond,
	)

	feed := syncer.NewFeed(info, agg, replicator, cfg.Feed)
	manager.SetFollowHooks(feed.Follow, feed.Unfollow)
	if err := manager.Load(context.Background()); err != nil {
		log.Fatalf("[worker] failed to restore copy-trade configs: %v", err)
	}
	feed.Start()
	defer feed.Stop()

	metrics := syncer.NewMetricsStore(store.Redis())
	metricsStop := make(chan struct{})
	go publishMetrics(metrics, feed, replicator, metricsStop)

	log.Printf("[worker] Replicating for %d tracked traders", len(manager.TrackedTraders()))
	log.Println("[worker] Worker is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	close(metricsStop)
	log.Println("[worker] Received shutdown signal, stopping gracefully...")
}

func publishMetrics(metrics *syncer.MetricsStore, feed *syncer.Feed, replicator *copytrade.Replicator, stop <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := metrics.SaveFeedMetrics(ctx, feed.Metrics()); err != nil {
				log.Printf("[worker] failed to save feed metrics: %v", err)
			}
			stats := replicator.Stats()
			if err := metrics.SaveReplicationMetrics(ctx, syncer.ReplicationMetrics{
				OrdersExecuted:   stats.Executed,
				OrdersFailed:     stats.Failed,
				OrdersSuppressed: stats.Suppressed,
				AutoPauses:       stats.AutoPauses,
			}); err != nil {
				log.Printf("[worker] failed to save replication metrics: %v", err)
			}
			cancel()
		}
	}
}
