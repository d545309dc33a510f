package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/odddkidout/hyperliquid-tracker/aggregator"
	"github.com/odddkidout/hyperliquid-tracker/api"
	"github.com/odddkidout/hyperliquid-tracker/config"
	"github.com/odddkidout/hyperliquid-tracker/copytrade"
	"github.com/odddkidout/hyperliquid-tracker/handlers"
	"github.com/odddkidout/hyperliquid-tracker/middleware"
	"github.com/odddkidout/hyperliquid-tracker/service"
	"github.com/odddkidout/hyperliquid-tracker/storage"
	"github.com/odddkidout/hyperliquid-tracker/syncer"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	cfgPath := os.Getenv("HL_TRACKER_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var store storage.DataStore
	if cfg.Data.UsePostgres {
		pg, err := storage.NewPostgres()
		if err != nil {
			log.Fatalf("failed to init postgres storage: %v", err)
		}
		store = pg
	} else {
		sqlite, err := storage.New(cfg.Data.DBPath)
		if err != nil {
			log.Fatalf("failed to init storage: %v", err)
		}
		store = sqlite
	}
	defer store.Close()

	info := api.NewInfoClient(
		cfg.Feed.InfoURL,
		cfg.Feed.StatsURL,
		time.Duration(cfg.Feed.RequestTimeoutMS)*time.Millisecond,
		cfg.Feed.RequestsPerSecond,
	)
	exchange := api.NewExchangeClient(
		cfg.CopyTrade.ExchangeURL,
		time.Duration(cfg.CopyTrade.SubmitTimeoutMS)*time.Millisecond,
		cfg.CopyTrade.RetryAttempts,
		time.Duration(cfg.CopyTrade.RetryBackoffMS)*time.Millisecond,
	)

	agg := aggregator.New(cfg.CopyTrade.AggregatorShards)
	svc := service.NewService(agg, info, cfg)

	manager := copytrade.NewManager(store)
	replicator := copytrade.NewReplicator(
		manager, store, exchange, agg,
		cfg.CopyTrade.MaxWorkers,
		cfg.CopyTrade.FailurePauseCount,
		time.Duration(cfg.CopyTrade.SubmitTimeoutMS)*time.Millisecond,
	)
	portfolio := copytrade.NewPortfolio(store)

	feed := syncer.NewFeed(info, agg, replicator, cfg.Feed)
	manager.SetFollowHooks(feed.Follow, feed.Unfollow)
	if err := manager.Load(context.Background()); err != nil {
		log.Fatalf("failed to restore copy-trade configs: %v", err)
	}
	feed.Start()
	defer feed.Stop()

	worker := syncer.NewWorker(info, agg, store, cfg, svc)
	worker.Start()
	defer worker.Stop()

	// Set up router
	r := gin.Default()
	r.Use(middleware.BasicAuth())

	h := handlers.NewHandler(cfg, svc, manager, portfolio)
	h.Register(r)

	// Get port from environment or use default
	port := os.Getenv("PORT")
	if port == "" {
		port = strconv.Itoa(cfg.Server.Port)
	}

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutMS) * time.Millisecond,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("[main] Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutMS)*time.Millisecond)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[main] Forced shutdown: %v", err)
	}
}
