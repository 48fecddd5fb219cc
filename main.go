package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auction-engine/internal/auction"
	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/broadcast"
	"auction-engine/internal/config"
	"auction-engine/internal/idempotency"
	"auction-engine/internal/metrics"
	"auction-engine/internal/repository"
	"auction-engine/internal/server"
	"auction-engine/utils"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(2)
	}
	if err := utils.SetLevel(cfg.LogLevel); err != nil {
		utils.Warn("main: keeping default log level", map[string]any{"error": err.Error()})
	}

	stats, closeStats := setupMetrics(cfg)
	defer closeStats()

	sinks := setupSinks(cfg)
	hub := broadcast.NewHub(broadcast.Options{
		SubscriberBuffer: cfg.Broadcast.SubscriberBuffer,
		PoolSize:         cfg.Broadcast.PoolSize,
		SinkRetries:      cfg.Broadcast.SinkRetries,
		SinkTimeout:      cfg.Broadcast.SinkTimeout,
		Metrics:          stats,
	}, sinks...)

	repo := repository.NewMemoryRepo()

	biddingSvc := bidding.NewBiddingService(repo, hub,
		bidding.WithConfig(bidding.Config{
			Auction: auction.Config{
				ExtensionWindow: cfg.Bidding.ExtensionWindow,
				ExtensionGrace:  cfg.Bidding.ExtensionGrace,
				ExtensionCap:    cfg.Bidding.ExtensionCap,
				AllowSelfOutbid: cfg.Bidding.AllowSelfOutbid,
				CommandQueue:    cfg.Bidding.CommandQueue,
			},
			SubmitTimeout: cfg.Bidding.SubmitTimeout,
		}),
		bidding.WithDecisionCache(idempotency.New(cfg.Idempotency.CacheMB, cfg.Idempotency.TTL)),
		bidding.WithMetrics(stats),
	)

	if cfg.Seed {
		if err := seedAuctions(context.Background(), biddingSvc, time.Now().UTC()); err != nil {
			utils.Error("main: failed to seed auctions", map[string]any{"error": err.Error()})
		}
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.SetupRouter(biddingSvc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		utils.Info("main: starting auction server", map[string]any{"addr": srv.Addr, "sinks": len(sinks)})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			utils.Fatal("main: server failed", map[string]any{"error": err.Error()})
		}
	case <-ctx.Done():
		utils.Info("main: shutting down", nil)
	}

	// open event streams end only once the hub closes their subscribers
	biddingSvc.Close()
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Error("main: graceful shutdown failed", map[string]any{"error": err.Error()})
	}
}

func setupMetrics(cfg config.Config) (metrics.Service, func()) {
	if cfg.StatsdAddr == "" {
		return metrics.NoOp{}, func() {}
	}
	stats, err := metrics.NewStatsd(cfg.StatsdAddr, "auction", "service", "auction-engine")
	if err != nil {
		utils.Warn("main: statsd unavailable, metrics disabled", map[string]any{"addr": cfg.StatsdAddr, "error": err.Error()})
		return metrics.NoOp{}, func() {}
	}
	return stats, func() {
		if err := stats.Close(); err != nil {
			utils.Warn("main: failed to flush metrics", map[string]any{"error": err.Error()})
		}
	}
}

// setupSinks builds the external event sinks enabled in cfg
func setupSinks(cfg config.Config) []broadcast.Sink {
	if cfg.AMQP.URL == "" && cfg.Redis.Addr == "" {
		return nil
	}

	codec, err := broadcast.NewCodec(cfg.Broadcast.Format)
	if err != nil {
		utils.Fatal("main: invalid broadcast format", map[string]any{"format": cfg.Broadcast.Format, "error": err.Error()})
	}

	var sinks []broadcast.Sink
	if cfg.AMQP.URL != "" {
		sink, err := broadcast.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange, codec)
		if err != nil {
			utils.Fatal("main: failed to connect to RabbitMQ", map[string]any{"exchange": cfg.AMQP.Exchange, "error": err.Error()})
		}
		sinks = append(sinks, sink)
	}
	if cfg.Redis.Addr != "" {
		sinks = append(sinks, broadcast.NewRedisSink(cfg.Redis.Addr, cfg.Redis.ChannelPrefix, codec))
	}
	return sinks
}
