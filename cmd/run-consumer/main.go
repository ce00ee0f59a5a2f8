package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/amazon-search-scraper/internal/config"
	"github.com/maltedev/amazon-search-scraper/internal/events"
	"github.com/maltedev/amazon-search-scraper/pkg/logger"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var (
		group = flag.String("group", "search-run-consumers", "Consumer group name")
		name  = flag.String("name", "consumer-1", "Consumer name within the group")
	)
	flag.Parse()

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	addr := cfg.Redis.Addr
	if addr == "" {
		addr = "localhost:6379"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to Redis", "addr", addr, "error", err)
		os.Exit(1)
	}
	logger.Info("connected to Redis", "addr", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down...")
		cancel()
	}()

	consumer := events.NewConsumer(rdb, func(_ context.Context, p *events.RunCompletedPayload) error {
		logger.Info("search run completed",
			"run_id", p.RunID,
			"query", p.Query,
			"pages", p.PagesScraped,
			"records", p.Records,
			"issues", p.Issues,
			"stop", p.Stop,
			"duration", p.CompletedAt.Sub(p.StartedAt),
		)
		return nil
	}, logger, events.ConsumerConfig{
		Stream: cfg.Redis.Stream,
		Group:  *group,
		Name:   *name,
	})

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
