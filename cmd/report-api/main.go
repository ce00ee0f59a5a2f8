package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltedev/amazon-search-scraper/internal/api"
	"github.com/maltedev/amazon-search-scraper/internal/browser"
	"github.com/maltedev/amazon-search-scraper/internal/config"
	"github.com/maltedev/amazon-search-scraper/internal/database"
	"github.com/maltedev/amazon-search-scraper/internal/events"
	"github.com/maltedev/amazon-search-scraper/internal/jobs"
	"github.com/maltedev/amazon-search-scraper/internal/ratelimit"
	"github.com/maltedev/amazon-search-scraper/internal/scraper"
	"github.com/maltedev/amazon-search-scraper/pkg/logger"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var (
		dbPath         = flag.String("db", cfg.Database.DSN, "SQLite file or postgres:// DSN")
		searches       = flag.Bool("searches", false, "Accept search jobs on /api/v1/searches")
		selectorsFile  = flag.String("selectors", "", "JSON file overriding the default selectors")
		searchInterval = flag.Duration("search-interval", time.Minute, "Minimum interval between accepted search jobs (0 disables throttling)")
	)
	flag.Parse()

	if os.Getenv("LOG_FORMAT") == "" {
		cfg.Logging.Format = "json"
	}
	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Open(ctx, *dbPath)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}

		relay := database.NewRelay(db, redisClient, logger, database.RelayConfig{
			PollInterval: 5 * time.Second,
			BatchSize:    100,
			Source:       "report-api",
		})
		go func() {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay stopped with error", "error", err)
			}
		}()
	}

	metrics := scraper.NewMetrics()

	var queue api.JobQueue
	if *searches {
		selectors, err := config.LoadSelectors(*selectorsFile)
		if err != nil {
			logger.Error("failed to load selectors", "error", err)
			os.Exit(1)
		}

		searcher, err := scraper.NewSearchScraper(
			browser.PlaywrightOpener(browser.OptionsFromConfig(cfg.Browser, cfg.Scraper.UserAgents), cfg.Scraper.UserAgents),
			cfg.Scraper,
			selectors,
			ratelimit.NewRandomDelay(cfg.Scraper.DelayMin, cfg.Scraper.DelayMax),
			logger,
			metrics,
		)
		if err != nil {
			logger.Error("failed to initialize scraper", "error", err)
			os.Exit(1)
		}

		manager := jobs.NewManager(searcher, events.NewPublisher(db, cfg.Redis.Stream, logger), logger, 16)
		go manager.StartWorker(ctx)
		queue = manager
	}

	handlers := api.NewHandlers(db, database.NewOutboxRepository(db), queue, logger)
	if *searches && *searchInterval > 0 {
		handlers.SetSearchLimiter(rate.NewLimiter(rate.Every(*searchInterval), 1))
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handlers, metrics.Registry),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "port", cfg.Server.Port, "db", db.Dialect(), "searches", *searches)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
