package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/amazon-search-scraper/internal/browser"
	"github.com/maltedev/amazon-search-scraper/internal/config"
	"github.com/maltedev/amazon-search-scraper/internal/database"
	"github.com/maltedev/amazon-search-scraper/internal/events"
	"github.com/maltedev/amazon-search-scraper/internal/ratelimit"
	"github.com/maltedev/amazon-search-scraper/internal/scraper"
	"github.com/maltedev/amazon-search-scraper/pkg/logger"
	"github.com/redis/go-redis/v9"
)

type options struct {
	query         string
	pages         int
	dbPath        string
	headless      bool
	replayDir     string
	selectorsFile string
	csvFile       string
	report        bool
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var opts options
	flag.StringVar(&opts.query, "query", "laptop", "Search keyword")
	flag.IntVar(&opts.pages, "pages", 5, "Maximum number of result pages to scrape")
	flag.StringVar(&opts.dbPath, "db", cfg.Database.DSN, "SQLite file or postgres:// DSN")
	flag.BoolVar(&opts.headless, "headless", cfg.Browser.Headless, "Run browser in headless mode")
	flag.StringVar(&opts.replayDir, "replay", "", "Replay saved HTML pages from this directory instead of a browser")
	flag.StringVar(&opts.selectorsFile, "selectors", "", "JSON file overriding the default selectors")
	flag.StringVar(&opts.csvFile, "csv", "", "Output CSV file (optional)")
	flag.BoolVar(&opts.report, "report", false, "Print the stored report after ingest")
	flag.Parse()

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	err = run(ctx, cfg, opts, logger)
	cancel()
	if err != nil {
		logger.Error("search failed", "error", err)
		os.Exit(1)
	}
}

// run performs one search and everything that follows it. Resources it opens
// are released before it returns.
func run(ctx context.Context, cfg *config.Config, opts options, logger *slog.Logger) error {
	if opts.pages < 1 {
		return fmt.Errorf("invalid page limit %d", opts.pages)
	}

	selectors, err := config.LoadSelectors(opts.selectorsFile)
	if err != nil {
		return fmt.Errorf("failed to load selectors: %w", err)
	}

	var (
		opener browser.Opener
		pacer  ratelimit.Pacer
	)
	if opts.replayDir != "" {
		opener = browser.SnapshotOpener(opts.replayDir)
		pacer = ratelimit.NoDelay{}
		logger.Info("replaying snapshots", "dir", opts.replayDir)
	} else {
		browserCfg := cfg.Browser
		browserCfg.Headless = opts.headless
		opener = browser.PlaywrightOpener(browser.OptionsFromConfig(browserCfg, cfg.Scraper.UserAgents), cfg.Scraper.UserAgents)
		pacer = ratelimit.NewRandomDelay(cfg.Scraper.DelayMin, cfg.Scraper.DelayMax)
	}

	metrics := scraper.NewMetrics()
	searcher, err := scraper.NewSearchScraper(opener, cfg.Scraper, selectors, pacer, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize scraper: %w", err)
	}

	db, err := database.Open(ctx, opts.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", opts.dbPath, err)
	}
	defer db.Close()

	logger.Info("starting search", "query", opts.query, "pages", opts.pages, "db", opts.dbPath)

	res, runErr := searcher.Run(ctx, opts.query, opts.pages)
	if runErr != nil {
		logger.Error("search run failed", "error", runErr)
	}

	if res != nil && ctx.Err() == nil {
		publisher := events.NewPublisher(db, cfg.Redis.Stream, logger)
		if err := publisher.RecordRun(ctx, res); err != nil {
			logger.Error("failed to store results", "error", err)
		} else {
			logger.Info("results stored", "records", len(res.Products), "stop", res.Stop)
		}

		if opts.csvFile != "" && len(res.Products) > 0 {
			if err := saveToCSV(res.Products, opts.csvFile); err != nil {
				logger.Error("failed to save CSV", "error", err)
			} else {
				logger.Info("results saved to CSV", "file", opts.csvFile)
			}
		}
	}

	if opts.report {
		if err := printReport(ctx, os.Stdout, db); err != nil {
			logger.Error("failed to print report", "error", err)
		}
	}

	if cfg.Redis.Addr != "" {
		if err := flushOutbox(ctx, db, cfg.Redis, logger); err != nil {
			logger.Error("failed to relay events", "error", err)
		}
	}

	if err := metrics.WriteTextfile(cfg.Metrics.File); err != nil {
		logger.Error("failed to write metrics", "file", cfg.Metrics.File, "error", err)
	}

	return runErr
}

// flushOutbox publishes whatever the outbox holds once; the long-running
// relay lives in report-api.
func flushOutbox(ctx context.Context, db *database.DB, cfg config.RedisConfig, logger *slog.Logger) error {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	relay := database.NewRelay(db, redisClient, logger, database.RelayConfig{Source: "search-cli"})
	stats, err := relay.ProcessPending(ctx)
	if err != nil {
		return err
	}

	logger.Info("events relayed", "published", stats.Published, "failed", stats.Failed, "addr", cfg.Addr)
	return nil
}
