package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/amazon-search-scraper/internal/browser"
	"github.com/maltedev/amazon-search-scraper/internal/config"
	"github.com/maltedev/amazon-search-scraper/internal/extract"
	"github.com/maltedev/amazon-search-scraper/internal/models"
	"github.com/maltedev/amazon-search-scraper/internal/ratelimit"
)

var _ Searcher = (*SearchScraper)(nil)

// SearchScraper submits a keyword on the site's landing page and collects
// the product records of the resulting pages. Each run opens its own
// browser session and always closes it.
type SearchScraper struct {
	open      browser.Opener
	cfg       config.ScraperConfig
	selectors config.Selectors
	assembler *Assembler
	pacer     ratelimit.Pacer
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time
}

func NewSearchScraper(open browser.Opener, cfg config.ScraperConfig, selectors config.Selectors,
	pacer ratelimit.Pacer, logger *slog.Logger, metrics *Metrics) (*SearchScraper, error) {
	if err := selectors.Validate(); err != nil {
		return nil, err
	}

	extractor, err := extract.New(selectors, cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	if pacer == nil {
		pacer = ratelimit.NoDelay{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &SearchScraper{
		open:      open,
		cfg:       cfg,
		selectors: selectors,
		assembler: NewAssembler(extractor, logger),
		pacer:     pacer,
		logger:    logger.With("component", "search_scraper"),
		metrics:   metrics,
		now:       time.Now,
	}, nil
}

// SearchByKeyword returns the records of a run, or none if the run failed.
func (s *SearchScraper) SearchByKeyword(ctx context.Context, query string, pages int) []models.Product {
	res, err := s.Run(ctx, query, pages)
	if err != nil {
		return []models.Product{}
	}
	return res.Products
}

// Run performs one search. A failure to open the session, reach the landing
// page or submit the keyword fails the whole run: the returned result then
// carries no products, only the issue, and the error is non-nil. Failures on
// single pages or cards only degrade the result.
func (s *SearchScraper) Run(ctx context.Context, query string, pages int) (*models.RunResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", ErrInvalidRequest)
	}
	if pages < 1 {
		return nil, fmt.Errorf("%w: pages must be at least 1, got %d", ErrInvalidRequest, pages)
	}

	res := &models.RunResult{
		ID:        uuid.NewString(),
		Query:     query,
		Products:  []models.Product{},
		StartedAt: s.now(),
	}
	logger := s.logger.With("run_id", res.ID, "query", query)
	logger.Info("starting search run", "pages", pages)

	err := s.run(ctx, res, pages, logger)

	res.CompletedAt = s.now()
	s.metrics.ObserveRun(res.Stop, res.CompletedAt.Sub(res.StartedAt))

	if err != nil {
		logger.Error("search run failed", "error", err)
		res.Products = []models.Product{}
		return res, err
	}

	s.metrics.AddRecords(len(res.Products))
	logger.Info("search run completed",
		"pages", len(res.Pages),
		"products", len(res.Products),
		"issues", res.IssueCount(),
		"stop", res.Stop,
	)
	return res, nil
}

func (s *SearchScraper) run(ctx context.Context, res *models.RunResult, pages int, logger *slog.Logger) error {
	session, err := s.open(ctx)
	if err != nil {
		return s.fail(res, StageSession, fmt.Errorf("%w: %w", ErrSession, err))
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("failed to close browser session", "error", err)
		}
	}()

	if err := s.submit(ctx, session, res.Query); err != nil {
		return s.fail(res, StageSubmit, err)
	}

	paginator := NewPaginator(session, s.cfg, s.selectors, s.assembler, s.pacer, logger, s.metrics)
	res.Pages, res.Stop = paginator.Walk(ctx, pages)

	if res.Stop == models.StopCancelled {
		return fmt.Errorf("search run interrupted: %w", ctx.Err())
	}

	res.Products = s.dedupe(res, logger)
	return nil
}

// submit opens the landing page and searches for query.
func (s *SearchScraper) submit(ctx context.Context, session browser.Session, query string) error {
	if err := session.Navigate(ctx, s.cfg.BaseURL); err != nil {
		return fmt.Errorf("%w: failed to open %s: %w", ErrNavigation, s.cfg.BaseURL, err)
	}
	if err := s.pacer.Pause(ctx); err != nil {
		return err
	}

	input, err := session.WaitFor(ctx, group(s.selectors.Get(config.FieldSearchInput)), browser.Present, s.cfg.WaitTimeout)
	if err != nil {
		if blocked(session, s.selectors) {
			err = fmt.Errorf("%w: %w", ErrBlocked, err)
		}
		return fmt.Errorf("%w: search input: %w", ErrKeywordSubmit, err)
	}
	if err := input.Fill(query); err != nil {
		return fmt.Errorf("%w: failed to fill search input: %w", ErrKeywordSubmit, err)
	}

	button, err := session.WaitFor(ctx, group(s.selectors.Get(config.FieldSearchSubmit)), browser.Clickable, s.cfg.WaitTimeout)
	if err != nil {
		return fmt.Errorf("%w: search submit: %w", ErrKeywordSubmit, err)
	}
	if err := button.Click(); err != nil {
		return fmt.Errorf("%w: failed to submit search: %w", ErrKeywordSubmit, err)
	}

	return s.pacer.Pause(ctx)
}

// dedupe flattens the pages keeping the first record seen for each URL.
func (s *SearchScraper) dedupe(res *models.RunResult, logger *slog.Logger) []models.Product {
	seen := make(map[string]struct{})
	products := []models.Product{}

	for _, page := range res.Pages {
		for _, p := range page.Products {
			if _, dup := seen[p.URL]; dup {
				logger.Debug("dropping duplicate result", "page", page.Number, "url", p.URL)
				issue := models.Issue{Stage: StageDedup, Field: "url", Page: page.Number, Err: fmt.Errorf("duplicate url %s", p.URL)}
				res.Issues = append(res.Issues, issue)
				s.metrics.IncIssue(issue)
				continue
			}
			seen[p.URL] = struct{}{}
			products = append(products, p)
		}
	}

	return products
}

func (s *SearchScraper) fail(res *models.RunResult, stage string, err error) error {
	res.Stop = models.StopFailed
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		res.Stop = models.StopCancelled
	}
	issue := models.Issue{Stage: stage, Err: err}
	res.Issues = append(res.Issues, issue)
	s.metrics.IncIssue(issue)
	return err
}
