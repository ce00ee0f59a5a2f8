package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/amazon-search-scraper/internal/browser"
	"github.com/maltedev/amazon-search-scraper/internal/config"
	"github.com/maltedev/amazon-search-scraper/internal/models"
	"github.com/maltedev/amazon-search-scraper/internal/ratelimit"
)

// Paginator walks the results pages of one session. It is not safe for
// concurrent use; one paginator owns its session for the length of a run.
type Paginator struct {
	session       browser.Session
	selectors     config.Selectors
	assembler     *Assembler
	pacer         ratelimit.Pacer
	waitTimeout   time.Duration
	disabledClass string
	logger        *slog.Logger
	metrics       *Metrics
}

func NewPaginator(session browser.Session, cfg config.ScraperConfig, selectors config.Selectors,
	assembler *Assembler, pacer ratelimit.Pacer, logger *slog.Logger, metrics *Metrics) *Paginator {
	return &Paginator{
		session:       session,
		selectors:     selectors,
		assembler:     assembler,
		pacer:         pacer,
		waitTimeout:   cfg.WaitTimeout,
		disabledClass: cfg.DisabledClass,
		logger:        logger.With("component", "paginator"),
		metrics:       metrics,
	}
}

// Walk scrapes at most limit pages starting with the one currently shown.
// The next control is never consulted once limit pages are done.
func (p *Paginator) Walk(ctx context.Context, limit int) ([]models.PageResult, models.StopReason) {
	var pages []models.PageResult

	for n := 1; ; n++ {
		if err := p.pacer.Pause(ctx); err != nil {
			return pages, models.StopCancelled
		}

		page := p.scrapePage(ctx, n)
		pages = append(pages, page)
		if ctx.Err() != nil {
			return pages, models.StopCancelled
		}

		if n >= limit {
			p.logger.Debug("page limit reached", "pages", n)
			return pages, models.StopLimitReached
		}

		advanced, issue := p.next(ctx, n)
		if issue != nil {
			pages[len(pages)-1].Issues = append(pages[len(pages)-1].Issues, *issue)
			p.metrics.IncIssue(*issue)
			if ctx.Err() != nil {
				return pages, models.StopCancelled
			}
			return pages, models.StopFailed
		}
		if !advanced {
			p.logger.Info("no further results pages", "pages", n)
			return pages, models.StopExhausted
		}
	}
}

func (p *Paginator) scrapePage(ctx context.Context, n int) models.PageResult {
	page := models.PageResult{Number: n}
	p.metrics.IncPage()

	container, err := p.session.WaitFor(ctx, group(p.selectors.Get(config.FieldResults)), browser.Visible, p.waitTimeout)
	if err != nil {
		page.TimedOut = errors.Is(err, browser.ErrTimeout)
		if page.TimedOut {
			p.metrics.IncPageTimeout()
		}
		if blocked(p.session, p.selectors) {
			err = fmt.Errorf("%w: %w", ErrBlocked, err)
		}
		p.logger.Error("search results did not load", "page", n, "error", err)
		issue := models.Issue{Stage: StagePage, Page: n, Err: err}
		page.Issues = append(page.Issues, issue)
		p.metrics.IncIssue(issue)
		return page
	}

	cards, err := p.cards(container)
	if err != nil {
		p.logger.Error("failed to enumerate result cards", "page", n, "error", err)
		issue := models.Issue{Stage: StagePage, Page: n, Err: err}
		page.Issues = append(page.Issues, issue)
		p.metrics.IncIssue(issue)
		return page
	}
	page.Cards = len(cards)
	p.metrics.AddCards(len(cards))

	for _, card := range cards {
		res := p.assembler.Assemble(card, n)
		if !res.Usable() {
			continue
		}
		page.Products = append(page.Products, res.Product)
		for _, issue := range res.Issues {
			p.metrics.IncIssue(issue)
		}
		page.Issues = append(page.Issues, res.Issues...)
	}

	p.logger.Info("scraped results page", "page", n, "cards", page.Cards, "products", len(page.Products))
	return page
}

func (p *Paginator) cards(container browser.Element) ([]browser.Element, error) {
	for _, sel := range p.selectors.Get(config.FieldCard) {
		cards, err := container.FindAll(sel)
		if err != nil {
			return nil, fmt.Errorf("failed to find cards with %s: %w", sel, err)
		}
		if len(cards) > 0 {
			return cards, nil
		}
	}
	return nil, nil
}

// next activates the next-page control. It returns false without an issue
// when the control is missing or disabled.
func (p *Paginator) next(ctx context.Context, n int) (bool, *models.Issue) {
	control, err := p.session.WaitFor(ctx, group(p.selectors.Get(config.FieldNextPage)), browser.Present, p.waitTimeout)
	if err != nil {
		if errors.Is(err, browser.ErrTimeout) || errors.Is(err, browser.ErrNotFound) {
			return false, nil
		}
		return false, &models.Issue{Stage: StagePagination, Page: n, Err: err}
	}

	disabled, err := p.disabled(control)
	if err != nil {
		return false, &models.Issue{Stage: StagePagination, Page: n, Err: err}
	}
	if disabled {
		return false, nil
	}

	if err := control.Click(); err != nil {
		p.logger.Error("failed to open next results page", "page", n, "error", err)
		return false, &models.Issue{Stage: StagePagination, Page: n, Err: fmt.Errorf("failed to click next page: %w", err)}
	}
	return true, nil
}

func (p *Paginator) disabled(control browser.Element) (bool, error) {
	class, err := control.Attribute("class")
	if err != nil {
		return false, fmt.Errorf("failed to read next page class: %w", err)
	}
	for _, c := range strings.Fields(class) {
		if c == p.disabledClass {
			return true, nil
		}
	}

	aria, err := control.Attribute("aria-disabled")
	if err != nil {
		return false, fmt.Errorf("failed to read next page state: %w", err)
	}
	return aria == "true", nil
}

// blocked reports whether the current page is a captcha or robot check
// instead of the page that was expected.
func blocked(session browser.Session, selectors config.Selectors) bool {
	for _, sel := range selectors.Get(config.FieldBotCheck) {
		if _, err := session.Find(sel); err == nil {
			return true
		}
	}
	return false
}

// group joins selectors into one selector list so a single wait covers all of them.
func group(selectors []string) string {
	return strings.Join(selectors, ", ")
}
