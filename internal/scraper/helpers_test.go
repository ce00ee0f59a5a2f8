package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/maltedev/amazon-search-scraper/internal/browser"
	"github.com/maltedev/amazon-search-scraper/internal/config"
	"github.com/maltedev/amazon-search-scraper/internal/extract"
	"github.com/stretchr/testify/require"
)

const (
	landing = `<html><body>
		<form><input id="twotabsearchtextbox" value="previous search">
		<input type="submit" id="nav-search-submit-button" value="Go"></form>
	</body></html>`

	nextEnabled  = `<a class="s-pagination-item s-pagination-next" href="/s?k=laptop&page=2">Next</a>`
	nextDisabled = `<a class="s-pagination-item s-pagination-next s-pagination-disabled">Next</a>`
	nextAria     = `<a class="s-pagination-item s-pagination-next" aria-disabled="true">Next</a>`
)

func resultsPage(next string, cards ...string) string {
	return `<html><body><div data-component-type="s-search-results">` +
		strings.Join(cards, "\n") +
		`</div><div class="s-pagination-strip">` + next + `</div></body></html>`
}

func productCard(id, title, price string) string {
	return fmt.Sprintf(`<div data-component-type="s-search-result" data-asin="%[1]s">
		<a class="a-link-normal" href="/dp/%[1]s"><h2><span>%[2]s</span></h2></a>
		<span class="a-price"><span class="a-offscreen">%[3]s</span></span>
	</div>`, id, title, price)
}

func testConfig() config.ScraperConfig {
	return config.ScraperConfig{
		BaseURL:       "https://amazon.com",
		WaitTimeout:   time.Second,
		DisabledClass: "s-pagination-disabled",
		UserAgents:    []string{"test-agent"},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAssembler(t *testing.T) *Assembler {
	t.Helper()
	e, err := extract.New(config.DefaultSelectors(), "https://amazon.com")
	require.NoError(t, err)
	return NewAssembler(e, quietLogger())
}

func snapshot(t *testing.T, pages ...string) *browser.SnapshotSession {
	t.Helper()
	s, err := browser.NewSnapshotSession(pages...)
	require.NoError(t, err)
	return s
}

func openerFor(s browser.Session) browser.Opener {
	return func(ctx context.Context) (browser.Session, error) {
		return s, nil
	}
}

// countingPacer records pauses without sleeping.
type countingPacer struct {
	pauses int
}

func (p *countingPacer) Pause(ctx context.Context) error {
	p.pauses++
	return ctx.Err()
}
