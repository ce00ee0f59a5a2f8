package scraper

import (
	"context"
	"errors"

	"github.com/maltedev/amazon-search-scraper/internal/browser"
	"github.com/maltedev/amazon-search-scraper/internal/extract"
	"github.com/maltedev/amazon-search-scraper/internal/models"
)

var (
	ErrInvalidRequest = errors.New("invalid search request")
	ErrSession        = errors.New("browser session unavailable")
	ErrNavigation     = errors.New("navigation failed")
	ErrKeywordSubmit  = errors.New("keyword submission failed")
	ErrBlocked        = errors.New("blocked by bot check")
)

// Issue stages.
const (
	StageSession    = "session"
	StageSubmit     = "submit"
	StageExtract    = "extract"
	StagePage       = "page"
	StagePagination = "pagination"
	StageDedup      = "dedup"
)

// Searcher runs one keyword search against the results site.
type Searcher interface {
	SearchByKeyword(ctx context.Context, query string, pages int) []models.Product
	Run(ctx context.Context, query string, pages int) (*models.RunResult, error)
}

// ErrorLabel maps an error to the error_type metric label.
func ErrorLabel(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrNavigation), errors.Is(err, ErrKeywordSubmit), errors.Is(err, ErrSession):
		return "navigation"
	case errors.Is(err, browser.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, browser.ErrNotFound),
		errors.Is(err, extract.ErrMissingTitle),
		errors.Is(err, extract.ErrMissingLink):
		return "not_found"
	case errors.Is(err, extract.ErrInvalidPrice), errors.Is(err, extract.ErrNegativePrice):
		return "parse"
	case errors.Is(err, browser.ErrClosed):
		return "closed"
	}
	return "other"
}
