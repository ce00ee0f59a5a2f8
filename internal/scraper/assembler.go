package scraper

import (
	"errors"
	"log/slog"

	"github.com/maltedev/amazon-search-scraper/internal/browser"
	"github.com/maltedev/amazon-search-scraper/internal/extract"
	"github.com/maltedev/amazon-search-scraper/internal/models"
)

// Assembler builds one product record per result card.
type Assembler struct {
	extractor *extract.Extractor
	logger    *slog.Logger
}

func NewAssembler(e *extract.Extractor, logger *slog.Logger) *Assembler {
	return &Assembler{
		extractor: e,
		logger:    logger.With("component", "assembler"),
	}
}

// Assemble runs the extractors in order: title/url, rating, reviews, prices,
// delivery. The first failing extractor ends assembly and the fields
// collected so far are returned together with the issue. Without a title and
// link the product stays empty and the result is not usable.
func (a *Assembler) Assemble(card browser.Element, page int) models.CardResult {
	var res models.CardResult

	title, url, err := a.extractor.TitleAndURL(card)
	if err != nil {
		if errors.Is(err, extract.ErrMissingTitle) || errors.Is(err, extract.ErrMissingLink) {
			a.logger.Debug("card skipped", "page", page, "reason", err)
		} else {
			a.logger.Warn("title extraction failed", "page", page, "error", err)
		}
		res.Issues = append(res.Issues, models.Issue{Stage: StageExtract, Field: "title", Page: page, Err: err})
		return res
	}
	res.Product.Title = title
	res.Product.URL = url

	fail := func(field string, err error) models.CardResult {
		a.logger.Warn("field extraction failed", "page", page, "field", field, "url", url, "error", err)
		res.Issues = append(res.Issues, models.Issue{Stage: StageExtract, Field: field, Page: page, Err: err})
		return res
	}

	if res.Product.Rating, err = a.extractor.Rating(card); err != nil {
		return fail("rating", err)
	}

	if res.Product.Reviews, err = a.extractor.Reviews(card); err != nil {
		return fail("reviews", err)
	}

	current, original, err := a.extractor.Prices(card)
	if err != nil {
		return fail("prices", err)
	}
	res.Product.CurrentPrice = current
	res.Product.OriginalPrice = original

	if res.Product.DeliveryAvailable, err = a.extractor.Delivery(card); err != nil {
		return fail("delivery", err)
	}

	return res
}
