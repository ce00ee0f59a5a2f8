package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/maltedev/amazon-search-scraper/internal/browser"
	"github.com/maltedev/amazon-search-scraper/internal/config"
)

var (
	ErrMissingTitle = errors.New("title not found")
	ErrMissingLink  = errors.New("title link not found")
)

// Extractor pulls individual fields out of one result card.
// Only TitleAndURL may fail because something is missing; every other
// extractor turns a missing element into absence or a default and returns an
// error only when the lookup itself breaks.
type Extractor struct {
	selectors config.Selectors
	base      *url.URL
}

func New(selectors config.Selectors, baseURL string) (*Extractor, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	return &Extractor{selectors: selectors, base: base}, nil
}

// TitleAndURL returns the trimmed title text and the target of its enclosing link.
func (e *Extractor) TitleAndURL(card browser.Element) (string, string, error) {
	title, ok, err := lookup(card, e.selectors.Get(config.FieldTitle))
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", ErrMissingTitle
	}

	text, err := title.Text()
	if err != nil {
		return "", "", fmt.Errorf("failed to read title: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", "", ErrMissingTitle
	}

	var link browser.Element
	for _, tag := range e.selectors.Get(config.FieldTitleLink) {
		link, err = title.Ancestor(tag)
		if err == nil {
			break
		}
		if !errors.Is(err, browser.ErrNotFound) {
			return "", "", err
		}
	}
	if link == nil {
		return "", "", ErrMissingLink
	}

	href, err := link.Attribute("href")
	if err != nil {
		return "", "", fmt.Errorf("failed to read link: %w", err)
	}
	href = strings.TrimSpace(href)
	if href == "" {
		return "", "", ErrMissingLink
	}

	target, err := e.resolve(href)
	if err != nil {
		return "", "", err
	}

	return text, target, nil
}

// Rating returns nil when there is no badge or it does not read as a number.
func (e *Extractor) Rating(card browser.Element) (*float64, error) {
	raw, ok, err := e.html(card, config.FieldRating)
	if err != nil || !ok {
		return nil, err
	}

	v, ok := ParseRating(raw)
	if !ok {
		return nil, nil
	}
	return &v, nil
}

// Reviews returns 0 when the count is missing.
func (e *Extractor) Reviews(card browser.Element) (int, error) {
	raw, ok, err := e.html(card, config.FieldReviews)
	if err != nil || !ok {
		return 0, err
	}
	return ParseReviewCount(raw), nil
}

// Prices returns current and original price in minor units. The struck
// price is only consulted next to a regular price; a single fallback
// offer price stands for both. With no price element both are nil.
func (e *Extractor) Prices(card browser.Element) (*int64, *int64, error) {
	currentRaw, ok, err := e.html(card, config.FieldCurrentPrice)
	if err != nil {
		return nil, nil, err
	}

	var originalRaw string
	if ok {
		var struck bool
		originalRaw, struck, err = e.html(card, config.FieldOriginalPrice)
		if err != nil {
			return nil, nil, err
		}
		if !struck {
			originalRaw = currentRaw
		}
	} else {
		currentRaw, ok, err = e.html(card, config.FieldFallbackPrice)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, nil
		}
		originalRaw = currentRaw
	}

	current, err := ParsePrice(currentRaw)
	if err != nil {
		return nil, nil, err
	}
	original, err := ParsePrice(originalRaw)
	if err != nil {
		return &current, nil, err
	}

	return &current, &original, nil
}

// Delivery reports whether a non-empty delivery message is shown.
func (e *Extractor) Delivery(card browser.Element) (bool, error) {
	raw, ok, err := e.html(card, config.FieldDelivery)
	if err != nil || !ok {
		return false, err
	}
	return strings.TrimSpace(raw) != "", nil
}

func (e *Extractor) html(card browser.Element, f config.Field) (string, bool, error) {
	el, ok, err := lookup(card, e.selectors.Get(f))
	if err != nil || !ok {
		return "", false, err
	}

	html, err := el.InnerHTML()
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", f, err)
	}
	return html, true, nil
}

func (e *Extractor) resolve(href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("failed to parse link %q: %w", href, err)
	}
	return e.base.ResolveReference(ref).String(), nil
}

// lookup tries selectors in order. A miss is reported as ok=false rather
// than an error so callers never see browser.ErrNotFound.
func lookup(scope browser.Element, selectors []string) (browser.Element, bool, error) {
	for _, sel := range selectors {
		el, err := scope.Find(sel)
		if err == nil {
			return el, true, nil
		}
		if !errors.Is(err, browser.ErrNotFound) {
			return nil, false, fmt.Errorf("failed to look up %s: %w", sel, err)
		}
	}
	return nil, false, nil
}
