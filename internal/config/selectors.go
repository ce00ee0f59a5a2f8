package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Field names a logical lookup on the results page.
type Field string

const (
	FieldResults       Field = "results"
	FieldCard          Field = "card"
	FieldTitle         Field = "title"
	FieldTitleLink     Field = "title_link"
	FieldRating        Field = "rating"
	FieldReviews       Field = "reviews"
	FieldCurrentPrice  Field = "current_price"
	FieldFallbackPrice Field = "fallback_price"
	FieldOriginalPrice Field = "original_price"
	FieldDelivery      Field = "delivery"
	FieldSearchInput   Field = "search_input"
	FieldSearchSubmit  Field = "search_submit"
	FieldNextPage      Field = "next_page"
	FieldBotCheck      Field = "bot_check"
)

// Selectors maps each field to the selectors tried in order; the first match wins.
// FieldTitleLink holds tag names for the enclosing-link lookup.
type Selectors map[Field][]string

func DefaultSelectors() Selectors {
	return Selectors{
		FieldResults:       {"[data-component-type='s-search-results']"},
		FieldCard:          {"[data-component-type='s-search-result']"},
		FieldTitle:         {"a > h2 > span", "h2 a span", "h2 > span"},
		FieldTitleLink:     {"a"},
		FieldRating:        {"[data-cy='reviews-ratings-slot'] > span", "i.a-icon-star-small > span.a-icon-alt"},
		FieldReviews:       {"[data-csa-c-slot-id='alf-reviews'] span"},
		FieldCurrentPrice:  {".a-price:not([data-a-strike='true']) > .a-offscreen"},
		FieldFallbackPrice: {"[data-cy='secondary-offer-recipe'] .a-color-base"},
		FieldOriginalPrice: {".a-price[data-a-strike='true'] > .a-offscreen"},
		FieldDelivery:      {".udm-primary-delivery-message > div"},
		FieldSearchInput:   {"#twotabsearchtextbox"},
		FieldSearchSubmit:  {"#nav-search-submit-text", "#nav-search-submit-button"},
		FieldNextPage:      {"a.s-pagination-next"},
		FieldBotCheck:      {"#captchacharacters", "form[action*='Captcha']", "form[action*='validateCaptcha']"},
	}
}

// Get returns the selectors for a field.
func (s Selectors) Get(f Field) []string {
	return s[f]
}

// Merge returns a copy of s with every field present in override replaced.
func (s Selectors) Merge(override Selectors) Selectors {
	out := make(Selectors, len(s))
	for f, list := range s {
		out[f] = append([]string(nil), list...)
	}
	for f, list := range override {
		if len(list) > 0 {
			out[f] = append([]string(nil), list...)
		}
	}
	return out
}

func (s Selectors) Validate() error {
	for _, f := range []Field{
		FieldResults, FieldCard, FieldTitle, FieldTitleLink,
		FieldSearchInput, FieldSearchSubmit, FieldNextPage,
	} {
		if len(s[f]) == 0 {
			return fmt.Errorf("selector %q is required", f)
		}
	}
	return nil
}

// LoadSelectors overlays a JSON file of {"field": ["selector", ...]} onto the defaults.
func LoadSelectors(path string) (Selectors, error) {
	if path == "" {
		return DefaultSelectors(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read selectors file %s: %w", path, err)
	}

	var override Selectors
	if err := json.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("failed to unmarshal selectors JSON from %s: %w", path, err)
	}

	selectors := DefaultSelectors().Merge(override)
	if err := selectors.Validate(); err != nil {
		return nil, err
	}

	return selectors, nil
}
