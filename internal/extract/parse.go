package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPrice  = errors.New("invalid price")
	ErrNegativePrice = errors.New("negative price")
)

var (
	priceNoise   = regexp.MustCompile(`[^0-9.\-]`)
	hundred      = decimal.NewFromInt(100)
	reviewsNoise = strings.NewReplacer(",", "", "(", "", ")", "")
)

// ParsePrice turns a displayed price such as "$1,299.99" into minor units (129999).
// Everything but digits, a sign and the last decimal point is dropped, and
// fractions of a minor unit are truncated.
func ParsePrice(raw string) (int64, error) {
	cleaned := priceNoise.ReplaceAllString(raw, "")
	if i := strings.LastIndex(cleaned, "."); i >= 0 {
		cleaned = strings.ReplaceAll(cleaned[:i], ".", "") + cleaned[i:]
	}
	if cleaned == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, raw)
	}

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, raw)
	}
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: %q", ErrNegativePrice, raw)
	}

	return amount.Mul(hundred).IntPart(), nil
}

// ParseRating reads the leading number of a badge like "4.5 out of 5 stars".
// Values outside [0, 5] are rejected.
func ParseRating(raw string) (float64, bool) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return 0, false
	}

	v, err := strconv.ParseFloat(strings.Replace(fields[0], ",", ".", 1), 64)
	if err != nil || v < 0 || v > 5 {
		return 0, false
	}
	return v, true
}

// ParseReviewCount strips thousands separators; anything unparsable counts as 0.
func ParseReviewCount(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(reviewsNoise.Replace(raw)))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
