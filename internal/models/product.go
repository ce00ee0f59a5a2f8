package models

// Product is one search result as extracted from a results card.
// Prices are in minor currency units (cents).
type Product struct {
	Title             string   `json:"title"`
	URL               string   `json:"url"`
	Rating            *float64 `json:"rating,omitempty"`
	Reviews           int      `json:"reviews"`
	CurrentPrice      *int64   `json:"current_price,omitempty"`
	OriginalPrice     *int64   `json:"original_price,omitempty"`
	DeliveryAvailable bool     `json:"delivery_available"`
}

// IsEmpty reports whether the mandatory title/url pair was never captured.
func (p *Product) IsEmpty() bool {
	return p.Title == "" || p.URL == ""
}

func (p *Product) Validate() []string {
	var errors []string

	if p.Title == "" {
		errors = append(errors, "Title is required")
	}

	if p.URL == "" {
		errors = append(errors, "URL is required")
	}

	if p.Rating != nil && (*p.Rating < 0 || *p.Rating > 5) {
		errors = append(errors, "Rating must be between 0 and 5")
	}

	if p.Reviews < 0 {
		errors = append(errors, "Reviews cannot be negative")
	}

	if p.CurrentPrice != nil && *p.CurrentPrice < 0 {
		errors = append(errors, "Current price cannot be negative")
	}

	if p.OriginalPrice != nil && *p.OriginalPrice < 0 {
		errors = append(errors, "Original price cannot be negative")
	}

	return errors
}

// Float64 and Int64 return pointers to their argument; handy for optional fields.
func Float64(v float64) *float64 { return &v }

func Int64(v int64) *int64 { return &v }
