package models

import (
	"fmt"
	"time"
)

// Issue is a diagnostic recorded while building a degraded result.
type Issue struct {
	Stage string `json:"stage"`
	Field string `json:"field,omitempty"`
	Page  int    `json:"page,omitempty"`
	Err   error  `json:"-"`
}

func (i Issue) Error() string {
	if i.Field != "" {
		return fmt.Sprintf("%s/%s: %v", i.Stage, i.Field, i.Err)
	}
	return fmt.Sprintf("%s: %v", i.Stage, i.Err)
}

func (i Issue) Unwrap() error {
	return i.Err
}

// CardResult is the best-effort record for one card plus whatever went wrong.
type CardResult struct {
	Product Product
	Issues  []Issue
}

// Usable reports whether the record carries its mandatory fields.
func (c *CardResult) Usable() bool {
	return !c.Product.IsEmpty()
}

// StopReason tells why pagination ended.
type StopReason string

const (
	StopExhausted    StopReason = "exhausted"
	StopLimitReached StopReason = "limit_reached"
	StopCancelled    StopReason = "cancelled"
	StopFailed       StopReason = "failed"
)

// PageResult is what one results page contributed to a run.
type PageResult struct {
	Number   int
	Cards    int
	Products []Product
	Issues   []Issue
	TimedOut bool
}

// RunResult is the outcome of one keyword search.
type RunResult struct {
	ID          string
	Query       string
	Products    []Product
	Pages       []PageResult
	Issues      []Issue
	Stop        StopReason
	StartedAt   time.Time
	CompletedAt time.Time
}

// IssueCount counts issues across the run and its pages.
func (r *RunResult) IssueCount() int {
	n := len(r.Issues)
	for _, p := range r.Pages {
		n += len(p.Issues)
	}
	return n
}
