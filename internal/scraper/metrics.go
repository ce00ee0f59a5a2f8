package scraper

import (
	"fmt"
	"time"

	"github.com/maltedev/amazon-search-scraper/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for search runs.
type Metrics struct {
	Registry          *prometheus.Registry
	RunsTotal         *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	PagesTotal        prometheus.Counter
	PageTimeoutsTotal prometheus.Counter
	CardsTotal        prometheus.Counter
	RecordsTotal      prometheus.Counter
	IssuesTotal       *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_runs_total",
			Help: "Total keyword search runs by stop reason.",
		},
		[]string{"stop"},
	)
	runDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "search_run_duration_seconds",
			Help:    "Wall time of one keyword search run.",
			Buckets: []float64{5, 10, 30, 60, 120, 300, 600},
		},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "search_pages_scraped_total",
			Help: "Total results pages visited.",
		},
	)
	pageTimeouts := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "search_page_timeouts_total",
			Help: "Results pages whose container never became visible.",
		},
	)
	cards := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "search_cards_seen_total",
			Help: "Total result cards enumerated.",
		},
	)
	records := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "search_records_total",
			Help: "Total product records kept after filtering.",
		},
	)
	issues := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_issues_total",
			Help: "Total diagnostics recorded by stage and error type.",
		},
		[]string{"stage", "error_type"},
	)

	registry.MustRegister(runs, runDuration, pages, pageTimeouts, cards, records, issues)

	return &Metrics{
		Registry:          registry,
		RunsTotal:         runs,
		RunDuration:       runDuration,
		PagesTotal:        pages,
		PageTimeoutsTotal: pageTimeouts,
		CardsTotal:        cards,
		RecordsTotal:      records,
		IssuesTotal:       issues,
	}
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(stop models.StopReason, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(string(stop)).Inc()
	m.RunDuration.Observe(d.Seconds())
}

// IncPage increments the pages counter.
func (m *Metrics) IncPage() {
	if m == nil {
		return
	}
	m.PagesTotal.Inc()
}

// IncPageTimeout increments the page timeouts counter.
func (m *Metrics) IncPageTimeout() {
	if m == nil {
		return
	}
	m.PageTimeoutsTotal.Inc()
}

// AddCards adds to the cards counter.
func (m *Metrics) AddCards(n int) {
	if m == nil {
		return
	}
	m.CardsTotal.Add(float64(n))
}

// AddRecords adds to the records counter.
func (m *Metrics) AddRecords(n int) {
	if m == nil {
		return
	}
	m.RecordsTotal.Add(float64(n))
}

// IncIssue counts one diagnostic.
func (m *Metrics) IncIssue(issue models.Issue) {
	if m == nil {
		return
	}
	m.IssuesTotal.WithLabelValues(issue.Stage, ErrorLabel(issue.Err)).Inc()
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
