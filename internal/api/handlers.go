package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/amazon-search-scraper/internal/database"
	"github.com/maltedev/amazon-search-scraper/internal/jobs"
	"github.com/maltedev/amazon-search-scraper/internal/scraper"
	"golang.org/x/time/rate"
)

const (
	defaultMaxPages = 5

	pendingWarnThreshold     = 1000
	deadLetterErrorThreshold = 100
)

// ReportStore is the read side of the product store.
type ReportStore interface {
	SelectAll(ctx context.Context) ([]database.ProductRow, error)
	AveragePrice(ctx context.Context) (*float64, error)
	MaxDiscount(ctx context.Context) (*database.ProductRow, error)
	TopValue(ctx context.Context) ([]database.ProductRow, error)
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

type OutboxStats interface {
	PendingCount(ctx context.Context) (int64, error)
	DeadLetterCount(ctx context.Context) (int64, error)
}

type JobQueue interface {
	CreateJob(query string, maxPages int) (*jobs.Job, error)
	GetJob(id string) (*jobs.Job, error)
	ListJobs() []*jobs.Job
}

// Handlers contains HTTP handlers for the report API. outbox and jobs may
// be nil; the health check then skips the outbox and the search routes
// are not mounted.
type Handlers struct {
	store   ReportStore
	outbox  OutboxStats
	jobs    JobQueue
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewHandlers(store ReportStore, outbox OutboxStats, queue JobQueue, logger *slog.Logger) *Handlers {
	return &Handlers{
		store:  store,
		outbox: outbox,
		jobs:   queue,
		logger: logger.With("component", "api_handlers"),
	}
}

type AveragePriceResponse struct {
	AveragePrice *float64 `json:"average_price"`
	Products     int      `json:"products"`
}

// ListProducts returns every stored record.
func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.SelectAll(r.Context())
	if err != nil {
		h.logger.Error("failed to select products", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list products")
		return
	}
	if rows == nil {
		rows = []database.ProductRow{}
	}

	h.respondJSON(w, http.StatusOK, rows)
}

// AveragePrice returns null when no record has a current price.
func (h *Handlers) AveragePrice(w http.ResponseWriter, r *http.Request) {
	avg, err := h.store.AveragePrice(r.Context())
	if err != nil {
		h.logger.Error("failed to compute average price", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to compute average price")
		return
	}

	count, err := h.store.Count(r.Context())
	if err != nil {
		h.logger.Error("failed to count products", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to compute average price")
		return
	}

	h.respondJSON(w, http.StatusOK, AveragePriceResponse{AveragePrice: avg, Products: count})
}

func (h *Handlers) MaxDiscount(w http.ResponseWriter, r *http.Request) {
	row, err := h.store.MaxDiscount(r.Context())
	if err != nil {
		h.logger.Error("failed to compute max discount", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to compute max discount")
		return
	}
	if row == nil {
		h.respondError(w, http.StatusNotFound, "no product with both prices")
		return
	}

	h.respondJSON(w, http.StatusOK, row)
}

func (h *Handlers) TopValue(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.TopValue(r.Context())
	if err != nil {
		h.logger.Error("failed to compute top value", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to compute top value")
		return
	}
	if rows == nil {
		rows = []database.ProductRow{}
	}

	h.respondJSON(w, http.StatusOK, rows)
}

// Health reports store reachability and outbox backlog.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Error("health check failed", "error", err)
		h.respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "error",
			"message": "database unreachable",
		})
		return
	}

	count, _ := h.store.Count(ctx)
	health := map[string]interface{}{
		"status":   "ok",
		"products": count,
	}
	status := http.StatusOK

	if h.outbox != nil {
		pendingCount, _ := h.outbox.PendingCount(ctx)
		deadLetterCount, _ := h.outbox.DeadLetterCount(ctx)
		health["outbox"] = map[string]interface{}{
			"pending":     pendingCount,
			"dead_letter": deadLetterCount,
		}

		if pendingCount > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetterCount > deadLetterErrorThreshold {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

// SetSearchLimiter throttles job creation; requests over the limit get 429.
func (h *Handlers) SetSearchLimiter(l *rate.Limiter) {
	h.limiter = l
}

// CreateSearchRequest queues a keyword search.
type CreateSearchRequest struct {
	Query    string `json:"query"`
	MaxPages int    `json:"max_pages"`
}

func (h *Handlers) CreateSearch(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow() {
		h.respondError(w, http.StatusTooManyRequests, "too many search requests")
		return
	}

	var req CreateSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.MaxPages == 0 {
		req.MaxPages = defaultMaxPages
	}

	job, err := h.jobs.CreateJob(req.Query, req.MaxPages)
	switch {
	case errors.Is(err, scraper.ErrInvalidRequest):
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, jobs.ErrQueueFull):
		h.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusAccepted, job)
}

func (h *Handlers) GetSearch(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetJob(chi.URLParam(r, "jobID"))
	if err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) ListSearches(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.ListJobs())
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
