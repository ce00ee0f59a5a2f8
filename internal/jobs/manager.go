package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/amazon-search-scraper/internal/models"
	"github.com/maltedev/amazon-search-scraper/internal/scraper"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"

	listLimit = 100
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrQueueFull   = errors.New("job queue is full")
)

// Recorder persists a finished run.
type Recorder interface {
	RecordRun(ctx context.Context, res *models.RunResult) error
}

// Job is one queued keyword search.
type Job struct {
	ID           string     `json:"id"`
	Query        string     `json:"query"`
	MaxPages     int        `json:"max_pages"`
	Status       Status     `json:"status"`
	RunID        string     `json:"run_id,omitempty"`
	PagesScraped int        `json:"pages_scraped"`
	Records      int        `json:"records"`
	Issues       int        `json:"issues"`
	Stop         string     `json:"stop,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Manager queues search jobs and runs them one at a time, so a single
// browser session is ever open.
type Manager struct {
	searcher scraper.Searcher
	recorder Recorder
	logger   *slog.Logger

	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string
	queue chan string
	now   func() time.Time
}

func NewManager(searcher scraper.Searcher, recorder Recorder, logger *slog.Logger, queueSize int) *Manager {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Manager{
		searcher: searcher,
		recorder: recorder,
		logger:   logger.With("component", "job_manager"),
		jobs:     make(map[string]*Job),
		queue:    make(chan string, queueSize),
		now:      time.Now,
	}
}

// CreateJob validates and enqueues a search.
func (m *Manager) CreateJob(query string, maxPages int) (*Job, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", scraper.ErrInvalidRequest)
	}
	if maxPages < 1 {
		return nil, fmt.Errorf("%w: max_pages must be at least 1, got %d", scraper.ErrInvalidRequest, maxPages)
	}

	job := &Job{
		ID:        uuid.New().String(),
		Query:     query,
		MaxPages:  maxPages,
		Status:    StatusPending,
		CreatedAt: m.now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case m.queue <- job.ID:
	default:
		return nil, ErrQueueFull
	}
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	m.prune()

	m.logger.Info("job created", "id", job.ID, "query", query, "max_pages", maxPages)
	snapshot := *job
	return &snapshot, nil
}

// GetJob returns a copy of the job.
func (m *Manager) GetJob(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	snapshot := *job
	return &snapshot, nil
}

// ListJobs returns the most recent jobs, newest first.
func (m *Manager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, min(len(m.order), listLimit))
	for i := len(m.order) - 1; i >= 0 && len(jobs) < listLimit; i-- {
		snapshot := *m.jobs[m.order[i]]
		jobs = append(jobs, &snapshot)
	}
	return jobs
}

// prune forgets the oldest finished jobs once more than listLimit are held.
// Pending and running jobs are always kept. The caller holds m.mu.
func (m *Manager) prune() {
	excess := len(m.order) - listLimit
	if excess <= 0 {
		return
	}

	kept := m.order[:0]
	for _, id := range m.order {
		if excess > 0 && m.jobs[id].finished() {
			delete(m.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

func (j *Job) finished() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

func (m *Manager) update(id string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		fn(job)
	}
}
