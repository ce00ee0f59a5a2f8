package jobs

import (
	"context"
	"fmt"
)

// StartWorker processes queued jobs until ctx is cancelled.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("job worker stopping")
			return
		case id := <-m.queue:
			m.processJob(ctx, id)
		}
	}
}

func (m *Manager) processJob(ctx context.Context, id string) {
	job, err := m.GetJob(id)
	if err != nil {
		return
	}

	m.logger.Info("processing job", "id", id, "query", job.Query)
	started := m.now()
	m.update(id, func(j *Job) {
		j.Status = StatusRunning
		j.StartedAt = &started
	})

	if err := m.runJob(ctx, id, job.Query, job.MaxPages); err != nil {
		m.logger.Error("job failed", "id", id, "error", err)
		m.finish(id, StatusFailed, err)
		return
	}

	m.finish(id, StatusCompleted, nil)
	m.logger.Info("job completed", "id", id)
}

// runJob performs the search and stores it. A failed run is still recorded
// (its event carries the stop reason) unless the worker is shutting down.
func (m *Manager) runJob(ctx context.Context, id, query string, maxPages int) error {
	res, runErr := m.searcher.Run(ctx, query, maxPages)
	if res != nil {
		m.update(id, func(j *Job) {
			j.RunID = res.ID
			j.PagesScraped = len(res.Pages)
			j.Records = len(res.Products)
			j.Issues = res.IssueCount()
			j.Stop = string(res.Stop)
		})
	}

	if res != nil && m.recorder != nil && ctx.Err() == nil {
		if err := m.recorder.RecordRun(ctx, res); err != nil {
			if runErr != nil {
				return fmt.Errorf("%w (and failed to record run: %v)", runErr, err)
			}
			return fmt.Errorf("failed to record run: %w", err)
		}
	}

	return runErr
}

func (m *Manager) finish(id string, status Status, err error) {
	completed := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.Status = status
		j.CompletedAt = &completed
		if err != nil {
			j.Error = err.Error()
		}
	}
	m.prune()
}
