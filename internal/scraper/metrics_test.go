package scraper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/maltedev/amazon-search-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.IncPage()
	m.AddRecords(4)
	m.ObserveRun(models.StopLimitReached, 0)

	path := filepath.Join(t.TempDir(), "search.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "search_pages_scraped_total 1")
	assert.Contains(t, string(data), "search_records_total 4")
	assert.Contains(t, string(data), `search_runs_total{stop="limit_reached"} 1`)
}
