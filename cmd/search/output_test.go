package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/maltedev/amazon-search-scraper/internal/database"
	"github.com/maltedev/amazon-search-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	err := writeCSV(&buf, []models.Product{
		{Title: "Laptop, 15\"", URL: "https://amazon.com/dp/1", Rating: models.Float64(4.5), Reviews: 12,
			CurrentPrice: models.Int64(129999), OriginalPrice: models.Int64(149900), DeliveryAvailable: true},
		{Title: "Bare", URL: "https://amazon.com/dp/2"},
	})
	require.NoError(t, err)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"Laptop, 15\"", "https://amazon.com/dp/1", "4.5", "12", "1299.99", "1499.00", "true"}, records[1])
	assert.Equal(t, []string{"Bare", "https://amazon.com/dp/2", "", "0", "", "", "false"}, records[2])
}

type stubStore struct {
	avg *float64
	max *database.ProductRow
	top []database.ProductRow
}

func (s stubStore) AveragePrice(context.Context) (*float64, error) { return s.avg, nil }

func (s stubStore) MaxDiscount(context.Context) (*database.ProductRow, error) { return s.max, nil }

func (s stubStore) TopValue(context.Context) ([]database.ProductRow, error) { return s.top, nil }

func TestPrintReport(t *testing.T) {
	t.Run("populated", func(t *testing.T) {
		avg := 20.0
		base, cur := 40.0, 30.0
		rating := 4.8
		var buf bytes.Buffer
		err := printReport(context.Background(), &buf, stubStore{
			avg: &avg,
			max: &database.ProductRow{Title: "Thirty", URL: "https://amazon.com/dp/C", BasePrice: &base, CurrentPrice: &cur},
			top: []database.ProductRow{{Title: "Thirty", Rating: &rating, CurrentPrice: &cur}},
		})
		require.NoError(t, err)

		out := buf.String()
		assert.Contains(t, out, "Average price: 20.00")
		assert.Contains(t, out, "Max discount: Thirty (40.00 -> 30.00)")
		assert.Contains(t, out, "1. Thirty (rating 4.8, price 30.00)")
	})

	t.Run("empty store", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printReport(context.Background(), &buf, stubStore{}))
		assert.Contains(t, buf.String(), "Average price: n/a")
		assert.Contains(t, buf.String(), "Max discount: n/a")
	})
}
