package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/maltedev/amazon-search-scraper/internal/database"
	"github.com/maltedev/amazon-search-scraper/internal/models"
	"github.com/shopspring/decimal"
)

type reportStore interface {
	AveragePrice(ctx context.Context) (*float64, error)
	MaxDiscount(ctx context.Context) (*database.ProductRow, error)
	TopValue(ctx context.Context) ([]database.ProductRow, error)
}

func saveToCSV(products []models.Product, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return writeCSV(file, products)
}

func writeCSV(w io.Writer, products []models.Product) error {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"Title", "URL", "Rating", "Reviews", "CurrentPrice", "OriginalPrice", "Delivery"}); err != nil {
		return err
	}

	for _, p := range products {
		rating := ""
		if p.Rating != nil {
			rating = strconv.FormatFloat(*p.Rating, 'f', -1, 64)
		}
		record := []string{
			p.Title,
			p.URL,
			rating,
			strconv.Itoa(p.Reviews),
			formatMinor(p.CurrentPrice),
			formatMinor(p.OriginalPrice),
			fmt.Sprintf("%v", p.DeliveryAvailable),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func printReport(ctx context.Context, w io.Writer, store reportStore) error {
	avg, err := store.AveragePrice(ctx)
	if err != nil {
		return err
	}
	if avg == nil {
		fmt.Fprintln(w, "Average price: n/a")
	} else {
		fmt.Fprintf(w, "Average price: %.2f\n", *avg)
	}

	row, err := store.MaxDiscount(ctx)
	if err != nil {
		return err
	}
	if row == nil {
		fmt.Fprintln(w, "Max discount: n/a")
	} else {
		fmt.Fprintf(w, "Max discount: %s (%s -> %s)\n  %s\n", row.Title, formatMajor(row.BasePrice), formatMajor(row.CurrentPrice), row.URL)
	}

	top, err := store.TopValue(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Top value:")
	for i, r := range top {
		rating := "n/a"
		if r.Rating != nil {
			rating = strconv.FormatFloat(*r.Rating, 'f', 1, 64)
		}
		fmt.Fprintf(w, "  %d. %s (rating %s, price %s)\n", i+1, r.Title, rating, formatMajor(r.CurrentPrice))
	}

	return nil
}

func formatMinor(v *int64) string {
	if v == nil {
		return ""
	}
	return decimal.New(*v, -2).StringFixed(2)
}

func formatMajor(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}
