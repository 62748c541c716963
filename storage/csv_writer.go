package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"property-sync/models"
)

// csvHeader uses the primary ingestion alias of every field so an export can
// be fed back in as a dataset source.
var csvHeader = []string{
	"ID", "ProjectTitle", "ApartmentNo", "ApartmentType", "PropertyStatus",
	"Location", "District", "Bedrooms", "Bathrooms",
	"TotalArea", "InsideArea", "CoveredVeranda", "UncoveredVeranda", "Basement", "Plot",
	"Price", "CleanPrice", "Pricepersqm", "CurrencyType",
	"PhotoURLs", "URL", "Features", "Description", "AdditionalInformation",
	"Latitude", "Longitude", "PropertyID", "SyncedAt",
}

// CSVWriter exports normalized properties as CSV.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	closer io.Closer
	writer *csv.Writer
	header bool
}

// NewCSVWriter creates (or truncates) the CSV file at the given path.
// Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	return &CSVWriter{closer: f, writer: csv.NewWriter(f)}, nil
}

// NewCSVStreamWriter writes CSV to w, which is not closed by Close.
func NewCSVStreamWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{writer: csv.NewWriter(w)}
}

// Write appends props, emitting the header row before the first batch.
func (c *CSVWriter) Write(ctx context.Context, props []models.Property) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.header {
		if err := c.writer.Write(csvHeader); err != nil {
			return fmt.Errorf("csv: write header: %w", err)
		}
		c.header = true
	}

	for i := range props {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.writer.Write(csvRow(&props[i])); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

func csvRow(p *models.Property) []string {
	return []string{
		p.ExternalID, p.Title, p.ApartmentNo, p.Type, p.Status,
		p.Location, p.District, num(p.Bedrooms), num(p.Bathrooms),
		num(p.Area), num(p.InsideArea), num(p.CoveredVeranda), num(p.UncoveredVeranda), num(p.Basement), num(p.Plot),
		p.Price, num(p.CleanPrice), num(p.PriceSqm), p.Currency,
		strings.Join(p.Photos, ", "), p.URL, p.Features, p.Description, p.AdditionalInfo,
		optNum(p.Latitude), optNum(p.Longitude), p.ID, p.SyncedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func optNum(f *float64) string {
	if f == nil {
		return ""
	}
	return num(*f)
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writer.Flush()
	if c.closer == nil {
		return c.writer.Error()
	}
	return c.closer.Close()
}
