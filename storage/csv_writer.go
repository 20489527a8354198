package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"flat-notifier/models"
)

var csvHeader = []string{
	"run_id", "source", "external_id", "url", "raw_price", "raw_rooms", "raw_area", "address", "raw_posted_at", "fetched_at",
}

// CSVWriter appends raw provider records to a CSV file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter opens the CSV file at path for appending, writing the header
// row when the file is new. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("csv: open file %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: stat %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("csv: write header: %w", err)
		}
		w.Flush()
	}

	return &CSVWriter{file: f, writer: w}, nil
}

// WriteRaw appends one row per raw record, tagged with the run id.
func (c *CSVWriter) WriteRaw(runID string, listings []*models.RawListing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, l := range listings {
		row := []string{
			runID,
			string(l.Source),
			l.ExternalID,
			l.URL,
			l.RawPrice,
			l.RawRooms,
			l.RawArea,
			l.Address,
			l.RawPostedAt,
			l.FetchedAt.Format(time.RFC3339),
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}
