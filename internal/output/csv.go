// internal/output/csv.go
// Tabular CSV export: host, port, status, banner

package output

import (
	"encoding/csv"
	"os"
	"strconv"
	"sync"

	"github.com/aspnmy/svcprobe/internal/models"
)

var csvHeader = []string{"host", "port", "status", "banner"}

// CSVFormatter writes one row per result after a fixed header row
type CSVFormatter struct {
	path   string
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVFormatter creates the file and writes the header row
func NewCSVFormatter(filename string) (*CSVFormatter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		file.Close()
		return nil, err
	}

	return &CSVFormatter{path: filename, file: file, writer: w}, nil
}

// Path returns the output file path
func (f *CSVFormatter) Path() string {
	return f.path
}

// Write appends a row
func (f *CSVFormatter) Write(result *models.ProbeResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.writer.Write([]string{
		result.IP.String(),
		strconv.Itoa(result.Port),
		string(result.Status),
		result.Banner,
	})
}

// Flush writes buffered rows to the file
func (f *CSVFormatter) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writer.Flush()
	return f.writer.Error()
}

// Close flushes and closes the file
func (f *CSVFormatter) Close() error {
	flushErr := f.Flush()
	if err := f.file.Close(); err != nil {
		return err
	}
	return flushErr
}
