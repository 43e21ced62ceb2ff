// internal/output/interface.go
// Output formatter interfaces

package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aspnmy/svcprobe/internal/models"
)

// Formatter is the base interface for all output formatters
type Formatter interface {
	// Write writes a single probe result
	Write(result *models.ProbeResult) error

	// Flush ensures all buffered data is written
	Flush() error

	// Close closes the formatter and releases resources
	Close() error
}

// FileSink is implemented by formatters that write to a file
type FileSink interface {
	Formatter
	Path() string
}

// ProgressReporter handles scan progress updates
type ProgressReporter interface {
	// UpdateProgress updates the current progress
	UpdateProgress(progress models.Progress)

	// Finish marks the scan as complete
	Finish(finalStats models.Progress)
}

// MultiFormatter allows writing to multiple formatters simultaneously.
// A failing formatter does not stop the others from receiving the result.
type MultiFormatter struct {
	formatters []Formatter
}

// NewMultiFormatter creates a new multi-formatter
func NewMultiFormatter(formatters ...Formatter) *MultiFormatter {
	return &MultiFormatter{formatters: formatters}
}

// Len returns the number of wrapped formatters
func (m *MultiFormatter) Len() int {
	return len(m.formatters)
}

// Write writes to all formatters
func (m *MultiFormatter) Write(result *models.ProbeResult) error {
	var errs []error
	for _, f := range m.formatters {
		if err := f.Write(result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush flushes all formatters
func (m *MultiFormatter) Flush() error {
	var errs []error
	for _, f := range m.formatters {
		if err := f.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all formatters
func (m *MultiFormatter) Close() error {
	var errs []error
	for _, f := range m.formatters {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteAll writes every result, then flushes
func WriteAll(f Formatter, results []models.ProbeResult) error {
	var errs []error
	for i := range results {
		if err := f.Write(&results[i]); err != nil {
			errs = append(errs, err)
		}
	}
	if err := f.Flush(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Options configures formatter construction
type Options struct {
	Writer     io.Writer // terminal output, defaults to stdout
	Directory  string    // where file formatters write
	FilePrefix string
	Verbose    bool
	Color      bool
	Now        time.Time // timestamp used in file names
}

func (o Options) writer() io.Writer {
	if o.Writer == nil {
		return os.Stdout
	}
	return o.Writer
}

// FileName returns "<dir>/<prefix>_<yyyymmdd_hhmmss>.<ext>"
func (o Options) FileName(ext string) string {
	now := o.Now
	if now.IsZero() {
		now = time.Now()
	}
	prefix := o.FilePrefix
	if prefix == "" {
		prefix = "svcprobe"
	}
	return filepath.Join(o.Directory, fmt.Sprintf("%s_%s.%s", prefix, now.Format("20060102_150405"), ext))
}

// FormatterFactory creates formatters by name
type FormatterFactory func(opts Options) (Formatter, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]FormatterFactory)
)

// Register registers a formatter
func Register(name string, factory FormatterFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get creates a formatter by name
func Get(name string, opts Options) (Formatter, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFormatterNotFound, name)
	}
	return factory(opts)
}

// Names lists registered formatter names
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("console", func(o Options) (Formatter, error) {
		return NewConsoleFormatter(o.writer(), o.Verbose), nil
	})
	Register("table", func(o Options) (Formatter, error) {
		return NewTableFormatter(o.writer(), o.Verbose, o.Color), nil
	})
	Register("csv", func(o Options) (Formatter, error) {
		return NewCSVFormatter(o.FileName("csv"))
	})
	Register("jsonl", func(o Options) (Formatter, error) {
		return NewJSONLFormatter(o.FileName("jsonl"))
	})
}

// ErrFormatterNotFound is returned when formatter name is not registered
var ErrFormatterNotFound = errors.New("formatter not found")

// ensureDir creates the parent directory of filename
func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir != "" && dir != "." {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
