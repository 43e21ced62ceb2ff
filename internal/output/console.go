// internal/output/console.go
// Live console output and progress display

package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aspnmy/svcprobe/internal/models"
)

// ConsoleFormatter prints results as they complete. Safe for concurrent use.
type ConsoleFormatter struct {
	w       io.Writer
	verbose bool
	mu      sync.Mutex
}

// NewConsoleFormatter creates a new console formatter
func NewConsoleFormatter(w io.Writer, verbose bool) *ConsoleFormatter {
	return &ConsoleFormatter{w: w, verbose: verbose}
}

// Write prints open results; closed ones only in verbose mode
func (f *ConsoleFormatter) Write(result *models.ProbeResult) error {
	if !result.Open() && !f.verbose {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var err error
	if result.Open() {
		line := fmt.Sprintf("[OPEN] %-21s", result.Target().Address())
		if result.Banner != "" {
			line += " " + result.Banner
		}
		_, err = fmt.Fprintln(f.w, line)
	} else {
		_, err = fmt.Fprintf(f.w, "[CLOSED] %s (%v)\n", result.Target().Address(), result.Latency.Round(time.Millisecond))
	}
	return err
}

// Flush is a no-op for console
func (f *ConsoleFormatter) Flush() error {
	return nil
}

// Close is a no-op for console
func (f *ConsoleFormatter) Close() error {
	return nil
}

// SimpleProgressReporter shows a single refreshing progress line
type SimpleProgressReporter struct {
	w          io.Writer
	total      int64
	startTime  time.Time
	lastUpdate time.Time
	interval   time.Duration
	mu         sync.Mutex
}

// NewSimpleProgressReporter creates a simple progress reporter
func NewSimpleProgressReporter(w io.Writer, total int64) *SimpleProgressReporter {
	return &SimpleProgressReporter{
		w:         w,
		total:     total,
		startTime: time.Now(),
		interval:  500 * time.Millisecond,
	}
}

// UpdateProgress redraws the progress line, at most once per interval.
// A non-zero progress.TotalTargets replaces the total given at construction.
func (r *SimpleProgressReporter) UpdateProgress(progress models.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if progress.TotalTargets > 0 {
		r.total = progress.TotalTargets
	}
	if time.Since(r.lastUpdate) < r.interval && progress.Processed < r.total {
		return
	}
	r.lastUpdate = time.Now()

	progress.TotalTargets = r.total
	if progress.StartTime.IsZero() {
		progress.StartTime = r.startTime
	}
	progress.Estimate(r.lastUpdate)

	fmt.Fprintf(r.w, "\r[%6.2f%%] %d/%d | Open: %d | Identified: %d | ETA: %v",
		progress.Percent, progress.Processed, r.total, progress.OpenPorts, progress.Identified, progress.ETA.Round(time.Second))
}

// Finish shows final stats
func (r *SimpleProgressReporter) Finish(finalStats models.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule := strings.Repeat("=", 60)
	fmt.Fprintln(r.w)
	fmt.Fprintln(r.w, rule)
	fmt.Fprintf(r.w, "Scan Summary:\n")
	if finalStats.ScanID != "" {
		fmt.Fprintf(r.w, "  Scan ID: %s\n", finalStats.ScanID)
	}
	fmt.Fprintf(r.w, "  Units probed: %d/%d\n", finalStats.Processed, finalStats.TotalTargets)
	fmt.Fprintf(r.w, "  Open ports found: %d\n", finalStats.OpenPorts)
	fmt.Fprintf(r.w, "  Identified services: %d\n", finalStats.Identified)
	fmt.Fprintf(r.w, "  Total time: %v\n", finalStats.Elapsed.Round(time.Millisecond))
	fmt.Fprintln(r.w, rule)
}
