// internal/output/table.go
// Lipgloss table rendering of collected results

package output

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/aspnmy/svcprobe/internal/models"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	openStyle   = cellStyle.Foreground(lipgloss.Color("#04B575"))
	closedStyle = cellStyle.Foreground(lipgloss.Color("#FF6B6B"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))
)

const statusColumn = 2

// TableFormatter collects results and renders them as one table on Flush
type TableFormatter struct {
	w       io.Writer
	verbose bool
	color   bool
	rows    [][]string
	total   int
	mu      sync.Mutex
}

// NewTableFormatter creates a table formatter. Closed results are listed only
// in verbose mode.
func NewTableFormatter(w io.Writer, verbose, color bool) *TableFormatter {
	return &TableFormatter{w: w, verbose: verbose, color: color}
}

// Write buffers a row
func (f *TableFormatter) Write(result *models.ProbeResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.total++
	if !result.Open() && !f.verbose {
		return nil
	}
	f.rows = append(f.rows, []string{
		result.IP.String(),
		strconv.Itoa(result.Port),
		string(result.Status),
		result.Banner,
	})
	return nil
}

// Flush renders the buffered rows and resets the buffer
func (f *TableFormatter) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.total == 0 {
		return nil
	}
	defer func() {
		f.rows = nil
		f.total = 0
	}()

	if len(f.rows) == 0 {
		_, err := fmt.Fprintf(f.w, "No open ports among %d probed units\n", f.total)
		return err
	}

	if _, err := fmt.Fprintln(f.w, Render(f.rows, f.color)); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f.w, "\nTotal: %d rows, %d units probed\n", len(f.rows), f.total)
	return err
}

// Close flushes any pending rows
func (f *TableFormatter) Close() error {
	return f.Flush()
}

// Render draws host/port/status/banner rows as a bordered table
func Render(rows [][]string, color bool) string {
	styleFunc := func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerStyle
		}
		if !color || col != statusColumn || row < 0 || row >= len(rows) {
			return cellStyle
		}
		switch models.Status(rows[row][statusColumn]) {
		case models.StatusOpen:
			return openStyle
		case models.StatusClosed:
			return closedStyle
		}
		return cellStyle
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers("HOST", "PORT", "STATUS", "BANNER").
		Rows(rows...).
		StyleFunc(styleFunc)

	return t.Render()
}
