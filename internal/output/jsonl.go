// internal/output/jsonl.go
// JSON Lines output formatter

package output

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/aspnmy/svcprobe/internal/models"
)

// jsonlRecord is the on-disk shape of one result
type jsonlRecord struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Status    string `json:"status"`
	Banner    string `json:"banner"`
	LatencyMs int64  `json:"latency_ms"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// JSONLFormatter writes results as JSON Lines
type JSONLFormatter struct {
	path    string
	encoder *json.Encoder
	writer  io.WriteCloser
	buffer  *bufio.Writer
	mu      sync.Mutex
}

// NewJSONLFormatter creates a new JSONL formatter
func NewJSONLFormatter(filename string) (*JSONLFormatter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}

	buffer := bufio.NewWriterSize(file, 64*1024)

	return &JSONLFormatter{
		path:    filename,
		encoder: json.NewEncoder(buffer),
		writer:  file,
		buffer:  buffer,
	}, nil
}

// Path returns the output file path
func (f *JSONLFormatter) Path() string {
	return f.path
}

// Write writes a single result
func (f *JSONLFormatter) Write(result *models.ProbeResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.encoder.Encode(jsonlRecord{
		Host:      result.IP.String(),
		Port:      result.Port,
		Status:    string(result.Status),
		Banner:    result.Banner,
		LatencyMs: result.Latency.Milliseconds(),
		Timestamp: result.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Error:     result.Error,
	})
}

// Flush flushes the buffer
func (f *JSONLFormatter) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.buffer.Flush()
}

// Close flushes and closes the file
func (f *JSONLFormatter) Close() error {
	flushErr := f.Flush()
	if err := f.writer.Close(); err != nil {
		return err
	}
	return flushErr
}
