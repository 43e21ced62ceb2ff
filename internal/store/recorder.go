// internal/store/recorder.go
// Batching result writer bound to one scan

package store

import (
	"sync"

	"github.com/aspnmy/svcprobe/internal/models"
)

const defaultBatchSize = 500

// Recorder buffers results for one scan and saves them in batches.
// It satisfies output.Formatter so it can sit next to the file exporters.
type Recorder struct {
	store     *Store
	scanID    string
	batchSize int
	pending   []models.ProbeResult
	saved     int
	mu        sync.Mutex
}

// NewRecorder creates a recorder for scanID
func NewRecorder(s *Store, scanID string) *Recorder {
	return &Recorder{store: s, scanID: scanID, batchSize: defaultBatchSize}
}

// ScanID returns the scan the recorder writes to
func (r *Recorder) ScanID() string {
	return r.scanID
}

// Saved returns how many results reached the database
func (r *Recorder) Saved() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saved
}

// Write buffers a result and saves a full batch
func (r *Recorder) Write(result *models.ProbeResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = append(r.pending, *result)
	if len(r.pending) >= r.batchSize {
		return r.flushLocked()
	}
	return nil
}

// Flush saves buffered results
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

func (r *Recorder) flushLocked() error {
	if len(r.pending) == 0 {
		return nil
	}
	if err := r.store.SaveResults(r.scanID, r.pending); err != nil {
		return err
	}
	r.saved += len(r.pending)
	r.pending = r.pending[:0]
	return nil
}

// Close saves anything still buffered; the store itself stays open
func (r *Recorder) Close() error {
	return r.Flush()
}
