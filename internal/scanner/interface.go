// internal/scanner/interface.go
// Scanner engine interface definitions

package scanner

import (
	"context"
	"errors"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aspnmy/svcprobe/internal/models"
	"github.com/aspnmy/svcprobe/pkg/ratelimit"
)

// Engine is the interface for all scanning engines
type Engine interface {
	// Name returns the engine name
	Name() string

	// Scan probes every unit exactly once and returns one result per
	// dispatched unit. Cancelling ctx stops dispatch only; units already
	// running finish under their own timeouts.
	Scan(ctx context.Context, units []models.Target) ([]models.ProbeResult, error)

	// Close releases engine resources
	Close() error
}

// RateReporter is implemented by engines that pace connects
type RateReporter interface {
	RateStats() ratelimit.Stats
}

// Observer receives each result as soon as its unit finishes.
// It may be called from many goroutines at once.
type Observer func(models.ProbeResult)

// Options configures an engine
type Options struct {
	Concurrency    int
	Rate           int  // connects per second, 0 for unlimited
	Adaptive       bool // lower the rate when connects time out
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	ProbeTimeout   time.Duration
	BufferSize     int
	Deep           bool
	Observer       Observer
}

// DefaultOptions returns the stock probe settings
func DefaultOptions() Options {
	return Options{
		Concurrency:    1000,
		ConnectTimeout: 3 * time.Second,
		ReadTimeout:    1 * time.Second,
		ProbeTimeout:   2 * time.Second,
		BufferSize:     1024,
	}
}

func (o Options) validate() error {
	switch {
	case o.Concurrency <= 0:
		return &ScannerError{Message: "concurrency must be positive"}
	case o.ConnectTimeout <= 0 || o.ReadTimeout <= 0 || o.ProbeTimeout <= 0:
		return &ScannerError{Message: "timeouts must be positive"}
	case o.BufferSize < 8:
		return &ScannerError{Message: "buffer size must be at least 8 bytes"}
	case o.Rate < 0:
		return &ScannerError{Message: "rate must not be negative"}
	}
	return nil
}

// EngineFactory creates scanner engines
type EngineFactory func(opts Options) (Engine, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]EngineFactory)
)

// Register registers a scanner engine
func Register(name string, factory EngineFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get creates a scanner engine by name
func Get(name string, opts Options) (Engine, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		msg := "engine " + name + " (available: " + strings.Join(Engines(), ", ") + ")"
		return nil, &ScannerError{Message: msg, Cause: ErrEngineNotFound}
	}
	return factory(opts)
}

// Engines lists registered engine names
func Engines() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Units builds the probe units as the cross product of hosts and ports,
// hosts in the outer loop.
func Units(hosts []netip.Addr, ports []int) []models.Target {
	units := make([]models.Target, 0, len(hosts)*len(ports))
	for _, ip := range hosts {
		for _, port := range ports {
			units = append(units, models.Target{IP: ip, Port: port})
		}
	}
	return units
}

var (
	// ErrEngineNotFound is returned when engine name is not registered
	ErrEngineNotFound = errors.New("scanner engine not found")

	// ErrScanInterrupted is returned when dispatch stopped before every unit ran
	ErrScanInterrupted = errors.New("scan interrupted")
)

// ScannerError represents a scanner-specific error
type ScannerError struct {
	Message string
	Cause   error
}

func (e *ScannerError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ScannerError) Unwrap() error {
	return e.Cause
}
