// pkg/ratelimit/limiter.go
// Connect pacing with adaptive back-off on dial timeouts

package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Outcome classifies a finished connect attempt
type Outcome int

const (
	OutcomeOpen    Outcome = iota // handshake completed
	OutcomeRefused                // RST or unreachable
	OutcomeTimeout                // no answer before the connect deadline
)

// Limiter paces outbound connects. With Adaptive set it lowers the rate when
// too many connects time out and recovers toward the configured rate otherwise.
type Limiter struct {
	limiter     *rate.Limiter
	baseRate    rate.Limit
	currentRate rate.Limit
	mu          sync.RWMutex

	adaptive       bool
	targetRatio    float64
	interval       time.Duration
	minSamples     int64
	done           chan struct{}
	stopOnce       sync.Once
	windowTotal    atomic.Int64
	windowTimeouts atomic.Int64

	stats   Stats
	statsMu sync.Mutex
}

// Stats contains limiter counters
type Stats struct {
	Waits       int64
	Cancelled   int64
	Recorded    int64
	Timeouts    int64
	Adjustments int64
	CurrentRate float64
}

// Config holds limiter configuration
type Config struct {
	Rate        int           // connects per second, 0 for unlimited
	Burst       int           // defaults to Rate
	Adaptive    bool          // back off on timeouts
	TargetRatio float64       // tolerated timeout ratio (default 0.05)
	Interval    time.Duration // evaluation period (default 2s)
	MinSamples  int           // outcomes needed before adjusting (default 20)
}

// New creates a limiter. An unlimited limiter never blocks and never adapts.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.Rate)
	if cfg.Rate <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = max(cfg.Rate, 1)
	}

	l := &Limiter{
		limiter:     rate.NewLimiter(r, burst),
		baseRate:    r,
		currentRate: r,
		adaptive:    cfg.Adaptive && r != rate.Inf,
		targetRatio: cfg.TargetRatio,
		interval:    cfg.Interval,
		minSamples:  int64(cfg.MinSamples),
		done:        make(chan struct{}),
	}
	l.stats.CurrentRate = float64(r)

	if l.targetRatio <= 0 {
		l.targetRatio = 0.05
	}
	if l.interval <= 0 {
		l.interval = 2 * time.Second
	}
	if l.minSamples <= 0 {
		l.minSamples = 20
	}

	if l.adaptive {
		go l.controller()
	}
	return l
}

// Unlimited reports whether Wait can ever block
func (l *Limiter) Unlimited() bool {
	return l.baseRate == rate.Inf
}

// Wait blocks until the next connect may start
func (l *Limiter) Wait(ctx context.Context) error {
	err := l.limiter.Wait(ctx)

	l.statsMu.Lock()
	l.stats.Waits++
	if err != nil {
		l.stats.Cancelled++
	}
	l.statsMu.Unlock()

	return err
}

// Record feeds a connect outcome into the current evaluation window
func (l *Limiter) Record(o Outcome) {
	l.statsMu.Lock()
	l.stats.Recorded++
	if o == OutcomeTimeout {
		l.stats.Timeouts++
	}
	l.statsMu.Unlock()

	if !l.adaptive {
		return
	}
	l.windowTotal.Add(1)
	if o == OutcomeTimeout {
		l.windowTimeouts.Add(1)
	}
}

// GetRate returns the current rate
func (l *Limiter) GetRate() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return float64(l.currentRate)
}

// GetStats returns a snapshot of the counters
func (l *Limiter) GetStats() Stats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return l.stats
}

func (l *Limiter) controller() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			total := l.windowTotal.Load()
			if total < l.minSamples {
				continue
			}
			timeouts := l.windowTimeouts.Swap(0)
			l.windowTotal.Add(-total)
			l.adjust(float64(timeouts) / float64(total))
		}
	}
}

// adjust halves toward the floor on congestion and creeps back up otherwise
func (l *Limiter) adjust(timeoutRatio float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	current := float64(l.currentRate)
	base := float64(l.baseRate)
	floor := base * 0.1

	var next float64
	if timeoutRatio > l.targetRatio {
		next = current * 0.5
	} else {
		next = current + base*0.1
	}
	next = min(max(next, floor), base)
	if next == current {
		return
	}

	l.limiter.SetLimit(rate.Limit(next))
	l.currentRate = rate.Limit(next)

	l.statsMu.Lock()
	l.stats.CurrentRate = next
	l.stats.Adjustments++
	l.statsMu.Unlock()
}

// Stop ends the adaptive controller; safe to call more than once
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}
