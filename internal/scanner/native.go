// internal/scanner/native.go
// Native Go TCP engine: semaphore-bounded dispatch, one goroutine per unit

package scanner

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/aspnmy/svcprobe/internal/models"
	"github.com/aspnmy/svcprobe/pkg/logger"
	"github.com/aspnmy/svcprobe/pkg/ratelimit"
)

// NativeScanner probes units with plain TCP connects
type NativeScanner struct {
	opts    Options
	prober  Prober
	sem     *semaphore.Weighted
	limiter *ratelimit.Limiter
}

// NewNativeScanner creates a native engine from validated options
func NewNativeScanner(opts Options) *NativeScanner {
	limiter := ratelimit.New(ratelimit.Config{
		Rate:     opts.Rate,
		Adaptive: opts.Adaptive,
	})
	return &NativeScanner{
		opts:    opts,
		prober:  newConnProber(opts, limiter.Record),
		sem:     semaphore.NewWeighted(int64(opts.Concurrency)),
		limiter: limiter,
	}
}

// Name returns engine name
func (s *NativeScanner) Name() string {
	return "native"
}

// Scan dispatches every unit and waits for all dispatched units to finish
func (s *NativeScanner) Scan(ctx context.Context, units []models.Target) ([]models.ProbeResult, error) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make([]models.ProbeResult, 0, len(units))
	)

	// Units keep running after an interrupt; only dispatch honours ctx.
	unitCtx := context.WithoutCancel(ctx)

	dispatched := 0
	for _, u := range units {
		if ctx.Err() != nil {
			break
		}
		if err := s.limiter.Wait(ctx); err != nil {
			break
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			break
		}

		dispatched++
		wg.Add(1)
		go func(u models.Target) {
			defer wg.Done()
			defer s.sem.Release(1)

			r := s.runUnit(unitCtx, u)

			mu.Lock()
			results = append(results, r)
			mu.Unlock()

			s.notify(r)
		}(u)
	}

	wg.Wait()

	if !s.limiter.Unlimited() {
		stats := s.limiter.GetStats()
		logger.Debug("Connect pacing",
			logger.Int("configured_rate", s.opts.Rate),
			logger.Float64("final_rate", s.limiter.GetRate()),
			logger.Int64("timeouts", stats.Timeouts),
			logger.Int64("adjustments", stats.Adjustments),
		)
	}

	if dispatched < len(units) {
		logger.Warn("Dispatch stopped before all units ran",
			logger.Int("dispatched", dispatched),
			logger.Int("remaining", len(units)-dispatched),
		)
		return results, ErrScanInterrupted
	}
	return results, nil
}

// runUnit turns a panic inside the prober into a closed result
func (s *NativeScanner) runUnit(ctx context.Context, u models.Target) (r models.ProbeResult) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Probe panicked",
				logger.String("target", u.Address()),
				logger.Any("panic", rec),
			)
			r = models.NewResult(u)
			r.Error = fmt.Sprintf("probe panic: %v", rec)
		}
	}()
	return s.prober.Probe(ctx, u)
}

// notify hands a finished result to the observer; a panicking observer is
// logged and does not take other units down
func (s *NativeScanner) notify(r models.ProbeResult) {
	if s.opts.Observer == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Result observer panicked",
				logger.String("target", r.Target().Address()),
				logger.Any("panic", rec),
			)
		}
	}()
	s.opts.Observer(r)
}

// RateStats returns the connect limiter counters
func (s *NativeScanner) RateStats() ratelimit.Stats {
	return s.limiter.GetStats()
}

// Close stops the rate controller
func (s *NativeScanner) Close() error {
	s.limiter.Stop()
	return nil
}

// NativeEngineFactory creates the native engine from options
func NativeEngineFactory(opts Options) (Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return NewNativeScanner(opts), nil
}

func init() {
	Register("native", NativeEngineFactory)
}
