// internal/scanner/prober.go
// Per-unit probe pipeline: connect, passive read, classify, fallback, HTTP

package scanner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/aspnmy/svcprobe/internal/detector"
	"github.com/aspnmy/svcprobe/internal/models"
	"github.com/aspnmy/svcprobe/pkg/logger"
	"github.com/aspnmy/svcprobe/pkg/ratelimit"
)

// Prober runs the probe pipeline for a single unit
type Prober interface {
	Probe(ctx context.Context, t models.Target) models.ProbeResult
}

type stage int

const (
	stageConnect stage = iota
	stagePassiveRead
	stageClassify
	stageFallback
	stageHTTP
	stageDone
)

func (s stage) String() string {
	switch s {
	case stageConnect:
		return "connect"
	case stagePassiveRead:
		return "passive-read"
	case stageClassify:
		return "classify"
	case stageFallback:
		return "fallback"
	case stageHTTP:
		return "http-probe"
	case stageDone:
		return "done"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// connProber is the TCP connect prober used by the native engine
type connProber struct {
	dialer         detector.Dialer
	connectTimeout time.Duration
	readTimeout    time.Duration
	probeTimeout   time.Duration
	bufSize        int
	deep           bool
	record         func(ratelimit.Outcome)
	serviceName    func(port int) (string, bool)
}

func newConnProber(opts Options, record func(ratelimit.Outcome)) *connProber {
	return &connProber{
		dialer:         &net.Dialer{KeepAlive: -1},
		connectTimeout: opts.ConnectTimeout,
		readTimeout:    opts.ReadTimeout,
		probeTimeout:   opts.ProbeTimeout,
		bufSize:        opts.BufferSize,
		deep:           opts.Deep,
		record:         record,
		serviceName:    detector.ServiceName,
	}
}

// probeRun carries the state of one unit through the stages
type probeRun struct {
	target models.Target
	result models.ProbeResult
	conn   net.Conn
	data   []byte
	banner string
}

func (r *probeRun) close() {
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

// Probe runs the stages in order until one of them ends the pipeline
func (p *connProber) Probe(ctx context.Context, t models.Target) models.ProbeResult {
	run := &probeRun{target: t, result: models.NewResult(t)}
	defer run.close()

	for st := stageConnect; st != stageDone; {
		st = p.step(ctx, run, st)
	}

	if run.result.Open() {
		run.result.Banner = run.banner
	}
	return run.result
}

func (p *connProber) step(ctx context.Context, run *probeRun, st stage) stage {
	switch st {
	case stageConnect:
		return p.connect(ctx, run)
	case stagePassiveRead:
		return p.passiveRead(run)
	case stageClassify:
		if run.banner = detector.Classify(run.data); run.banner != "" {
			return stageDone
		}
		return stageFallback
	case stageFallback:
		return p.fallback(ctx, run)
	case stageHTTP:
		return p.httpProbe(ctx, run)
	default:
		return stageDone
	}
}

func (p *connProber) dial(ctx context.Context, address string) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	defer cancel()
	return p.dialer.DialContext(dialCtx, "tcp", address)
}

func (p *connProber) connect(ctx context.Context, run *probeRun) stage {
	start := time.Now()
	conn, err := p.dial(ctx, run.target.Address())
	run.result.Latency = time.Since(start)

	if err != nil {
		run.result.Error = err.Error()
		if detector.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			p.report(ratelimit.OutcomeTimeout)
		} else {
			p.report(ratelimit.OutcomeRefused)
		}
		return stageDone
	}

	p.report(ratelimit.OutcomeOpen)
	run.conn = conn
	run.result.Status = models.StatusOpen
	return stagePassiveRead
}

// passiveRead waits once for the service to speak first
func (p *connProber) passiveRead(run *probeRun) stage {
	buf := make([]byte, p.bufSize)
	if err := run.conn.SetReadDeadline(time.Now().Add(p.readTimeout)); err != nil {
		run.result.Error = "read: " + err.Error()
		return stageDone
	}

	n, err := run.conn.Read(buf)
	run.data = buf[:n]
	if err != nil && n == 0 && !errors.Is(err, io.EOF) && !detector.IsTimeout(err) {
		run.result.Error = "read: " + err.Error()
		return stageDone
	}
	return stageClassify
}

// fallback names a silent port. The SMB probe needs its own connection, so the
// main one is released first to keep one socket per unit.
func (p *connProber) fallback(ctx context.Context, run *probeRun) stage {
	if p.deep {
		run.close()
		run.banner = detector.SMBNegotiate(ctx, p.dialer, run.target.Address(), p.bufSize, p.probeTimeout)
	} else if name, ok := p.serviceName(run.target.Port); ok {
		run.banner = name
	}
	if run.banner != "" {
		return stageDone
	}
	return stageHTTP
}

// httpProbe tries the open connection first and redials once if it is unusable.
// With no connection left (deep mode) the single redial is the only attempt.
func (p *connProber) httpProbe(ctx context.Context, run *probeRun) stage {
	host := run.target.IP.String()
	if run.conn == nil {
		conn, err := p.dial(ctx, run.target.Address())
		if err != nil {
			return stageDone
		}
		run.conn = conn
		run.banner, _ = detector.HTTPProbe(conn, host, p.bufSize, p.probeTimeout)
		return stageDone
	}

	banner, err := detector.HTTPProbe(run.conn, host, p.bufSize, p.probeTimeout)
	if errors.Is(err, detector.ErrConnUnusable) {
		logger.Debug("HTTP probe retry on fresh connection",
			logger.String("target", run.target.Address()),
			logger.Err(err),
		)
		run.close()

		conn, dialErr := p.dial(ctx, run.target.Address())
		if dialErr != nil {
			return stageDone
		}
		run.conn = conn
		banner, _ = detector.HTTPProbe(conn, host, p.bufSize, p.probeTimeout)
	}
	run.banner = banner
	return stageDone
}

func (p *connProber) report(o ratelimit.Outcome) {
	if p.record != nil {
		p.record(o)
	}
}
