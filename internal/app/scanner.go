// internal/app/scanner.go
// Application orchestrator: expansion, engine run, sinks and scan records

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aspnmy/svcprobe/internal/core"
	"github.com/aspnmy/svcprobe/internal/models"
	"github.com/aspnmy/svcprobe/internal/output"
	"github.com/aspnmy/svcprobe/internal/scanner"
	"github.com/aspnmy/svcprobe/internal/store"
	"github.com/aspnmy/svcprobe/pkg/logger"
	"github.com/aspnmy/svcprobe/pkg/ports"
	"github.com/aspnmy/svcprobe/pkg/targets"
)

// ErrTooManyUnits is returned when hosts × ports exceeds scanner.max_units
var ErrTooManyUnits = errors.New("too many probe units")

// Request describes what to scan
type Request struct {
	Targets     string // comma-separated target tokens
	TargetsFile string // optional file with one token per line
	Ports       string // port spec; empty selects the default set
	Full        bool   // all ports 1-65535
}

// Summary is the outcome of one Run
type Summary struct {
	ScanID      string
	Status      store.ScanStatus
	Results     []models.ProbeResult // sorted by host, then port
	Units       int
	Open        int
	Identified  int
	Elapsed     time.Duration
	SinkErrors  error
	Interrupted bool
	Files       []string // result files written by export sinks
	Recorded    int      // results saved to the store
}

// ScannerDeps holds dependencies for the scanner app
type ScannerDeps struct {
	Config   *core.Config
	Live     []output.Formatter // receive results as units finish
	Exports  []output.Formatter // receive the sorted results after the scan
	Reporter output.ProgressReporter
	Store    *store.Store // nil disables scan records

	// ExportFormats are built through the output registry once the request
	// has been validated, so a rejected request leaves no files behind
	ExportFormats []string
	OutputOptions output.Options
}

// ScannerApp orchestrates the scanning process
type ScannerApp struct {
	config        *core.Config
	live          *output.MultiFormatter
	exports       []output.Formatter
	exportFormats []string
	outputOpts    output.Options
	reporter      output.ProgressReporter
	store         *store.Store
}

// NewScannerApp creates a new scanner application
func NewScannerApp(deps ScannerDeps) *ScannerApp {
	return &ScannerApp{
		config:        deps.Config,
		live:          output.NewMultiFormatter(deps.Live...),
		exports:       deps.Exports,
		exportFormats: deps.ExportFormats,
		outputOpts:    deps.OutputOptions,
		reporter:      deps.Reporter,
		store:         deps.Store,
	}
}

// NewFromConfig builds formatters, progress display and store from cfg.
// Terminal output goes to stdout, progress to stderr. File formats are only
// opened by Run.
func NewFromConfig(cfg *core.Config, stdout, stderr io.Writer) (*ScannerApp, error) {
	opts := output.Options{
		Writer:     stdout,
		Directory:  cfg.Output.Directory,
		FilePrefix: cfg.Output.FilePrefix,
		Verbose:    cfg.Output.Verbose,
		Color:      cfg.Output.Color,
	}

	deps := ScannerDeps{Config: cfg, OutputOptions: opts}
	known := output.Names()
	for _, name := range cfg.Output.Formats {
		if !slices.Contains(known, name) {
			closeAll(deps.Live)
			return nil, fmt.Errorf("%w: %q (available: %s)", output.ErrFormatterNotFound, name, strings.Join(known, ", "))
		}
		switch name {
		case "console":
			f, err := output.Get(name, opts)
			if err != nil {
				closeAll(deps.Live)
				return nil, fmt.Errorf("failed to create %s output: %w", name, err)
			}
			deps.Live = append(deps.Live, f)
		default:
			deps.ExportFormats = append(deps.ExportFormats, name)
		}
	}

	if cfg.Store.Enabled {
		s, err := store.Open(cfg.Store.Path)
		if err != nil {
			closeAll(deps.Live)
			return nil, err
		}
		deps.Store = s
	}

	if cfg.Output.Progress {
		deps.Reporter = output.NewSimpleProgressReporter(stderr, 0)
	}
	return NewScannerApp(deps), nil
}

// openExports creates the registry-built export sinks
func (app *ScannerApp) openExports() error {
	opts := app.outputOpts
	opts.Now = time.Now()
	for _, name := range app.exportFormats {
		f, err := output.Get(name, opts)
		if err != nil {
			return fmt.Errorf("failed to create %s output: %w", name, err)
		}
		app.exports = append(app.exports, f)
	}
	app.exportFormats = nil
	return nil
}

// Run expands the request, probes every unit and delivers the results
func (app *ScannerApp) Run(ctx context.Context, req Request) (*Summary, error) {
	spec, err := app.targetSpec(req)
	if err != nil {
		return nil, err
	}

	hostCount, err := targets.Count(spec)
	if err != nil {
		return nil, err
	}
	portList := ports.Build(req.Ports, req.Full)

	size := targets.CheckSize(hostCount, uint64(len(portList)))
	if limit := app.config.Scanner.MaxUnits; limit > 0 && size.TotalUnits > limit {
		return nil, fmt.Errorf("%w: %d exceeds scanner.max_units %d", ErrTooManyUnits, size.TotalUnits, limit)
	}
	if size.Warning != "" {
		logger.Warn(size.Warning, logger.Uint64("units", size.TotalUnits))
	}

	hosts, err := targets.Expand(spec)
	if err != nil {
		return nil, err
	}
	units := scanner.Units(hosts, portList)

	if err := app.openExports(); err != nil {
		return nil, err
	}

	scanID, recorder := app.startRecord(spec, int64(len(units)))

	var (
		processed  atomic.Int64
		openPorts  atomic.Int64
		identified atomic.Int64
		startTime  = time.Now()
		total      = int64(len(units))
	)
	opts := app.engineOptions()
	opts.Observer = func(r models.ProbeResult) {
		n := processed.Add(1)
		if r.Open() {
			openPorts.Add(1)
			if r.Banner != "" {
				identified.Add(1)
			}
		}
		if app.live.Len() > 0 {
			if err := app.live.Write(&r); err != nil {
				logger.Warn("Live output failed", logger.String("target", r.Target().Address()), logger.Err(err))
			}
		}
		if app.reporter != nil {
			progress := models.Progress{
				ScanID:       scanID,
				TotalTargets: total,
				Processed:    n,
				OpenPorts:    openPorts.Load(),
				Identified:   identified.Load(),
				StartTime:    startTime,
			}
			progress.Estimate(time.Now())
			app.reporter.UpdateProgress(progress)
		}
	}

	engine, err := scanner.Get(app.config.Scanner.Engine, opts)
	if err != nil {
		app.finishRecord(scanID, store.StatusFailed, 0)
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	defer engine.Close()

	logger.Info("Starting scan",
		logger.String("scan_id", scanID),
		logger.String("engine", engine.Name()),
		logger.Uint64("hosts", hostCount),
		logger.Int("ports", len(portList)),
		logger.Int("units", len(units)),
		logger.Bool("deep", opts.Deep),
	)

	results, scanErr := engine.Scan(ctx, units)
	status := store.StatusCompleted
	switch {
	case errors.Is(scanErr, scanner.ErrScanInterrupted):
		status = store.StatusInterrupted
	case scanErr != nil:
		app.finishRecord(scanID, store.StatusFailed, 0)
		return nil, fmt.Errorf("scan failed: %w", scanErr)
	}

	models.SortResults(results)
	summary := &Summary{
		ScanID:      scanID,
		Status:      status,
		Results:     results,
		Units:       len(units),
		Open:        models.CountOpen(results),
		Identified:  countIdentified(results),
		Elapsed:     time.Since(startTime),
		Interrupted: status == store.StatusInterrupted,
	}

	if err := app.live.Flush(); err != nil {
		logger.Warn("Live output flush failed", logger.Err(err))
	}

	sinks := slices.Clone(app.exports)
	if recorder != nil {
		sinks = append(sinks, recorder)
	}
	summary.SinkErrors = deliver(sinks, results)
	summary.Files = writtenFiles(app.exports)
	app.exports = nil
	if recorder != nil {
		summary.Recorded = recorder.Saved()
		logger.Info("Results recorded",
			logger.String("scan_id", recorder.ScanID()),
			logger.Int("saved", summary.Recorded),
		)
	}
	for _, path := range summary.Files {
		logger.Info("Results written", logger.String("file", path))
	}

	app.finishRecord(scanID, status, summary.Open)

	if app.reporter != nil {
		final := models.Progress{
			ScanID:       scanID,
			TotalTargets: total,
			Processed:    int64(len(results)),
			OpenPorts:    int64(summary.Open),
			Identified:   int64(summary.Identified),
			StartTime:    startTime,
		}
		final.Estimate(startTime.Add(summary.Elapsed))
		app.reporter.Finish(final)
	}

	logger.Info("Scan complete",
		logger.String("scan_id", scanID),
		logger.String("status", string(status)),
		logger.Int("probed", len(results)),
		logger.Int("open", summary.Open),
		logger.Int("identified", summary.Identified),
		logger.Duration("elapsed", summary.Elapsed),
	)
	if rr, ok := engine.(scanner.RateReporter); ok {
		stats := rr.RateStats()
		logger.Info("Connect statistics",
			logger.Int64("connects", stats.Recorded),
			logger.Int64("timeouts", stats.Timeouts),
			logger.Int64("rate_adjustments", stats.Adjustments),
			logger.Float64("final_rate", stats.CurrentRate),
		)
	}

	if summary.Interrupted {
		return summary, scanErr
	}
	return summary, nil
}

// Close releases output files and the store
func (app *ScannerApp) Close() error {
	var errs []error
	if err := app.live.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, f := range app.exports {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	app.exports = nil
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (app *ScannerApp) targetSpec(req Request) (string, error) {
	tokens := []string{}
	if s := strings.TrimSpace(req.Targets); s != "" {
		tokens = append(tokens, s)
	}
	if req.TargetsFile != "" {
		fromFile, err := targets.ParseFile(req.TargetsFile)
		if err != nil {
			return "", err
		}
		tokens = append(tokens, fromFile...)
	}
	if len(tokens) == 0 {
		return "", fmt.Errorf("%w: no targets given", targets.ErrInvalidTarget)
	}
	return strings.Join(tokens, ","), nil
}

func (app *ScannerApp) engineOptions() scanner.Options {
	s := app.config.Scanner
	return scanner.Options{
		Concurrency:    s.Concurrency,
		Rate:           s.Rate,
		Adaptive:       s.Adaptive,
		ConnectTimeout: s.ConnectTimeout,
		ReadTimeout:    s.ReadTimeout,
		ProbeTimeout:   s.ProbeTimeout,
		BufferSize:     s.BufferSize,
		Deep:           s.Deep,
	}
}

// startRecord creates the scan row; a store failure only disables recording
func (app *ScannerApp) startRecord(spec string, units int64) (string, *store.Recorder) {
	if app.store == nil {
		return store.NewScanID(), nil
	}
	scanID, err := app.store.CreateScan(spec, units, app.config.Snapshot())
	if err != nil {
		logger.Error("Failed to create scan record", logger.Err(err))
		return store.NewScanID(), nil
	}
	return scanID, store.NewRecorder(app.store, scanID)
}

func (app *ScannerApp) finishRecord(scanID string, status store.ScanStatus, open int) {
	if app.store == nil {
		return
	}
	if err := app.store.FinishScan(scanID, status, open); err != nil && !errors.Is(err, store.ErrScanNotFound) {
		logger.Error("Failed to finish scan record", logger.String("scan_id", scanID), logger.Err(err))
	}
}

// deliver writes results to every sink and closes it; failures are collected, not fatal
func deliver(sinks []output.Formatter, results []models.ProbeResult) error {
	var errs []error
	for _, f := range sinks {
		if err := output.WriteAll(f, results); err != nil {
			logger.Error("Failed to write results", logger.Err(err))
			errs = append(errs, err)
		}
		if err := f.Close(); err != nil {
			logger.Error("Failed to close output", logger.Err(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// writtenFiles lists the paths of sinks that write to a file
func writtenFiles(sinks []output.Formatter) []string {
	var files []string
	for _, f := range sinks {
		if p, ok := f.(output.FileSink); ok {
			files = append(files, p.Path())
		}
	}
	return files
}

func countIdentified(results []models.ProbeResult) int {
	n := 0
	for _, r := range results {
		if r.Open() && r.Banner != "" {
			n++
		}
	}
	return n
}

func closeAll(fs []output.Formatter) {
	for _, f := range fs {
		_ = f.Close()
	}
}

