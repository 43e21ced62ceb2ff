// internal/app/scanner_test.go
// End-to-end orchestrator tests against loopback listeners

package app

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aspnmy/svcprobe/internal/core"
	"github.com/aspnmy/svcprobe/internal/models"
	"github.com/aspnmy/svcprobe/internal/output"
	"github.com/aspnmy/svcprobe/internal/scanner"
	"github.com/aspnmy/svcprobe/internal/store"
	"github.com/aspnmy/svcprobe/pkg/targets"
)

func testConfig(t *testing.T) *core.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := core.Default()
	cfg.Scanner.Concurrency = 8
	cfg.Scanner.ConnectTimeout = time.Second
	cfg.Scanner.ReadTimeout = 100 * time.Millisecond
	cfg.Scanner.ProbeTimeout = 300 * time.Millisecond
	cfg.Output.Formats = []string{"console", "csv"}
	cfg.Output.Directory = filepath.Join(dir, "results")
	cfg.Store.Path = filepath.Join(dir, "svcprobe.db")
	return &cfg
}

func bannerServer(t *testing.T, banner string) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				_, _ = c.Write([]byte(banner))
				time.Sleep(100 * time.Millisecond)
			}(c)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func newApp(t *testing.T, cfg *core.Config) (*ScannerApp, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	a, err := NewFromConfig(cfg, &stdout, &stderr)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	return a, &stdout
}

func TestScannerApp_Run(t *testing.T) {
	cfg := testConfig(t)
	open := bannerServer(t, "SSH-2.0-mock\r\n")
	closed := freePort(t)

	a, stdout := newApp(t, cfg)
	summary, err := a.Run(context.Background(), Request{
		Targets: "127.0.0.1",
		Ports:   strconv.Itoa(closed) + "," + strconv.Itoa(open),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if summary.Units != 2 || len(summary.Results) != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.Open != 1 || summary.Identified != 1 || summary.Status != store.StatusCompleted {
		t.Errorf("summary counts = open %d identified %d status %s", summary.Open, summary.Identified, summary.Status)
	}
	if summary.SinkErrors != nil {
		t.Errorf("SinkErrors = %v", summary.SinkErrors)
	}
	if summary.Results[0].Port > summary.Results[1].Port {
		t.Error("results not sorted by port")
	}

	out := stdout.String()
	if !strings.Contains(out, "[OPEN]") || !strings.Contains(out, "SSH-2.0-mock") {
		t.Errorf("console output = %q", out)
	}
	if strings.Contains(out, "[CLOSED]") {
		t.Errorf("closed port printed on console: %q", out)
	}

	csvFiles, _ := filepath.Glob(filepath.Join(cfg.Output.Directory, "svcprobe_*.csv"))
	if len(csvFiles) != 1 {
		t.Fatalf("csv files = %v", csvFiles)
	}
	data, err := os.ReadFile(csvFiles[0])
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 3 {
		t.Errorf("csv lines = %d, want 3:\n%s", lines, data)
	}
	if len(summary.Files) != 1 || summary.Files[0] != csvFiles[0] {
		t.Errorf("summary.Files = %v, want [%s]", summary.Files, csvFiles[0])
	}
	if summary.Recorded != 2 {
		t.Errorf("summary.Recorded = %d, want 2", summary.Recorded)
	}

	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	info, err := s.GetScan(summary.ScanID)
	if err != nil {
		t.Fatalf("GetScan() error = %v", err)
	}
	if info.Status != store.StatusCompleted || info.OpenCount != 1 || info.TotalUnits != 2 {
		t.Errorf("stored scan = %+v", info)
	}
	stored, err := s.GetResults(summary.ScanID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 2 {
		t.Errorf("stored results = %d, want 2", len(stored))
	}
}

func TestScannerApp_InvalidTargetAbortsBeforeScan(t *testing.T) {
	cfg := testConfig(t)
	a, stdout := newApp(t, cfg)
	defer a.Close()

	_, err := a.Run(context.Background(), Request{Targets: "10.0.0.1,10.0.0.300", Ports: "22"})
	var se *targets.SpecError
	if !errors.As(err, &se) || se.Token != "10.0.0.300" {
		t.Fatalf("Run() error = %v, want SpecError for 10.0.0.300", err)
	}
	if stdout.Len() != 0 {
		t.Errorf("output written before abort: %q", stdout.String())
	}
	if _, err := os.Stat(cfg.Output.Directory); !os.IsNotExist(err) {
		entries, _ := os.ReadDir(cfg.Output.Directory)
		t.Errorf("output directory populated before abort: %v", entries)
	}

	scans, err := a.store.ListScans("")
	if err != nil {
		t.Fatal(err)
	}
	if len(scans) != 0 {
		t.Errorf("scan records = %d, want none", len(scans))
	}
}

func TestNewFromConfig_UnknownFormat(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output.Formats = []string{"console", "xlsx"}
	cfg.Store.Enabled = false

	var out bytes.Buffer
	if _, err := NewFromConfig(cfg, &out, &out); !errors.Is(err, output.ErrFormatterNotFound) {
		t.Errorf("NewFromConfig() error = %v, want ErrFormatterNotFound", err)
	}
}

func TestScannerApp_MaxUnits(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scanner.MaxUnits = 100
	a, _ := newApp(t, cfg)
	defer a.Close()

	_, err := a.Run(context.Background(), Request{Targets: "10.0.0.0/24", Ports: "22"})
	if !errors.Is(err, ErrTooManyUnits) {
		t.Errorf("Run() error = %v, want ErrTooManyUnits", err)
	}
}

func TestScannerApp_NoTargets(t *testing.T) {
	a, _ := newApp(t, testConfig(t))
	defer a.Close()

	if _, err := a.Run(context.Background(), Request{Ports: "22"}); !errors.Is(err, targets.ErrInvalidTarget) {
		t.Errorf("Run() error = %v, want ErrInvalidTarget", err)
	}
}

func TestScannerApp_TargetsFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output.Formats = []string{"table"}
	cfg.Store.Enabled = false
	open := bannerServer(t, "220 ready\r\n")

	file := filepath.Join(t.TempDir(), "targets.txt")
	if err := os.WriteFile(file, []byte("# lab\n127.0.0.1\n\n"), 0644); err != nil {
		t.Fatal(err)
	}

	a, stdout := newApp(t, cfg)
	defer a.Close()

	summary, err := a.Run(context.Background(), Request{TargetsFile: file, Ports: strconv.Itoa(open)})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Open != 1 {
		t.Errorf("Open = %d, want 1", summary.Open)
	}
	if !strings.HasPrefix(summary.ScanID, "scan_") {
		t.Errorf("ScanID = %q", summary.ScanID)
	}
	if !strings.Contains(stdout.String(), "220 ready") {
		t.Errorf("table output = %q", stdout.String())
	}
}

func TestScannerApp_Interrupted(t *testing.T) {
	cfg := testConfig(t)
	a, _ := newApp(t, cfg)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := a.Run(ctx, Request{Targets: "127.0.0.1", Ports: "1-5"})
	if !errors.Is(err, scanner.ErrScanInterrupted) {
		t.Fatalf("Run() error = %v, want ErrScanInterrupted", err)
	}
	if summary == nil || summary.Status != store.StatusInterrupted {
		t.Fatalf("summary = %+v", summary)
	}

	info, err := a.store.GetScan(summary.ScanID)
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != store.StatusInterrupted {
		t.Errorf("stored status = %s, want interrupted", info.Status)
	}
}

func TestScannerApp_EmptyExpansion(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Enabled = false
	a, _ := newApp(t, cfg)
	defer a.Close()

	summary, err := a.Run(context.Background(), Request{Targets: "10.0.0.1/32", Ports: "22"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Units != 0 || len(summary.Results) != 0 {
		t.Errorf("summary = %+v, want no units", summary)
	}
}

// failingSink rejects every write
type failingSink struct {
	closed bool
}

func (f *failingSink) Write(*models.ProbeResult) error { return errors.New("disk full") }
func (f *failingSink) Flush() error                    { return nil }
func (f *failingSink) Close() error {
	f.closed = true
	return nil
}

func TestScannerApp_SinkFailureKeepsResults(t *testing.T) {
	cfg := testConfig(t)
	open := bannerServer(t, "SSH-2.0-mock\r\n")

	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		t.Fatal(err)
	}
	bad := &failingSink{}
	var progress bytes.Buffer
	a := NewScannerApp(ScannerDeps{
		Config:   cfg,
		Exports:  []output.Formatter{bad},
		Reporter: output.NewSimpleProgressReporter(&progress, 0),
		Store:    s,
	})
	defer a.Close()

	summary, err := a.Run(context.Background(), Request{Targets: "127.0.0.1", Ports: strconv.Itoa(open)})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.SinkErrors == nil || !strings.Contains(summary.SinkErrors.Error(), "disk full") {
		t.Errorf("SinkErrors = %v, want disk full", summary.SinkErrors)
	}
	if !bad.closed {
		t.Error("failing sink was not closed")
	}
	if len(summary.Results) != 1 || summary.Recorded != 1 {
		t.Errorf("results = %d recorded = %d, want 1 and 1", len(summary.Results), summary.Recorded)
	}
	if !strings.Contains(progress.String(), "Units probed: 1/1") {
		t.Errorf("progress summary = %q", progress.String())
	}
}
