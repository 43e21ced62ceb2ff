// internal/scanner/native_test.go
// Tests for unit dispatch, the engine registry and loopback scans

package scanner

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aspnmy/svcprobe/internal/models"
)

// fakeProber answers without touching the network
type fakeProber struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	delay    time.Duration
	panicOn  int
}

func (f *fakeProber) Probe(ctx context.Context, t models.Target) models.ProbeResult {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.panicOn != 0 && t.Port == f.panicOn {
		panic("boom")
	}
	time.Sleep(f.delay)

	r := models.NewResult(t)
	if t.Port%2 == 0 {
		r.Status = models.StatusOpen
		r.Banner = "fake"
	}
	return r
}

func newTestScanner(t *testing.T, opts Options, p Prober) *NativeScanner {
	t.Helper()
	s := NewNativeScanner(opts)
	s.prober = p
	t.Cleanup(func() { s.Close() })
	return s
}

func hostList(n int) []netip.Addr {
	hosts := make([]netip.Addr, n)
	for i := range hosts {
		hosts[i] = netip.AddrFrom4([4]byte{10, 0, 0, byte(i + 1)})
	}
	return hosts
}

func TestUnits(t *testing.T) {
	hosts := hostList(3)
	ports := []int{80, 443}

	units := Units(hosts, ports)
	if len(units) != 6 {
		t.Fatalf("len(Units) = %d, want 6", len(units))
	}
	want := []models.Target{
		{IP: hosts[0], Port: 80}, {IP: hosts[0], Port: 443},
		{IP: hosts[1], Port: 80}, {IP: hosts[1], Port: 443},
		{IP: hosts[2], Port: 80}, {IP: hosts[2], Port: 443},
	}
	for i := range want {
		if units[i] != want[i] {
			t.Errorf("units[%d] = %v, want %v", i, units[i], want[i])
		}
	}

	if got := Units(nil, ports); len(got) != 0 {
		t.Errorf("Units(nil, ports) = %v, want empty", got)
	}
	if got := Units(hosts, nil); len(got) != 0 {
		t.Errorf("Units(hosts, nil) = %v, want empty", got)
	}
}

func TestNativeScanner_OneResultPerUnit(t *testing.T) {
	units := Units(hostList(20), []int{21, 22, 80, 443, 3306})
	var observed atomic.Int64

	opts := testOptions()
	opts.Concurrency = 8
	opts.Observer = func(models.ProbeResult) { observed.Add(1) }

	fp := &fakeProber{delay: time.Millisecond}
	s := newTestScanner(t, opts, fp)

	results, err := s.Scan(context.Background(), units)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(results) != len(units) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(units))
	}
	if got := observed.Load(); got != int64(len(units)) {
		t.Errorf("observer calls = %d, want %d", got, len(units))
	}
	if fp.peak > opts.Concurrency {
		t.Errorf("peak in-flight = %d, exceeds concurrency %d", fp.peak, opts.Concurrency)
	}

	seen := make(map[models.Target]bool)
	for _, r := range results {
		if seen[r.Target()] {
			t.Errorf("duplicate result for %v", r.Target())
		}
		seen[r.Target()] = true
		if !r.Open() && r.Banner != "" {
			t.Errorf("closed result %v carries banner %q", r.Target(), r.Banner)
		}
	}
}

func TestNativeScanner_PanicYieldsResult(t *testing.T) {
	units := Units(hostList(2), []int{80, 666, 443})
	s := newTestScanner(t, testOptions(), &fakeProber{panicOn: 666})

	results, err := s.Scan(context.Background(), units)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(results) != len(units) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(units))
	}

	panicked := 0
	for _, r := range results {
		if r.Port == 666 {
			panicked++
			if r.Status != models.StatusClosed || r.Error == "" {
				t.Errorf("panicked unit result = %+v", r)
			}
		}
	}
	if panicked != 2 {
		t.Errorf("panicked units = %d, want 2", panicked)
	}
}

func TestNativeScanner_ObserverPanicContained(t *testing.T) {
	units := Units(hostList(2), []int{80, 666})
	var observed atomic.Int64

	opts := testOptions()
	opts.Observer = func(r models.ProbeResult) {
		observed.Add(1)
		if r.Port == 666 {
			panic("observer boom")
		}
	}
	s := newTestScanner(t, opts, &fakeProber{})

	results, err := s.Scan(context.Background(), units)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(results) != len(units) {
		t.Errorf("len(results) = %d, want %d", len(results), len(units))
	}
	if got := observed.Load(); got != int64(len(units)) {
		t.Errorf("observer calls = %d, want %d", got, len(units))
	}
}

func TestNativeScanner_DeepModeRespectsConcurrency(t *testing.T) {
	port := mockServer(t, func(c net.Conn) {
		buf := make([]byte, 1024)
		_ = c.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
		for {
			if _, err := c.Read(buf); err != nil {
				return
			}
		}
	})

	opts := testOptions()
	opts.Concurrency = 1
	opts.Deep = true
	s := NewNativeScanner(opts)
	t.Cleanup(func() { s.Close() })
	cd := &countingDialer{}
	s.prober.(*connProber).dialer = cd

	units := Units([]netip.Addr{loopback, loopback, loopback}, []int{port})
	results, err := s.Scan(context.Background(), units)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(results) != len(units) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(units))
	}
	if got := cd.Peak(); got != 1 {
		t.Errorf("peak open sockets = %d with concurrency 1", got)
	}
}

// blockingProber holds every unit until released
type blockingProber struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingProber) Probe(ctx context.Context, t models.Target) models.ProbeResult {
	b.started <- struct{}{}
	<-b.release
	r := models.NewResult(t)
	if ctx.Err() != nil {
		r.Error = "unit context cancelled"
	}
	return r
}

func TestNativeScanner_InterruptStopsDispatch(t *testing.T) {
	units := Units(hostList(10), []int{80})

	opts := testOptions()
	opts.Concurrency = 2
	bp := &blockingProber{started: make(chan struct{}, len(units)), release: make(chan struct{})}
	s := newTestScanner(t, opts, bp)

	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		results []models.ProbeResult
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		results, err := s.Scan(ctx, units)
		done <- outcome{results, err}
	}()

	<-bp.started
	<-bp.started
	cancel()
	close(bp.release)

	var out outcome
	select {
	case out = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Scan did not return after interrupt")
	}

	if !errors.Is(out.err, ErrScanInterrupted) {
		t.Errorf("Scan() error = %v, want ErrScanInterrupted", out.err)
	}
	if len(out.results) != 2 {
		t.Errorf("len(results) = %d, want the 2 in-flight units", len(out.results))
	}
	for _, r := range out.results {
		if r.Error != "" {
			t.Errorf("in-flight unit saw cancellation: %q", r.Error)
		}
	}
}

func TestNativeScanner_Loopback(t *testing.T) {
	open := mockServer(t, func(c net.Conn) {
		_, _ = c.Write([]byte("220 mock ftp ready\r\n"))
		time.Sleep(100 * time.Millisecond)
	})
	closed := closedPort(t)

	opts := testOptions()
	s := newTestScanner(t, opts, newConnProber(opts, nil))

	results, err := s.Scan(context.Background(), Units([]netip.Addr{loopback}, []int{closed, open}))
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	models.SortResults(results)
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}

	byPort := map[int]models.ProbeResult{}
	for _, r := range results {
		byPort[r.Port] = r
	}
	if r := byPort[open]; !r.Open() || r.Banner != "220 mock ftp ready" {
		t.Errorf("open port result = %+v", r)
	}
	if r := byPort[closed]; r.Open() || r.Banner != "" {
		t.Errorf("closed port result = %+v", r)
	}
}

func TestNativeScanner_LoopbackLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping load test in short mode")
	}

	port := mockServer(t, func(c net.Conn) {
		_, _ = c.Write([]byte("+OK ready\r\n"))
	})

	units := make([]models.Target, 1000)
	for i := range units {
		units[i] = models.Target{IP: loopback, Port: port}
	}

	opts := testOptions()
	opts.Concurrency = 100
	s := newTestScanner(t, opts, newConnProber(opts, nil))

	start := time.Now()
	results, err := s.Scan(context.Background(), units)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(results) != len(units) {
		t.Errorf("len(results) = %d, want %d", len(results), len(units))
	}
	t.Logf("Scanned %d units in %v (%d open)", len(units), time.Since(start), models.CountOpen(results))
}

func TestRegistry(t *testing.T) {
	e, err := Get("native", testOptions())
	if err != nil {
		t.Fatalf("Get(native) error = %v", err)
	}
	defer e.Close()
	if e.Name() != "native" {
		t.Errorf("Name() = %q, want native", e.Name())
	}

	if _, err := Get("zmap", testOptions()); !errors.Is(err, ErrEngineNotFound) {
		t.Errorf("Get(zmap) error = %v, want ErrEngineNotFound", err)
	}

	var se *ScannerError
	bad := testOptions()
	bad.Concurrency = 0
	if _, err := Get("native", bad); !errors.As(err, &se) {
		t.Errorf("Get(native, concurrency 0) error = %v, want *ScannerError", err)
	}

	found := false
	for _, name := range Engines() {
		if name == "native" {
			found = true
		}
	}
	if !found {
		t.Error("Engines() does not list native")
	}
}

func BenchmarkNativeScanner_Scan(b *testing.B) {
	units := Units(hostList(100), []int{22, 80, 443, 8080})
	opts := DefaultOptions()
	opts.Concurrency = 256

	for i := 0; i < b.N; i++ {
		s := NewNativeScanner(opts)
		s.prober = &fakeProber{}
		if _, err := s.Scan(context.Background(), units); err != nil {
			b.Fatal(err)
		}
		s.Close()
	}
}
