// internal/models/types.go
// Core data models for svcprobe

package models

import (
	"net/netip"
	"sort"
	"time"
)

// Status is the reachability verdict for a probe unit
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Target is a probe unit: one (host, port) pair
type Target struct {
	IP   netip.Addr
	Port int
}

// Address returns the target as "ip:port" string
func (t Target) Address() string {
	return netip.AddrPortFrom(t.IP, uint16(t.Port)).String()
}

// String returns human-readable target info
func (t Target) String() string {
	return t.Address()
}

// ProbeResult is the outcome of probing a single unit
type ProbeResult struct {
	IP        netip.Addr    `json:"host"`
	Port      int           `json:"port"`
	Status    Status        `json:"status"`
	Banner    string        `json:"banner"`
	Latency   time.Duration `json:"latency"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// NewResult returns a closed result for the unit; the prober upgrades it
func NewResult(t Target) ProbeResult {
	return ProbeResult{
		IP:        t.IP,
		Port:      t.Port,
		Status:    StatusClosed,
		Timestamp: time.Now(),
	}
}

// Target returns the probe unit this result belongs to
func (r ProbeResult) Target() Target {
	return Target{IP: r.IP, Port: r.Port}
}

// Open reports whether the port accepted a connection
func (r ProbeResult) Open() bool {
	return r.Status == StatusOpen
}

// SortResults orders results by numeric host, then port
func SortResults(results []ProbeResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if c := results[i].IP.Compare(results[j].IP); c != 0 {
			return c < 0
		}
		return results[i].Port < results[j].Port
	})
}

// CountOpen returns the number of open results
func CountOpen(results []ProbeResult) int {
	n := 0
	for _, r := range results {
		if r.Open() {
			n++
		}
	}
	return n
}

// Progress represents scan progress
type Progress struct {
	ScanID       string        `json:"scan_id"`
	TotalTargets int64         `json:"total_targets"`
	Processed    int64         `json:"processed"`
	OpenPorts    int64         `json:"open_ports"`
	Identified   int64         `json:"identified"`
	StartTime    time.Time     `json:"start_time"`
	Elapsed      time.Duration `json:"elapsed"`
	ETA          time.Duration `json:"eta"`
	Percent      float64       `json:"percent"`
}

// Estimate derives Elapsed, Percent and ETA from the counters and StartTime
func (p *Progress) Estimate(now time.Time) {
	if !p.StartTime.IsZero() {
		p.Elapsed = now.Sub(p.StartTime)
	}
	p.Percent, p.ETA = 0, 0
	if p.TotalTargets <= 0 {
		return
	}
	p.Percent = float64(p.Processed) * 100 / float64(p.TotalTargets)
	if p.Processed > 0 && p.Processed < p.TotalTargets {
		perUnit := p.Elapsed / time.Duration(p.Processed)
		p.ETA = perUnit * time.Duration(p.TotalTargets-p.Processed)
	}
}
