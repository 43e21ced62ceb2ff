// pkg/targets/targets.go
// Target specification expansion (single address, last-octet range, CIDR)

package targets

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrInvalidTarget is wrapped by every expansion error
var ErrInvalidTarget = errors.New("invalid target")

// SpecError names the token that aborted an expansion
type SpecError struct {
	Token  string
	Reason string
	Cause  error
}

func (e *SpecError) Error() string {
	msg := fmt.Sprintf("invalid target %q: %s", e.Token, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *SpecError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrInvalidTarget, e.Cause}
	}
	return []error{ErrInvalidTarget}
}

// tokenKind is the syntactic form of one comma-separated token
type tokenKind int

const (
	kindSingle tokenKind = iota
	kindRange
	kindCIDR
)

func classify(token string) tokenKind {
	switch {
	case strings.Contains(token, "/"):
		return kindCIDR
	case strings.Contains(token, "-"):
		return kindRange
	default:
		return kindSingle
	}
}

// Expand turns a target spec into a flat address list.
// Tokens are expanded in input order and duplicates across tokens are kept.
// Any malformed token aborts the whole expansion.
func Expand(spec string) ([]netip.Addr, error) {
	var all []netip.Addr
	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)

		var (
			addrs []netip.Addr
			err   error
		)
		switch classify(token) {
		case kindCIDR:
			addrs, err = expandCIDR(token)
		case kindRange:
			addrs, err = expandRange(token)
		default:
			var addr netip.Addr
			addr, err = parseIPv4(token)
			addrs = []netip.Addr{addr}
		}
		if err != nil {
			return nil, err
		}
		all = append(all, addrs...)
	}
	return all, nil
}

// Count returns how many addresses Expand would produce without materializing them
func Count(spec string) (uint64, error) {
	var total uint64
	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		switch classify(token) {
		case kindCIDR:
			first, last, err := cidrBounds(token)
			if err != nil {
				return 0, err
			}
			if last >= first {
				total += uint64(last-first) + 1
			}
		case kindRange:
			base, end, err := rangeBounds(token)
			if err != nil {
				return 0, err
			}
			total += uint64(end-base.As4()[3]) + 1
		default:
			if _, err := parseIPv4(token); err != nil {
				return 0, err
			}
			total++
		}
	}
	return total, nil
}

func parseIPv4(token string) (netip.Addr, error) {
	if token == "" {
		return netip.Addr{}, &SpecError{Token: token, Reason: "empty token"}
	}
	addr, err := netip.ParseAddr(token)
	if err != nil {
		return netip.Addr{}, &SpecError{Token: token, Reason: "malformed address", Cause: err}
	}
	if !addr.Is4() {
		return netip.Addr{}, &SpecError{Token: token, Reason: "only IPv4 addresses are supported"}
	}
	return addr, nil
}

// cidrBounds returns the first and last usable host as integers.
// last < first means the block has no usable hosts (/31, /32).
func cidrBounds(token string) (uint32, uint32, error) {
	base, bitsStr, ok := strings.Cut(token, "/")
	if !ok || strings.Contains(bitsStr, "/") {
		return 0, 0, &SpecError{Token: token, Reason: "malformed CIDR"}
	}
	addr, err := parseIPv4(strings.TrimSpace(base))
	if err != nil {
		return 0, 0, &SpecError{Token: token, Reason: "malformed CIDR base address", Cause: err}
	}
	bits, err := strconv.Atoi(strings.TrimSpace(bitsStr))
	if err != nil {
		return 0, 0, &SpecError{Token: token, Reason: "malformed mask", Cause: err}
	}
	if bits < 0 || bits > 32 {
		return 0, 0, &SpecError{Token: token, Reason: fmt.Sprintf("mask /%d out of range 0-32", bits)}
	}

	network := netip.PrefixFrom(addr, bits).Masked().Addr()
	n := toUint32(network)
	count := uint64(1) << uint(32-bits)
	first := uint64(n) + 1
	last := uint64(n) + count - 2
	if count < 3 {
		return 1, 0, nil
	}
	return uint32(first), uint32(last), nil
}

func expandCIDR(token string) ([]netip.Addr, error) {
	first, last, err := cidrBounds(token)
	if err != nil {
		return nil, err
	}
	if last < first {
		return nil, nil
	}
	addrs := make([]netip.Addr, 0, uint64(last-first)+1)
	for i := uint64(first); i <= uint64(last); i++ {
		addrs = append(addrs, fromUint32(uint32(i)))
	}
	return addrs, nil
}

// rangeBounds parses "A.B.C.D-E" into the start address and end octet
func rangeBounds(token string) (netip.Addr, uint8, error) {
	dash := strings.LastIndex(token, "-")
	base, err := parseIPv4(strings.TrimSpace(token[:dash]))
	if err != nil {
		return netip.Addr{}, 0, &SpecError{Token: token, Reason: "malformed range start", Cause: err}
	}
	end, err := strconv.ParseUint(strings.TrimSpace(token[dash+1:]), 10, 8)
	if err != nil {
		return netip.Addr{}, 0, &SpecError{Token: token, Reason: "range end must be an octet 0-255", Cause: err}
	}
	if uint8(end) < base.As4()[3] {
		return netip.Addr{}, 0, &SpecError{Token: token, Reason: "range end is lower than range start"}
	}
	return base, uint8(end), nil
}

func expandRange(token string) ([]netip.Addr, error) {
	base, end, err := rangeBounds(token)
	if err != nil {
		return nil, err
	}
	octets := base.As4()
	addrs := make([]netip.Addr, 0, int(end-octets[3])+1)
	for i := int(octets[3]); i <= int(end); i++ {
		octets[3] = uint8(i)
		addrs = append(addrs, netip.AddrFrom4(octets))
	}
	return addrs, nil
}

func toUint32(addr netip.Addr) uint32 {
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:])
}

func fromUint32(n uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	return netip.AddrFrom4(b)
}

// SizeInfo holds information about scan size
type SizeInfo struct {
	TotalUnits  uint64
	IsVeryLarge bool
	Warning     string
}

// CheckSize returns a warning for large host × port products
func CheckSize(hosts, ports uint64) SizeInfo {
	total := hosts * ports
	info := SizeInfo{TotalUnits: total}

	switch {
	case total > 10000000:
		info.IsVeryLarge = true
		info.Warning = fmt.Sprintf("VERY LARGE SCAN: %d probe units (10M+). Ensure you have adequate resources.", total)
	case total > 1000000:
		info.Warning = fmt.Sprintf("Large scan: %d probe units (1M+). Consider smaller batches.", total)
	}
	return info
}

// ParseFile reads target tokens from a file (one per line). Blank lines and
// lines starting with '#' are skipped. The path is resolved after cleaning and
// must name a regular file, so symlinks and devices are refused.
func ParseFile(filename string) ([]string, error) {
	absPath, err := filepath.Abs(filepath.Clean(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Lstat(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("invalid file: must be a regular file")
	}
	if info.Size() > 10*1024*1024 { // 10MB max
		return nil, fmt.Errorf("file too large: maximum size is 10MB")
	}

	//nolint:gosec // G304: absPath is validated above
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read target file: %w", err)
	}

	var tokens []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens = append(tokens, line)
	}
	return tokens, nil
}
