// pkg/ports/ports.go
// Port set construction from explicit specs, the full range, or the default set

package ports

import (
	"sort"
	"strconv"
	"strings"
)

// MaxPort is the highest TCP port number
const MaxPort = 65535

// Default is the port set used when neither a spec nor the full flag is given
var Default = []int{
	21, 22, 23, 25, 53, 80, 81, 110, 111, 135, 139, 143, 161, 389, 443, 445,
	465, 587, 873, 993, 995, 1080, 1433, 1521, 2049, 2181, 2375, 3306, 3389,
	5000, 5432, 5601, 5900, 5985, 6379, 7001, 8000, 8080, 8081, 8443, 8888,
	9000, 9090, 9200, 9300, 11211, 27017,
}

// Build resolves the port set: full flag > explicit spec > default set
func Build(spec string, full bool) []int {
	switch {
	case full:
		return Full()
	case strings.TrimSpace(spec) != "":
		return Parse(spec)
	default:
		out := make([]int, len(Default))
		copy(out, Default)
		sort.Ints(out)
		return out
	}
}

// Full returns 1..65535
func Full() []int {
	out := make([]int, 0, MaxPort)
	for p := 1; p <= MaxPort; p++ {
		out = append(out, p)
	}
	return out
}

// Parse parses "22,80-443,9990-10000" into a sorted, de-duplicated list.
// Malformed tokens and inverted ranges are skipped, not reported.
func Parse(spec string) []int {
	seen := make(map[int]struct{})
	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if low, high, ok := strings.Cut(token, "-"); ok {
			start, err1 := parsePort(low)
			end, err2 := parsePort(high)
			if err1 != nil || err2 != nil {
				continue
			}
			for p := start; p <= end; p++ {
				seen[p] = struct{}{}
			}
			continue
		}
		if p, err := parsePort(token); err == nil {
			seen[p] = struct{}{}
		}
	}

	out := make([]int, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func parsePort(s string) (int, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}
