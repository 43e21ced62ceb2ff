// pkg/ports/ports_test.go
// Unit tests for port set construction

package ports

import (
	"reflect"
	"sort"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want []int
	}{
		{"single", "22", []int{22}},
		{"list", "443,22,80", []int{22, 80, 443}},
		{"range", "8000-8003", []int{8000, 8001, 8002, 8003}},
		{"mixed with overlap", "22,20-23,80,22", []int{20, 21, 22, 23, 80}},
		{"whitespace", " 22 , 80 - 81 ", []int{22, 80, 81}},
		{"port zero allowed", "0,1", []int{0, 1}},
		{"upper bound", "65535", []int{65535}},
		{"malformed tokens skipped", "22,abc,80,-,1-x,", []int{22, 80}},
		{"out of range skipped", "70000,22", []int{22}},
		{"inverted range contributes nothing", "100-90,7", []int{7}},
		{"all malformed", "x,y", []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.spec)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.spec, got, tt.want)
			}
		})
	}
}

func TestParse_SortedUnique(t *testing.T) {
	specs := []string{
		"1000-1010,5,1005,3-7,65535,0",
		"80,80,80",
		"9-1,4,2-3,2",
	}
	for _, spec := range specs {
		got := Parse(spec)
		if !sort.IntsAreSorted(got) {
			t.Errorf("Parse(%q) not sorted: %v", spec, got)
		}
		for i := 1; i < len(got); i++ {
			if got[i] == got[i-1] {
				t.Errorf("Parse(%q) has duplicate %d", spec, got[i])
			}
		}
	}
}

func TestBuild_Precedence(t *testing.T) {
	full := Build("22", true)
	if len(full) != MaxPort || full[0] != 1 || full[len(full)-1] != MaxPort {
		t.Errorf("Build(full) = %d ports [%d..%d], want 1..65535", len(full), full[0], full[len(full)-1])
	}

	if got := Build("80,22", false); !reflect.DeepEqual(got, []int{22, 80}) {
		t.Errorf("Build(spec) = %v, want [22 80]", got)
	}

	def := Build("", false)
	if len(def) != len(Default) {
		t.Errorf("Build(default) = %d ports, want %d", len(def), len(Default))
	}
	if !sort.IntsAreSorted(def) {
		t.Error("default set is not sorted")
	}
}
