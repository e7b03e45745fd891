// Package marker detects idempotency markers embedded in patched bundles.
package marker

import (
	"bytes"
	"fmt"
)

// State summarizes which markers a file carries.
type State int

const (
	// Unpatched means none of the markers are present.
	Unpatched State = iota
	// Partial means some but not all markers are present, each at most once.
	Partial
	// Patched means every marker is present exactly once.
	Patched
	// Duplicated means at least one marker appears more than once.
	Duplicated
)

func (s State) String() string {
	switch s {
	case Unpatched:
		return "unpatched"
	case Partial:
		return "partial"
	case Patched:
		return "patched"
	case Duplicated:
		return "duplicated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result is the outcome of scanning one file.
type Result struct {
	Counts map[string]int
	State  State
}

// Missing returns the markers that were not found, in the order given to Scan.
func (r Result) Missing(markers []string) []string {
	var out []string
	for _, m := range markers {
		if r.Counts[m] == 0 {
			out = append(out, m)
		}
	}
	return out
}

// Scan counts each marker in content and derives the file state.
// With no markers the file is reported as Unpatched.
func Scan(content []byte, markers []string) Result {
	res := Result{Counts: make(map[string]int, len(markers))}
	present := 0
	for _, m := range markers {
		n := bytes.Count(content, []byte(m))
		res.Counts[m] = n
		if n > 0 {
			present++
		}
		if n > 1 {
			res.State = Duplicated
		}
	}
	if res.State == Duplicated {
		return res
	}
	switch {
	case present == 0:
		res.State = Unpatched
	case present == len(markers):
		res.State = Patched
	default:
		res.State = Partial
	}
	return res
}
