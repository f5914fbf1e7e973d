package harness

import (
	"fmt"
	"io"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/rudra-tools/rudratest/pkg/fixture"
)

const (
	colorGreen  = "\u001b[32;1m"
	colorYellow = "\u001b[33;1m"
	colorRed    = "\u001b[31;1m"
	colorReset  = "\u001b[0m"
)

// Tally counts verdicts per test type and prints one line per verdict.
// Record is safe for concurrent use.
type Tally struct {
	total   map[fixture.TestType]*xsync.Counter
	success map[fixture.TestType]*xsync.Counter

	// unclassified counts failures that happened before the test type was known.
	unclassified *xsync.Counter

	mu    sync.Mutex // guards out
	out   io.Writer
	color bool
}

// NewTally creates a Tally printing to out, with ANSI colours if color is set.
func NewTally(out io.Writer, color bool) *Tally {
	t := &Tally{
		total:        make(map[fixture.TestType]*xsync.Counter, len(fixture.TestTypes)),
		success:      make(map[fixture.TestType]*xsync.Counter, len(fixture.TestTypes)),
		unclassified: xsync.NewCounter(),
		out:          out,
		color:        color,
	}
	for _, tt := range fixture.TestTypes {
		t.total[tt] = xsync.NewCounter()
		t.success[tt] = xsync.NewCounter()
	}
	return t
}

// Record counts v and prints its line.
func (t *Tally) Record(v Verdict) {
	if total, ok := t.total[v.TestType]; ok {
		total.Inc()
		if v.OK() {
			t.success[v.TestType].Inc()
		}
	} else {
		t.unclassified.Inc()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "%s  %s\n", t.label(v), v.Fixture)
	if detail := v.Detail(); detail != "" {
		fmt.Fprintln(t.out, detail)
	}
}

func (t *Tally) label(v Verdict) string {
	label := fmt.Sprintf("%-14s", v.Label())
	if !t.color {
		return label
	}
	color := colorRed
	switch {
	case v.OK() && v.TestType == fixture.FalsePositive:
		color = colorYellow
	case v.OK():
		color = colorGreen
	}
	return color + label + colorReset
}

// Summary is a snapshot of the tallies.
type Summary struct {
	Total   map[fixture.TestType]int
	Success map[fixture.TestType]int

	// Unclassified counts failures without a known test type.
	Unclassified int
}

// Summary returns the current counts.
func (t *Tally) Summary() Summary {
	s := Summary{
		Total:        make(map[fixture.TestType]int, len(t.total)),
		Success:      make(map[fixture.TestType]int, len(t.success)),
		Unclassified: int(t.unclassified.Value()),
	}
	for tt, c := range t.total {
		s.Total[tt] = int(c.Value())
		s.Success[tt] = int(t.success[tt].Value())
	}
	return s
}

// Processed returns the number of verdicts counted.
func (s Summary) Processed() int {
	n := s.Unclassified
	for _, c := range s.Total {
		n += c
	}
	return n
}

// OK reports whether every counted fixture succeeded.
func (s Summary) OK() bool {
	if s.Unclassified > 0 {
		return false
	}
	for tt, total := range s.Total {
		if s.Success[tt] != total {
			return false
		}
	}
	return true
}

// WriteSummary prints the per-type ratios.
func (t *Tally) WriteSummary() {
	s := t.Summary()

	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "False-positives: %d/%d\n", s.Success[fixture.FalsePositive], s.Total[fixture.FalsePositive])
	fmt.Fprintf(t.out, "Normal: %d/%d\n", s.Success[fixture.Normal], s.Total[fixture.Normal])
	if s.Unclassified > 0 {
		fmt.Fprintf(t.out, "Unreadable fixtures: %d\n", s.Unclassified)
	}
}
