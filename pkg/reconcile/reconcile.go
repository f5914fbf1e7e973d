// Package reconcile compares analyzer reports against expectations.
//
// Two policies exist. KindSet requires the set of reported analyzer kinds to
// equal the expected set exactly, ignoring locations. PairMembership requires
// every expected (analyzer, location) pair to be reported and ignores extra
// diagnostics.
package reconcile

import (
	"fmt"
	"maps"
	"slices"

	"github.com/rudra-tools/rudratest/pkg/report"
)

// Mismatch is returned by KindSet when the reported kinds differ from the
// expected kinds.
type Mismatch struct {
	Expected []string
	Reported []string

	// Missing are expected kinds that were not reported.
	Missing []string

	// Unexpected are reported kinds that were not expected.
	Unexpected []string
}

func (m *Mismatch) Error() string {
	return fmt.Sprintf("analyzer set mismatch; expected %q, reported %q (missing %q, unexpected %q)",
		m.Expected, m.Reported, m.Missing, m.Unexpected)
}

// KindSet checks that the set of analyzer kinds in r equals expected.
// A nil report is treated as empty. It returns *Mismatch on any difference.
func KindSet(expected map[string]struct{}, r *report.Report) error {
	reported := r.Kinds()

	var missing, unexpected []string
	for kind := range expected {
		if _, ok := reported[kind]; !ok {
			missing = append(missing, kind)
		}
	}
	for kind := range reported {
		if _, ok := expected[kind]; !ok {
			unexpected = append(unexpected, kind)
		}
	}
	if len(missing) == 0 && len(unexpected) == 0 {
		return nil
	}

	slices.Sort(missing)
	slices.Sort(unexpected)
	return &Mismatch{
		Expected:   slices.Sorted(maps.Keys(expected)),
		Reported:   slices.Sorted(maps.Keys(reported)),
		Missing:    missing,
		Unexpected: unexpected,
	}
}

// Missing is an expected diagnostic that a package's report lacks.
type Missing struct {
	Package string
	report.Pair
}

func (m Missing) String() string {
	return fmt.Sprintf("(%q, %q, %q)", m.Package, m.Analyzer, m.Location)
}

// PairMembership returns every pair of expected absent from r, in the order
// given, tagged with pkg. Diagnostics in r that were not expected are ignored.
func PairMembership(pkg string, expected []report.Pair, r *report.Report) []Missing {
	reported := r.Pairs()

	var missing []Missing
	for _, pair := range expected {
		if _, ok := reported[pair]; !ok {
			missing = append(missing, Missing{Package: pkg, Pair: pair})
		}
	}
	return missing
}
