// Package report reads the structured report files produced by the analyzer.
package report

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Diagnostic is a single finding emitted by the analyzer.
// Its identity for reconciliation is the (Analyzer, Location) pair.
type Diagnostic struct {
	Level       string `toml:"level"`
	Analyzer    string `toml:"analyzer"`
	Description string `toml:"description"`
	Location    string `toml:"location"`
	Source      string `toml:"source"`
}

// Pair returns the reconciliation identity of the diagnostic.
func (d Diagnostic) Pair() Pair {
	return Pair{Analyzer: d.Analyzer, Location: d.Location}
}

// Pair identifies a diagnostic by analyzer kind and opaque location.
type Pair struct {
	Analyzer string
	Location string
}

func (p Pair) String() string {
	return fmt.Sprintf("(%q, %q)", p.Analyzer, p.Location)
}

// Report is the full output of one analyzer invocation.
// An absent "reports" key decodes to an empty Diagnostics slice.
type Report struct {
	Diagnostics []Diagnostic `toml:"reports"`
}

// Parse decodes a TOML report document.
func Parse(data []byte) (*Report, error) {
	var r Report
	if _, err := toml.Decode(string(data), &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	for i, d := range r.Diagnostics {
		if d.Analyzer == "" {
			return nil, fmt.Errorf("report entry %d has empty or missing 'analyzer' field", i)
		}
	}
	return &r, nil
}

// ReadFile reads and parses the report at path.
func ReadFile(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Kinds returns the set of analyzer kinds present in the report.
// A nil report yields an empty set.
func (r *Report) Kinds() map[string]struct{} {
	kinds := make(map[string]struct{})
	if r == nil {
		return kinds
	}
	for _, d := range r.Diagnostics {
		kinds[d.Analyzer] = struct{}{}
	}
	return kinds
}

// Pairs returns the set of (analyzer, location) pairs present in the report.
func (r *Report) Pairs() map[Pair]struct{} {
	pairs := make(map[Pair]struct{})
	if r == nil {
		return pairs
	}
	for _, d := range r.Diagnostics {
		pairs[d.Pair()] = struct{}{}
	}
	return pairs
}
