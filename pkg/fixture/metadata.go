package fixture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// TestType classifies what a fixture is expected to demonstrate.
type TestType string

const (
	// Normal fixtures expect the analyzer to report exactly the listed kinds.
	Normal TestType = "normal"

	// FalsePositive fixtures pin a known false positive of the analyzer.
	FalsePositive TestType = "false_positive"
)

// TestTypes lists the recognized test types in reporting order.
var TestTypes = []TestType{Normal, FalsePositive}

// ParseTestType parses a test type, accepting "fp" as a short spelling of
// "false_positive".
func ParseTestType(s string) (TestType, error) {
	switch s {
	case string(Normal):
		return Normal, nil
	case string(FalsePositive), "fp":
		return FalsePositive, nil
	}
	return "", fmt.Errorf("unknown test_type %q (want %q or %q)", s, Normal, FalsePositive)
}

// Metadata is the parsed embedded block of a fixture.
type Metadata struct {
	TestType TestType

	// ExpectedAnalyzers is the set of analyzer kinds the fixture expects.
	ExpectedAnalyzers map[string]struct{}
}

// Expected returns the expected analyzer kinds sorted for display.
func (m *Metadata) Expected() []string {
	return slices.Sorted(maps.Keys(m.ExpectedAnalyzers))
}

type rawMetadata struct {
	TestType          string   `toml:"test_type"`
	ExpectedAnalyzers []string `toml:"expected_analyzers"`
}

// MetadataError reports a malformed metadata block.
type MetadataError struct {
	Path string
	Err  error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("metadata of %s: %v", e.Path, e.Err)
}

func (e *MetadataError) Unwrap() error { return e.Err }

var errNoClosingFence = errors.New("no closing fence line " + closingFence)

// ParseMetadata reads a fixture from r and parses the metadata block that
// sits between the sentinel prefix and the first closing fence line.
func ParseMetadata(r io.Reader) (*Metadata, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	// The sentinel spans the first two lines.
	var header []string
	for len(header) < 2 && scanner.Scan() {
		header = append(header, scanner.Text())
	}
	if strings.Join(header, "\n")+"\n" != Prefix {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("missing %q prefix", Prefix)
	}

	var block strings.Builder
	closed := false
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == closingFence {
			closed = true
			break
		}
		block.WriteString(line)
		block.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !closed {
		return nil, errNoClosingFence
	}

	var raw rawMetadata
	md, err := toml.Decode(block.String(), &raw)
	if err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	for _, key := range []string{"test_type", "expected_analyzers"} {
		if !md.IsDefined(key) {
			return nil, fmt.Errorf("missing required key %q", key)
		}
	}

	testType, err := ParseTestType(raw.TestType)
	if err != nil {
		return nil, err
	}

	expected := make(map[string]struct{}, len(raw.ExpectedAnalyzers))
	for i, kind := range raw.ExpectedAnalyzers {
		if strings.TrimSpace(kind) == "" {
			return nil, fmt.Errorf("expected_analyzers entry %d is empty", i)
		}
		expected[kind] = struct{}{}
	}
	return &Metadata{TestType: testType, ExpectedAnalyzers: expected}, nil
}
