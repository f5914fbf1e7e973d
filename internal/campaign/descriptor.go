// Package campaign runs the analyzer over published packages and checks that
// every known diagnostic is still reported at its exact location.
package campaign

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/blang/semver/v4"

	"github.com/rudra-tools/rudratest/pkg/report"
)

// Descriptor lists the packages of a campaign.
type Descriptor struct {
	Crates []Crate `toml:"crates"`
}

// Crate is a published package and the diagnostics it must produce.
type Crate struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`

	// ExpectedReports holds [analyzer, location] pairs.
	ExpectedReports [][]string `toml:"expected_reports"`
}

// Expected returns the expected diagnostics as pairs.
func (c Crate) Expected() []report.Pair {
	pairs := make([]report.Pair, 0, len(c.ExpectedReports))
	for _, r := range c.ExpectedReports {
		pairs = append(pairs, report.Pair{Analyzer: r[0], Location: r[1]})
	}
	return pairs
}

// LoadDescriptor reads and validates the descriptor at path.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	d, err := ParseDescriptor(data)
	if err != nil {
		return nil, fmt.Errorf("descriptor %s: %w", path, err)
	}
	return d, nil
}

// ParseDescriptor decodes and validates a TOML descriptor.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	if _, err := toml.Decode(string(data), &d); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func (d *Descriptor) validate() error {
	if len(d.Crates) == 0 {
		return errors.New("no crates listed")
	}
	seen := make(map[string]bool, len(d.Crates))
	for i, c := range d.Crates {
		if c.Name == "" || strings.ContainsAny(c.Name, `/\`) || c.Name == "." || c.Name == ".." {
			return fmt.Errorf("crate %d: invalid name %q", i, c.Name)
		}
		if _, err := semver.Parse(c.Version); err != nil {
			return fmt.Errorf("crate %s: invalid version %q: %w", c.Name, c.Version, err)
		}
		key := c.Name + "@" + c.Version
		if seen[key] {
			return fmt.Errorf("crate %s listed twice", key)
		}
		seen[key] = true
		for j, r := range c.ExpectedReports {
			if len(r) != 2 || strings.TrimSpace(r[0]) == "" {
				return fmt.Errorf("crate %s: expected_reports entry %d must be [analyzer, location]", c.Name, j)
			}
		}
	}
	return nil
}
