package harness

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rudra-tools/rudratest/pkg/fixture"
	"github.com/rudra-tools/rudratest/pkg/reconcile"
)

// Outcome classifies a fixture run.
type Outcome int

const (
	// Success means the reported kinds matched the expected kinds.
	Success Outcome = iota

	// Mismatch means the analyzer ran cleanly but reported different kinds.
	Mismatch

	// Failure means the harness could not classify the fixture: malformed
	// metadata, an analyzer crash, a missing or malformed report, or a panic.
	Failure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Mismatch:
		return "mismatch"
	case Failure:
		return "failure"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Verdict is the classified result of one fixture.
type Verdict struct {
	Fixture string

	// TestType is empty when the metadata could not be parsed.
	TestType fixture.TestType

	Outcome Outcome

	// Err explains a Mismatch or Failure.
	Err error
}

// OK reports whether the fixture passed.
func (v Verdict) OK() bool {
	return v.Outcome == Success
}

// Label returns the fixed-width status column printed for the verdict.
func (v Verdict) Label() string {
	switch {
	case v.Outcome == Success && v.TestType == fixture.FalsePositive:
		return "FALSE-POSITIVE"
	case v.Outcome == Success:
		return "SUCCESS"
	case v.Outcome == Mismatch:
		return "FAIL"
	}
	return "ERROR"
}

// Detail returns the failure explanation indented for display.
func (v Verdict) Detail() string {
	if v.Err == nil {
		return ""
	}
	lines := strings.Split(strings.TrimRight(v.Err.Error(), "\n"), "\n")
	return "    " + strings.Join(lines, "\n    ")
}

// classify builds the verdict of a fixture whose pipeline returned err.
func classify(path string, testType fixture.TestType, err error) Verdict {
	v := Verdict{Fixture: path, TestType: testType, Err: err}
	var mismatch *reconcile.Mismatch
	switch {
	case err == nil:
		v.Outcome = Success
	case errors.As(err, &mismatch):
		v.Outcome = Mismatch
	default:
		v.Outcome = Failure
	}
	return v
}
