package invoke

import (
	"fmt"
	"strings"
)

// ProcessError reports an analyzer run that exited non-zero or timed out.
type ProcessError struct {
	Command  string
	ExitCode int
	TimedOut bool

	// Output is the combined stdout and stderr of the run.
	Output string

	Err error
}

func (e *ProcessError) Error() string {
	var b strings.Builder
	if e.TimedOut {
		fmt.Fprintf(&b, "analyzer timed out: %s", e.Command)
	} else {
		fmt.Fprintf(&b, "analyzer failed (%v): %s", e.Err, e.Command)
	}
	if out := strings.TrimRight(e.Output, "\n"); out != "" {
		b.WriteString("\n")
		b.WriteString(out)
	}
	return b.String()
}

func (e *ProcessError) Unwrap() error { return e.Err }

// ReportError reports a missing or malformed report after a clean run.
type ReportError struct {
	Path string
	Err  error
}

func (e *ReportError) Error() string {
	return fmt.Sprintf("read report %s: %v", e.Path, e.Err)
}

func (e *ReportError) Unwrap() error { return e.Err }
