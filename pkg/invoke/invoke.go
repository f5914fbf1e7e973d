// Package invoke runs the external analyzer as a subprocess and reads back the
// report it writes.
//
// An invocation has three phases: reserve a unique report destination, run
// the analyzer with the destination named in its environment, then read the
// destination back. The destination is passed through the child's
// environment only, so concurrent invocations never share state.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/rudra-tools/rudratest/pkg/report"
)

// DefaultReportEnv is the environment variable the analyzer reads its report
// destination from.
const DefaultReportEnv = "RUDRA_REPORT_PATH"

// Options configures an Invoker.
type Options struct {
	// Command is the analyzer executable.
	Command string

	// Args are fixed arguments placed before the per-invocation ones.
	Args []string

	// Dir is the default working directory of the subprocess.
	Dir string

	// Env holds extra KEY=VALUE entries layered over the current environment.
	Env []string

	// ReportEnv names the report destination variable.
	// Defaults to DefaultReportEnv.
	ReportEnv string

	// TempDir is where report destinations are created.
	// Defaults to os.TempDir().
	TempDir string

	// Timeout bounds a single subprocess run. Zero disables it.
	Timeout time.Duration
}

// Invoker runs the analyzer. It is safe for concurrent use.
type Invoker struct {
	opts Options

	// issued records every destination handed out by this invoker.
	issued *xsync.Map[string, struct{}]
}

// New creates an Invoker.
func New(opts Options) (*Invoker, error) {
	if strings.TrimSpace(opts.Command) == "" {
		return nil, errors.New("analyzer command is empty")
	}
	if opts.ReportEnv == "" {
		opts.ReportEnv = DefaultReportEnv
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if info, err := os.Stat(opts.TempDir); err != nil {
		return nil, fmt.Errorf("report directory: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("report directory %s is not a directory", opts.TempDir)
	}
	return &Invoker{
		opts:   opts,
		issued: xsync.NewMap[string, struct{}](),
	}, nil
}

// Destination reserves a fresh report path and creates it as an empty file,
// so a run that finds nothing reads back as an empty report.
func (inv *Invoker) Destination() (string, error) {
	for {
		path := filepath.Join(inv.opts.TempDir, "rudra-"+uuid.NewString())
		if _, loaded := inv.issued.LoadOrStore(path, struct{}{}); loaded {
			continue
		}
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create report destination: %w", err)
		}
		return path, f.Close()
	}
}

// Issued returns the number of destinations handed out so far.
func (inv *Invoker) Issued() int {
	return inv.issued.Size()
}

// Run executes the analyzer in dir (or the configured directory when dir is
// empty) with dest exported through the report variable. A non-zero exit or
// a timeout yields *ProcessError carrying the combined output.
func (inv *Invoker) Run(ctx context.Context, dest, dir string, args ...string) error {
	if inv.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.opts.Timeout)
		defer cancel()
	}

	argv := append(slices.Clone(inv.opts.Args), args...)
	cmd := exec.CommandContext(ctx, inv.opts.Command, argv...)
	cmd.Dir = inv.opts.Dir
	if dir != "" {
		cmd.Dir = dir
	}
	setProcessGroup(cmd)
	cmd.WaitDelay = 5 * time.Second

	env := os.Environ()
	for _, kv := range inv.opts.Env {
		key, value, _ := strings.Cut(kv, "=")
		env = updateEnv(env, key, value)
	}
	cmd.Env = updateEnv(env, inv.opts.ReportEnv, dest)

	start := time.Now()
	out, err := cmd.CombinedOutput()
	slog.Debug("analyzer finished", "cmd", cmd.String(), "dir", cmd.Dir, "dur", time.Since(start), "err", err)
	if err == nil {
		return nil
	}

	pErr := &ProcessError{
		Command: cmd.String(),
		Output:  string(out),
		Err:     err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		pErr.ExitCode = exitErr.ExitCode()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		pErr.TimedOut = true
	}
	return pErr
}

// AnalyzeFile runs the analyzer on a single source file and returns the
// report it produced.
func (inv *Invoker) AnalyzeFile(ctx context.Context, path string) (*report.Report, error) {
	dest, err := inv.Destination()
	if err != nil {
		return nil, err
	}
	defer os.Remove(dest)

	if err := inv.Run(ctx, dest, "", path); err != nil {
		return nil, err
	}
	return readReport(dest)
}

// AnalyzePackage runs the analyzer in a package root. The analyzer writes the
// library report of package name to "<destination>-lib-<name>".
func (inv *Invoker) AnalyzePackage(ctx context.Context, dir, name string) (*report.Report, error) {
	dest, err := inv.Destination()
	if err != nil {
		return nil, err
	}
	libReport := PackageReportPath(dest, name)
	defer os.Remove(dest)
	defer os.Remove(libReport)

	if err := inv.Run(ctx, dest, dir); err != nil {
		return nil, err
	}
	return readReport(libReport)
}

// PackageReportPath returns where the analyzer writes the library report of
// package name for destination base.
func PackageReportPath(base, name string) string {
	return base + "-lib-" + name
}

func readReport(path string) (*report.Report, error) {
	r, err := report.ReadFile(path)
	if err != nil {
		return nil, &ReportError{Path: path, Err: err}
	}
	return r, nil
}

// updateEnv updates or adds an environment variable
func updateEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
