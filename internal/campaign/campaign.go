package campaign

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/rudra-tools/rudratest/pkg/reconcile"
	"github.com/rudra-tools/rudratest/pkg/report"
)

// lockFile marks a work directory as owned by a running campaign.
const lockFile = ".rudratest.lock"

// PackageAnalyzer produces the library report of a package root.
// *invoke.Invoker satisfies it.
type PackageAnalyzer interface {
	AnalyzePackage(ctx context.Context, dir, name string) (*report.Report, error)
}

// Options configures a Runner.
type Options struct {
	// WorkDir receives the downloaded packages. When empty a temporary
	// directory is used and removed afterwards.
	WorkDir string
}

// Runner checks the crates of a descriptor one at a time.
type Runner struct {
	analyzer PackageAnalyzer
	fetcher  Fetcher
	opts     Options
}

// NewRunner creates a Runner.
func NewRunner(analyzer PackageAnalyzer, fetcher Fetcher, opts Options) *Runner {
	return &Runner{analyzer: analyzer, fetcher: fetcher, opts: opts}
}

// CrateFailure records a crate that could not be fetched or analyzed.
type CrateFailure struct {
	Crate   string
	Version string
	Err     error
}

// Result collects everything missing across a campaign.
type Result struct {
	Missing  []reconcile.Missing
	Failures []CrateFailure
}

// OK reports whether every expected diagnostic was found.
func (r *Result) OK() bool {
	return len(r.Missing) == 0 && len(r.Failures) == 0
}

// Write prints SUCCESS or the full list of what went missing.
func (r *Result) Write(w io.Writer) {
	if r.OK() {
		fmt.Fprintln(w, "SUCCESS")
		return
	}
	if len(r.Missing) > 0 {
		fmt.Fprintln(w, "MISSING REPORTS")
		for _, m := range r.Missing {
			fmt.Fprintln(w, m)
		}
	}
	if len(r.Failures) > 0 {
		fmt.Fprintln(w, "FAILED CRATES")
		for _, f := range r.Failures {
			fmt.Fprintf(w, "%s %s: %v\n", f.Crate, f.Version, f.Err)
		}
	}
}

// Run fetches and analyzes every crate of d in order. A crate that fails to
// download or analyze is recorded and the campaign moves on. The returned
// error is reserved for problems that stop the whole campaign.
func (r *Runner) Run(ctx context.Context, d *Descriptor) (*Result, error) {
	workDir := r.opts.WorkDir
	if workDir == "" {
		tmp, err := os.MkdirTemp("", "rudra-campaign-*")
		if err != nil {
			return nil, fmt.Errorf("create work directory: %w", err)
		}
		defer os.RemoveAll(tmp)
		workDir = tmp
	} else if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}

	lock := flock.New(filepath.Join(workDir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock work directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("work directory %s is in use by another campaign", workDir)
	}
	defer lock.Unlock()

	res := &Result{}
	for _, c := range d.Crates {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		missing, err := r.checkCrate(ctx, workDir, c)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, errors.Join(ctxErr, err)
			}
			slog.Error("crate check failed", "crate", c.Name, "version", c.Version, "err", err)
			res.Failures = append(res.Failures, CrateFailure{Crate: c.Name, Version: c.Version, Err: err})
			continue
		}
		slog.Info("crate checked", "crate", c.Name, "version", c.Version,
			"expected", len(c.ExpectedReports), "missing", len(missing))
		res.Missing = append(res.Missing, missing...)
	}
	return res, nil
}

func (r *Runner) checkCrate(ctx context.Context, workDir string, c Crate) ([]reconcile.Missing, error) {
	dest := filepath.Join(workDir, c.Name+"-"+c.Version)
	if err := os.RemoveAll(dest); err != nil {
		return nil, err
	}

	root, err := r.fetcher.Fetch(ctx, c.Name, c.Version, dest)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	rep, err := r.analyzer.AnalyzePackage(ctx, root, c.Name)
	if err != nil {
		return nil, err
	}
	return reconcile.PairMembership(c.Name, c.Expected(), rep), nil
}
