// Package harness runs the analyzer over a fixture corpus, reconciles each
// report against the fixture's expectations, and tallies the verdicts.
package harness

import (
	"context"
	"iter"
	"log/slog"

	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/errgroup"

	"github.com/rudra-tools/rudratest/pkg/fixture"
	"github.com/rudra-tools/rudratest/pkg/reconcile"
	"github.com/rudra-tools/rudratest/pkg/report"
)

// DefaultWorkers is the default size of the worker pool.
const DefaultWorkers = 16

// Analyzer produces the report for a single fixture file.
// *invoke.Invoker satisfies it.
type Analyzer interface {
	AnalyzeFile(ctx context.Context, path string) (*report.Report, error)
}

// Options configures a Harness.
type Options struct {
	// Workers bounds the number of fixtures analyzed at once.
	// Values below 1 mean DefaultWorkers.
	Workers int
}

// Harness schedules fixture runs over a bounded worker pool.
type Harness struct {
	analyzer Analyzer
	workers  int
}

// New creates a Harness that analyzes fixtures with analyzer.
func New(analyzer Analyzer, opts Options) *Harness {
	workers := opts.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Harness{analyzer: analyzer, workers: workers}
}

// Run analyzes every fixture in fixtures and passes each verdict to record as
// soon as it is ready. Verdicts arrive in completion order and record may be
// called from several goroutines at once.
//
// Run blocks until all scheduled fixtures have completed and returns how many
// were scheduled. When ctx is cancelled no further fixtures are scheduled and
// ctx's error is returned after the running ones finish.
func (h *Harness) Run(ctx context.Context, fixtures iter.Seq[*fixture.Fixture], record func(Verdict)) (int, error) {
	var g errgroup.Group
	g.SetLimit(h.workers)

	scheduled := 0
	for f := range fixtures {
		if ctx.Err() != nil {
			break
		}
		scheduled++
		g.Go(func() error {
			record(h.runFixture(ctx, f))
			return nil
		})
	}
	_ = g.Wait()

	slog.Debug("fixture runs completed", "scheduled", scheduled, "workers", h.workers)
	return scheduled, ctx.Err()
}

// runFixture never panics: a panic anywhere in the pipeline becomes a
// Failure verdict for this fixture.
func (h *Harness) runFixture(ctx context.Context, f *fixture.Fixture) Verdict {
	var (
		testType fixture.TestType
		err      error
	)
	if recovered := panics.Try(func() {
		err = h.pipeline(ctx, f, &testType)
	}); recovered != nil {
		slog.Error("fixture pipeline panicked", "fixture", f.Path, "panic", recovered.Value)
		return Verdict{Fixture: f.Path, TestType: testType, Outcome: Failure, Err: recovered.AsError()}
	}
	return classify(f.Path, testType, err)
}

// pipeline stores the test type as soon as it is known so that a later panic
// is still counted under it.
func (h *Harness) pipeline(ctx context.Context, f *fixture.Fixture, testType *fixture.TestType) error {
	md, err := f.Metadata()
	if err != nil {
		return err
	}
	*testType = md.TestType

	r, err := h.analyzer.AnalyzeFile(ctx, f.Path)
	if err != nil {
		return err
	}
	return reconcile.KindSet(md.ExpectedAnalyzers, r)
}
