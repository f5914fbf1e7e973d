package reconcile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rudra-tools/rudratest/pkg/report"
)

func reportOf(pairs ...report.Pair) *report.Report {
	r := &report.Report{}
	for _, p := range pairs {
		r.Diagnostics = append(r.Diagnostics, report.Diagnostic{Analyzer: p.Analyzer, Location: p.Location})
	}
	return r
}

func set(kinds ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		m[k] = struct{}{}
	}
	return m
}

func TestKindSet(t *testing.T) {
	tests := []struct {
		name           string
		expected       map[string]struct{}
		report         *report.Report
		wantMissing    []string
		wantUnexpected []string
	}{
		{
			name:     "exact_match_ignores_locations",
			expected: set("A", "B"),
			report: reportOf(
				report.Pair{Analyzer: "A", Location: "loc1"},
				report.Pair{Analyzer: "A", Location: "loc9"},
				report.Pair{Analyzer: "B", Location: "loc2"},
			),
		},
		{
			name:     "empty_expected_empty_report",
			expected: set(),
			report:   reportOf(),
		},
		{
			name:     "nil_report_counts_as_empty",
			expected: set(),
			report:   nil,
		},
		{
			name:     "extra_kind_is_a_mismatch",
			expected: set("A", "B"),
			report: reportOf(
				report.Pair{Analyzer: "A", Location: "loc1"},
				report.Pair{Analyzer: "B", Location: "loc2"},
				report.Pair{Analyzer: "C", Location: "loc3"},
			),
			wantUnexpected: []string{"C"},
		},
		{
			name:        "missing_kind",
			expected:    set("A", "B"),
			report:      reportOf(report.Pair{Analyzer: "A", Location: "loc1"}),
			wantMissing: []string{"B"},
		},
		{
			name:           "analyzer_fires_on_clean_fixture",
			expected:       set(),
			report:         reportOf(report.Pair{Analyzer: "SendSyncVariance", Location: "x"}),
			wantUnexpected: []string{"SendSyncVariance"},
		},
		{
			name:           "both_directions",
			expected:       set("A"),
			report:         reportOf(report.Pair{Analyzer: "B", Location: "x"}),
			wantMissing:    []string{"A"},
			wantUnexpected: []string{"B"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := KindSet(tt.expected, tt.report)
			if tt.wantMissing == nil && tt.wantUnexpected == nil {
				require.NoError(t, err)
				return
			}

			var mismatch *Mismatch
			require.True(t, errors.As(err, &mismatch))
			require.Equal(t, tt.wantMissing, mismatch.Missing)
			require.Equal(t, tt.wantUnexpected, mismatch.Unexpected)
		})
	}
}

func TestMismatch_ErrorListsBothSets(t *testing.T) {
	err := KindSet(set("A", "B"), reportOf(
		report.Pair{Analyzer: "A"},
		report.Pair{Analyzer: "B"},
		report.Pair{Analyzer: "C"},
	))
	require.EqualError(t, err,
		`analyzer set mismatch; expected ["A" "B"], reported ["A" "B" "C"] (missing [], unexpected ["C"])`)
}

func TestPairMembership(t *testing.T) {
	expected := []report.Pair{
		{Analyzer: "A", Location: "loc1"},
		{Analyzer: "B", Location: "loc2"},
	}

	t.Run("one_missing", func(t *testing.T) {
		missing := PairMembership("pkg", expected, reportOf(report.Pair{Analyzer: "A", Location: "loc1"}))
		require.Equal(t, []Missing{
			{Package: "pkg", Pair: report.Pair{Analyzer: "B", Location: "loc2"}},
		}, missing)
	})

	t.Run("superset_is_success", func(t *testing.T) {
		missing := PairMembership("pkg", expected, reportOf(
			report.Pair{Analyzer: "A", Location: "loc1"},
			report.Pair{Analyzer: "B", Location: "loc2"},
			report.Pair{Analyzer: "C", Location: "loc3"},
		))
		require.Empty(t, missing)
	})

	t.Run("location_must_match", func(t *testing.T) {
		missing := PairMembership("pkg", expected, reportOf(
			report.Pair{Analyzer: "A", Location: "loc1"},
			report.Pair{Analyzer: "B", Location: "elsewhere"},
		))
		require.Len(t, missing, 1)
		require.Equal(t, `("pkg", "B", "loc2")`, missing[0].String())
	})

	t.Run("nil_report_misses_everything", func(t *testing.T) {
		require.Len(t, PairMembership("pkg", expected, nil), 2)
	})
}

// The same diagnostics pass under one policy and fail under the other.
func TestPolicyAsymmetry(t *testing.T) {
	r := reportOf(
		report.Pair{Analyzer: "A", Location: "loc1"},
		report.Pair{Analyzer: "B", Location: "loc2"},
		report.Pair{Analyzer: "C", Location: "loc3"},
	)

	require.Error(t, KindSet(set("A", "B"), r))
	require.Empty(t, PairMembership("pkg", []report.Pair{
		{Analyzer: "A", Location: "loc1"},
		{Analyzer: "B", Location: "loc2"},
	}, r))
}
