package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specforge/internal/compliance"
	"specforge/internal/ir"
	"specforge/internal/repair"
)

func newStore(t *testing.T) *RunStore {
	t.Helper()
	s, err := NewRunStore(filepath.Join(t.TempDir(), "runs.db"), uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReportRoundTrip(t *testing.T) {
	s := newStore(t)

	last, err := s.LastReport()
	require.NoError(t, err)
	assert.Nil(t, last, "no report recorded yet")

	report := &compliance.Report{
		GeneratedAt: time.Now(),
		Entities:    compliance.Tally{Present: 1, Total: 1},
		Endpoints:   compliance.Tally{Present: 1, Total: 2},
		Overall:     80,
		Gaps: []compliance.Gap{{
			Kind: compliance.GapMissingConstraint, Entity: "product", Attribute: "price",
			Constraint: ir.Constraint{Kind: ir.KindGT, Param: "0"},
		}},
	}
	require.NoError(t, s.RecordReport(report))

	report2 := &compliance.Report{GeneratedAt: time.Now(), Overall: 100}
	require.NoError(t, s.RecordReport(report2))

	last, err = s.LastReport()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 100.0, last.Overall, "latest report wins")
}

func TestAttemptRoundTrip(t *testing.T) {
	s := newStore(t)

	attempt := repair.Attempt{
		Gap: compliance.Gap{
			Kind: compliance.GapMissingConstraint, Entity: "product", Attribute: "price",
			Constraint: ir.Constraint{Kind: ir.KindGT, Param: "0"},
		},
		Signature: "missing_constraint(product,price,gt)",
		Strategy:  "AddConstraint",
		Applied:   true,
		Iteration: 1,
		At:        time.Now(),
	}
	require.NoError(t, s.RecordAttempt(attempt))
	require.NoError(t, s.RecordAttempt(repair.Attempt{
		Gap:        compliance.Gap{Kind: compliance.GapWrongType, Entity: "product", Attribute: "price"},
		Signature:  "wrong_type(product,price)",
		Strategy:   "none",
		SkipReason: "no repair strategy for gap kind wrong_type",
		Iteration:  1,
		At:         time.Now(),
	}))

	attempts, err := s.Attempts()
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.True(t, attempts[0].Applied)
	assert.Equal(t, "AddConstraint", attempts[0].Strategy)
	assert.Equal(t, ir.KindGT, attempts[0].Gap.Constraint.Kind)
	assert.False(t, attempts[1].Applied)
	assert.Contains(t, attempts[1].SkipReason, "no repair strategy")
}

func TestScoreTrajectory(t *testing.T) {
	s := newStore(t)

	for i, score := range []float64{60, 80, 95} {
		require.NoError(t, s.RecordIteration(repair.IterationLog{
			Index: i + 1, Before: score - 10, After: score, At: time.Now(),
		}))
	}

	scores, err := s.ScoreTrajectory()
	require.NoError(t, err)
	assert.Equal(t, []float64{60, 80, 95}, scores)
}

func TestLatestReportCrossesRuns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runs.db")

	a, err := NewRunStore(path, "run-a")
	require.NoError(t, err)
	require.NoError(t, a.RecordReport(&compliance.Report{GeneratedAt: time.Now(), Overall: 72}))
	require.NoError(t, a.Close())

	b, err := NewRunStore(path, "run-b")
	require.NoError(t, err)
	defer b.Close()

	last, err := b.LastReport()
	require.NoError(t, err)
	assert.Nil(t, last, "per-run view excludes other runs")

	latest, err := b.LatestReport()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 72.0, latest.Overall)
}

func TestRunsAreIsolated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runs.db")

	a, err := NewRunStore(path, "run-a")
	require.NoError(t, err)
	require.NoError(t, a.RecordIteration(repair.IterationLog{Index: 1, After: 50, At: time.Now()}))
	require.NoError(t, a.Close())

	b, err := NewRunStore(path, "run-b")
	require.NoError(t, err)
	defer b.Close()

	scores, err := b.ScoreTrajectory()
	require.NoError(t, err)
	assert.Empty(t, scores, "a new run sees none of the previous run's rows")
}
