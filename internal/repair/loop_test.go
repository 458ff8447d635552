package repair

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specforge/internal/compliance"
	"specforge/internal/config"
	"specforge/internal/extract"
	"specforge/internal/ir"
	"specforge/internal/matcher"
	"specforge/internal/tree"
)

func newLoop(t *testing.T, files map[string]string, cfg config.RepairConfig, opts ...Option) (*Loop, *tree.FileTree) {
	t.Helper()
	ft := newTree(t, files)
	m := matcher.New(nil, nil, 0.8, 0.5)
	v := compliance.NewValidator(ft, extract.New(ft), m,
		compliance.Weights{Entity: 0.3, Endpoint: 0.3, Constraint: 0.4})
	return NewLoop(v, ft, cfg, opts...), ft
}

const productRoutes = `package main

import "net/http"

func registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /products", productList)
}

func productList(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotImplemented)
}
`

func TestLoopConvergesAfterConstraintRepair(t *testing.T) {
	loop, ft := newLoop(t, map[string]string{
		"models/product.go": priceNoConstraint,
		"routes.go":         productRoutes,
	}, config.DefaultRepairConfig())

	result, err := loop.Run(context.Background(), productIR())
	require.NoError(t, err)

	assert.Equal(t, Converged, result.Terminal)
	require.Len(t, result.Iterations, 1)
	assert.Equal(t, 1, result.Iterations[0].Applied)
	assert.Greater(t, result.Iterations[0].Delta, 0.0)
	assert.NotEmpty(t, result.Iterations[0].Diffs)

	assert.Equal(t, 100.0, result.Final.RelaxedScore())
	assert.Equal(t, 100.0, result.Final.StrictScore())
	assert.Empty(t, result.Unresolved)

	content, err := ft.Read("models/product.go")
	require.NoError(t, err)
	assert.Contains(t, string(content), `validate:"gt=0"`)
}

func TestLoopAlreadyConverged(t *testing.T) {
	compliant := `package models

type Product struct {
	Name  string  ` + "`json:\"name\" validate:\"required\"`" + `
	Price float64 ` + "`json:\"price\" validate:\"gt=0\"`" + `
}
`
	loop, _ := newLoop(t, map[string]string{
		"models/product.go": compliant,
		"routes.go":         productRoutes,
	}, config.DefaultRepairConfig())

	result, err := loop.Run(context.Background(), productIR())
	require.NoError(t, err)
	assert.Equal(t, Converged, result.Terminal)
	assert.Empty(t, result.Iterations)
	assert.Empty(t, result.Attempts)
}

func TestLoopPlateausOnUnrepairableGap(t *testing.T) {
	app := productIR()
	// A placeholder parameter makes the constraint unrepairable; the
	// strategy declines it and the score cannot move.
	app.Domain.Entities[0].Attributes[1].Constraints = []ir.Constraint{
		{Kind: ir.KindGTE, Param: "{{lower_bound}}"},
	}

	loop, _ := newLoop(t, map[string]string{
		"models/product.go": priceNoConstraint,
		"routes.go":         productRoutes,
	}, config.DefaultRepairConfig())

	result, err := loop.Run(context.Background(), app)
	require.NoError(t, err)

	assert.Equal(t, Plateau, result.Terminal)
	assert.Len(t, result.Iterations, 2)

	require.NotEmpty(t, result.Unresolved)
	assert.Contains(t, result.Unresolved[0].SkipReason, "numeric")
}

func TestLoopExhaustsIterationBudget(t *testing.T) {
	cfg := config.DefaultRepairConfig()
	cfg.PlateauWindow = 10
	cfg.ConvergenceThreshold = 100

	app := productIR()
	app.Domain.Entities[0].Attributes[1].Constraints = []ir.Constraint{
		{Kind: ir.KindGTE, Param: "{{lower_bound}}"},
	}

	loop, _ := newLoop(t, map[string]string{
		"models/product.go": priceNoConstraint,
		"routes.go":         productRoutes,
	}, cfg)

	result, err := loop.Run(context.Background(), app)
	require.NoError(t, err)
	assert.Equal(t, Exhausted, result.Terminal)
	assert.Len(t, result.Iterations, cfg.MaxIterations)
}

func TestLoopNeverReappliesSameSignature(t *testing.T) {
	loop, _ := newLoop(t, map[string]string{
		"models/product.go": priceNoConstraint,
		"routes.go":         productRoutes,
	}, config.DefaultRepairConfig())

	gap := compliance.Gap{
		Kind: compliance.GapMissingConstraint, Entity: "product", Attribute: "price",
		Constraint: ir.Constraint{Kind: ir.KindGT, Param: "0"},
	}
	ctx := context.Background()

	outcome, attempted, err := loop.applyOne(ctx, productIR(), gap, 1)
	require.NoError(t, err)
	assert.True(t, attempted)
	assert.True(t, outcome.Applied)

	// The same signature in a later iteration must be refused even if
	// the gap resurfaces.
	outcome, attempted, err = loop.applyOne(ctx, productIR(), gap, 2)
	require.NoError(t, err)
	assert.True(t, attempted)
	assert.False(t, outcome.Applied)

	attempts := loop.ledger.Attempts()
	require.Len(t, attempts, 2)
	assert.Contains(t, attempts[1].SkipReason, "already applied")
}

func TestLoopSkipNotRetriedButSurfaced(t *testing.T) {
	loop, _ := newLoop(t, map[string]string{
		"models/product.go": priceNoConstraint,
		"routes.go":         productRoutes,
	}, config.DefaultRepairConfig())

	gap := compliance.Gap{
		Kind: compliance.GapMissingConstraint, Entity: "product", Attribute: "price",
		Constraint: ir.Constraint{Kind: ir.KindImmutable},
	}
	ctx := context.Background()

	_, attempted, err := loop.applyOne(ctx, productIR(), gap, 1)
	require.NoError(t, err)
	assert.True(t, attempted)

	_, attempted, err = loop.applyOne(ctx, productIR(), gap, 2)
	require.NoError(t, err)
	assert.False(t, attempted, "a skip is not retried with the same strategy")

	assert.Len(t, loop.ledger.Attempts(), 1)
	assert.Len(t, loop.ledger.Unresolved(), 1)
}

func TestLoopMonotonicNonRegression(t *testing.T) {
	loop, _ := newLoop(t, map[string]string{
		"models/product.go": priceNoConstraint,
		"routes.go":         productRoutes,
	}, config.DefaultRepairConfig())

	result, err := loop.Run(context.Background(), productIR())
	require.NoError(t, err)

	for _, it := range result.Iterations {
		assert.GreaterOrEqual(t, it.After, it.Before,
			"iteration %d regressed the score", it.Index)
	}
}

func TestLoopRepairsMissingEntityThenConstraints(t *testing.T) {
	cfg := config.DefaultRepairConfig()
	loop, ft := newLoop(t, map[string]string{"routes.go": productRoutes}, cfg)

	result, err := loop.Run(context.Background(), productIR())
	require.NoError(t, err)

	assert.Equal(t, Converged, result.Terminal)
	content, err := ft.Read("models/product.go")
	require.NoError(t, err)
	assert.Contains(t, string(content), "type Product struct")
	assert.Equal(t, 100.0, result.Final.EntityScore())
	assert.Equal(t, 100.0, result.Final.RelaxedScore())
}

func TestLoopWrongTypeSurfacedAsUnresolved(t *testing.T) {
	drifted := `package models

type Product struct {
	Name  string ` + "`json:\"name\" validate:\"required\"`" + `
	Price int    ` + "`json:\"price\"`" + `
}
`
	loop, _ := newLoop(t, map[string]string{
		"models/product.go": drifted,
		"routes.go":         productRoutes,
	}, config.DefaultRepairConfig())

	result, err := loop.Run(context.Background(), productIR())
	require.NoError(t, err)

	// The constraint repair converges the score, but the type drift has
	// no strategy; it stays on record, never silently dropped.
	assert.Equal(t, Converged, result.Terminal)
	require.NotEmpty(t, result.Unresolved)
	assert.Equal(t, "none", result.Unresolved[0].Strategy)
	assert.Equal(t, compliance.GapWrongType, result.Unresolved[0].Gap.Kind)
}

type cancellingRecorder struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

func (c *cancellingRecorder) RecordAttempt(Attempt) error { return nil }
func (c *cancellingRecorder) RecordReport(*compliance.Report) error {
	return nil
}
func (c *cancellingRecorder) RecordIteration(IterationLog) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel()
	return nil
}

func TestLoopCancellationBetweenIterations(t *testing.T) {
	cfg := config.DefaultRepairConfig()
	cfg.PlateauWindow = 10
	cfg.ConvergenceThreshold = 100

	app := productIR()
	app.Domain.Entities[0].Attributes[1].Constraints = []ir.Constraint{
		{Kind: ir.KindGTE, Param: "{{lower_bound}}"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &cancellingRecorder{cancel: cancel}

	loop, _ := newLoop(t, map[string]string{
		"models/product.go": priceNoConstraint,
		"routes.go":         productRoutes,
	}, cfg, WithRecorder(rec))

	result, err := loop.Run(ctx, app)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, result.Iterations, 1, "cancellation stops the loop at the iteration boundary")
	assert.NotEmpty(t, result.Attempts, "attempts made before cancellation stay recorded")
}
