package repair

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"specforge/internal/compliance"
	"specforge/internal/ir"
	"specforge/internal/tree"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTree(t *testing.T, files map[string]string) *tree.FileTree {
	t.Helper()
	ft, err := tree.New(t.TempDir())
	require.NoError(t, err)
	for path, content := range files {
		require.NoError(t, ft.Write(path, []byte(content)))
		require.NoError(t, ft.Invalidate(path))
	}
	return ft
}

const priceNoConstraint = `package models

type Product struct {
	Name  string  ` + "`json:\"name\" validate:\"required\"`" + `
	Price float64 ` + "`json:\"price\"`" + `
}
`

func productIR() *ir.ApplicationIR {
	return &ir.ApplicationIR{
		Name: "shop",
		Domain: ir.DomainModel{Entities: []ir.Entity{{
			Name: "product",
			Attributes: []ir.Attribute{
				{Name: "name", Type: ir.TypeString, Constraints: []ir.Constraint{{Kind: ir.KindRequired}}},
				{Name: "price", Type: ir.TypeDecimal, Constraints: []ir.Constraint{{Kind: ir.KindGT, Param: "0"}}},
			},
		}}},
		API: ir.APIModel{Endpoints: []ir.Endpoint{
			{Method: "GET", Path: "/products", Entity: "product", Operation: "list"},
		}},
	}
}

func TestAddConstraintAppendsDirective(t *testing.T) {
	ft := newTree(t, map[string]string{"models/product.go": priceNoConstraint})
	gap := compliance.Gap{
		Kind: compliance.GapMissingConstraint, Entity: "product", Attribute: "price",
		Constraint: ir.Constraint{Kind: ir.KindGT, Param: "0"},
	}

	outcome, err := (&AddConstraint{}).Apply(context.Background(), productIR(), gap, ft)
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
	assert.Equal(t, []string{"models/product.go"}, outcome.Files)

	require.NoError(t, ft.Invalidate("models/product.go"))
	content, err := ft.Read("models/product.go")
	require.NoError(t, err)
	assert.Contains(t, string(content), `json:"price" validate:"gt=0"`)
}

func TestAddConstraintExtendsExistingTag(t *testing.T) {
	withRequired := `package models

type Product struct {
	Price float64 ` + "`json:\"price\" validate:\"required\"`" + `
}
`
	ft := newTree(t, map[string]string{"models/product.go": withRequired})
	gap := compliance.Gap{
		Kind: compliance.GapMissingConstraint, Entity: "product", Attribute: "price",
		Constraint: ir.Constraint{Kind: ir.KindGT, Param: "0"},
	}

	outcome, err := (&AddConstraint{}).Apply(context.Background(), productIR(), gap, ft)
	require.NoError(t, err)
	assert.True(t, outcome.Applied)

	require.NoError(t, ft.Invalidate("models/product.go"))
	content, err := ft.Read("models/product.go")
	require.NoError(t, err)
	assert.Contains(t, string(content), `validate:"required,gt=0"`)
}

func TestAddConstraintRejectsUnknownKind(t *testing.T) {
	ft := newTree(t, map[string]string{"models/product.go": priceNoConstraint})
	gap := compliance.Gap{
		Kind: compliance.GapMissingConstraint, Entity: "product", Attribute: "price",
		Constraint: ir.Constraint{Kind: ir.KindImmutable},
	}

	outcome, err := (&AddConstraint{}).Apply(context.Background(), productIR(), gap, ft)
	require.NoError(t, err)
	assert.False(t, outcome.Applied)
	assert.Contains(t, outcome.SkipReason, "not supported")
}

func TestAddConstraintRejectsPlaceholderParameter(t *testing.T) {
	ft := newTree(t, map[string]string{"models/product.go": priceNoConstraint})
	gap := compliance.Gap{
		Kind: compliance.GapMissingConstraint, Entity: "product", Attribute: "price",
		Constraint: ir.Constraint{Kind: ir.KindGTE, Param: "{{lower_bound}}"},
	}

	outcome, err := (&AddConstraint{}).Apply(context.Background(), productIR(), gap, ft)
	require.NoError(t, err)
	assert.False(t, outcome.Applied, "a literal placeholder must never be written into a tag")
	assert.Contains(t, outcome.SkipReason, "numeric")

	content, err := ft.Read("models/product.go")
	require.NoError(t, err)
	assert.NotContains(t, string(content), "{{lower_bound}}")
}

func TestAddConstraintReportsExistingDirective(t *testing.T) {
	withGT := `package models

type Product struct {
	Price float64 ` + "`json:\"price\" validate:\"gt=0\"`" + `
}
`
	ft := newTree(t, map[string]string{"models/product.go": withGT})
	gap := compliance.Gap{
		Kind: compliance.GapMissingConstraint, Entity: "product", Attribute: "price",
		Constraint: ir.Constraint{Kind: ir.KindGT, Param: "0"},
	}

	outcome, err := (&AddConstraint{}).Apply(context.Background(), productIR(), gap, ft)
	require.NoError(t, err)
	assert.False(t, outcome.Applied)
	assert.Contains(t, outcome.SkipReason, "already present")
}

func TestFixDefaultReportsMatchingValue(t *testing.T) {
	withDefault := `package models

type Product struct {
	Quantity int ` + "`json:\"quantity\" default:\"0\"`" + `
}
`
	ft := newTree(t, map[string]string{"models/product.go": withDefault})
	gap := compliance.Gap{
		Kind: compliance.GapWrongDefault, Entity: "product", Attribute: "quantity",
		Expected: "0",
	}

	outcome, err := (&FixDefault{}).Apply(context.Background(), productIR(), gap, ft)
	require.NoError(t, err)
	assert.False(t, outcome.Applied)
	assert.Contains(t, outcome.SkipReason, "already")
}

func TestAddConstraintMissingField(t *testing.T) {
	ft := newTree(t, map[string]string{"models/product.go": priceNoConstraint})
	gap := compliance.Gap{
		Kind: compliance.GapMissingConstraint, Entity: "product", Attribute: "weight",
		Constraint: ir.Constraint{Kind: ir.KindGT, Param: "0"},
	}

	outcome, err := (&AddConstraint{}).Apply(context.Background(), productIR(), gap, ft)
	require.NoError(t, err)
	assert.False(t, outcome.Applied)
	assert.Contains(t, outcome.SkipReason, "weight")
}

func TestFixDefaultRewritesValue(t *testing.T) {
	withDefault := `package models

type Product struct {
	Quantity int ` + "`json:\"quantity\" default:\"1\"`" + `
}
`
	ft := newTree(t, map[string]string{"models/product.go": withDefault})
	gap := compliance.Gap{
		Kind: compliance.GapWrongDefault, Entity: "product", Attribute: "quantity",
		Expected: "0", Actual: "1",
	}

	outcome, err := (&FixDefault{}).Apply(context.Background(), productIR(), gap, ft)
	require.NoError(t, err)
	assert.True(t, outcome.Applied)

	require.NoError(t, ft.Invalidate("models/product.go"))
	content, err := ft.Read("models/product.go")
	require.NoError(t, err)
	assert.Contains(t, string(content), `default:"0"`)
	assert.NotContains(t, string(content), `default:"1"`)
}

func TestFixDefaultInsertsMissingTag(t *testing.T) {
	ft := newTree(t, map[string]string{"models/product.go": priceNoConstraint})
	gap := compliance.Gap{
		Kind: compliance.GapWrongDefault, Entity: "product", Attribute: "price",
		Expected: "9.99",
	}

	outcome, err := (&FixDefault{}).Apply(context.Background(), productIR(), gap, ft)
	require.NoError(t, err)
	assert.True(t, outcome.Applied)

	require.NoError(t, ft.Invalidate("models/product.go"))
	content, err := ft.Read("models/product.go")
	require.NoError(t, err)
	assert.Contains(t, string(content), `json:"price" default:"9.99"`)
}

func TestAddEntityCreatesModelFile(t *testing.T) {
	ft := newTree(t, nil)
	gap := compliance.Gap{Kind: compliance.GapMissingEntity, Entity: "product"}

	outcome, err := (&AddEntity{}).Apply(context.Background(), productIR(), gap, ft)
	require.NoError(t, err)
	assert.True(t, outcome.Applied)

	require.NoError(t, ft.Invalidate("models/product.go"))
	content, err := ft.Read("models/product.go")
	require.NoError(t, err)
	assert.Contains(t, string(content), "type Product struct")
	assert.Contains(t, string(content), `validate:"gt=0"`)
}

func TestAddEntityRefusesToClobber(t *testing.T) {
	ft := newTree(t, map[string]string{"models/product.go": "package models\n\n// hand-written\n"})
	gap := compliance.Gap{Kind: compliance.GapMissingEntity, Entity: "product"}

	outcome, err := (&AddEntity{}).Apply(context.Background(), productIR(), gap, ft)
	require.NoError(t, err)
	assert.False(t, outcome.Applied)
	assert.Contains(t, outcome.SkipReason, "already exists")
}

func TestAddEndpointRegistersRoute(t *testing.T) {
	routes := `package main

import "net/http"

func registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /products", productList)
}

func productList(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotImplemented)
}
`
	ft := newTree(t, map[string]string{"routes.go": routes})
	ep := ir.Endpoint{Method: "POST", Path: "/products", Entity: "product", Operation: "create"}
	gap := compliance.Gap{Kind: compliance.GapMissingEndpoint, Entity: "product", Endpoint: &ep}

	outcome, err := (&AddEndpoint{}).Apply(context.Background(), productIR(), gap, ft)
	require.NoError(t, err)
	assert.True(t, outcome.Applied)

	require.NoError(t, ft.Invalidate("routes.go"))
	content, err := ft.Read("routes.go")
	require.NoError(t, err)
	assert.Contains(t, string(content), `mux.HandleFunc("POST /products", productCreate)`)
	assert.Contains(t, string(content), "func productCreate(w http.ResponseWriter, r *http.Request)")
}

func TestAddEndpointRejectsInvalidTargetEntity(t *testing.T) {
	ft := newTree(t, nil)
	ep := ir.Endpoint{
		Method: "POST", Path: "/carts/{id}/checkout",
		Entity: "cart", Operation: "checkout",
		Inferred: true, ValidEntities: []string{"cart"},
	}
	gap := compliance.Gap{Kind: compliance.GapMissingEndpoint, Entity: "product", Endpoint: &ep}

	outcome, err := (&AddEndpoint{}).Apply(context.Background(), productIR(), gap, ft)
	require.NoError(t, err)
	assert.False(t, outcome.Applied, "checkout must never be created under product")
	assert.Contains(t, outcome.SkipReason, "valid target set")
	assert.False(t, ft.Exists("routes.go"))
}

func TestStrategyForWrongTypeHasNoStrategy(t *testing.T) {
	_, ok := StrategyFor(compliance.GapWrongType)
	assert.False(t, ok)
}
