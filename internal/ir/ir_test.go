package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shopRequirements = `
app: shop
version: "1.0"
entities:
  - name: Product
    attributes:
      - name: id
        type: uuid
        constraints: [required, uuid]
      - name: price
        type: decimal
        constraints: [positive]
      - name: tags
        type: has_many
        target: Tag
  - name: Cart
    attributes:
      - name: id
        type: uuid
        constraints: [required]
      - name: total
        type: decimal
        constraints:
          gte: 0
  - name: Tag
    attributes:
      - name: name
        type: string
        constraints: [required]
endpoints:
  - method: GET
    path: /products/{id}
    entity: Product
    operation: show
  - method: POST
    path: /products
    entity: Product
    operation: create
flows:
  - name: checkout
    steps:
      - action: add_item
        entity: Cart
      - action: checkout
        entity: Cart
`

func TestBuildIR(t *testing.T) {
	app, err := BuildIR([]byte(shopRequirements))
	require.NoError(t, err)
	require.NoError(t, app.Complete())

	assert.Equal(t, "shop", app.Name)
	require.Len(t, app.Domain.Entities, 3)

	product := app.Domain.Entity("product")
	require.NotNil(t, product)

	price := product.Attribute("price")
	require.NotNil(t, price)
	require.Len(t, price.Constraints, 1)
	assert.Equal(t, KindGT, price.Constraints[0].Kind)
	assert.Equal(t, "0", price.Constraints[0].Param)

	tags := product.Attribute("tags")
	require.NotNil(t, tags)
	assert.True(t, tags.IsRelationship())

	// Mapping-form constraints normalize the same as sequence-form.
	cart := app.Domain.Entity("Cart")
	total := cart.Attribute("total")
	require.Len(t, total.Constraints, 1)
	assert.Equal(t, KindGTE, total.Constraints[0].Kind)
}

func TestBuildIR_InfersFlowOperations(t *testing.T) {
	app, err := BuildIR([]byte(shopRequirements))
	require.NoError(t, err)

	var inferred []Endpoint
	for _, ep := range app.API.Endpoints {
		if ep.Inferred {
			inferred = append(inferred, ep)
		}
	}
	require.Len(t, inferred, 2)

	var checkout *Endpoint
	for i := range inferred {
		if inferred[i].Operation == "checkout" {
			checkout = &inferred[i]
		}
	}
	require.NotNil(t, checkout)
	assert.Equal(t, "Cart", checkout.Entity)
	assert.Equal(t, "/carts/{id}/checkout", checkout.Path)

	// The checkout operation must never be attached to an entity outside the
	// flow's entity set.
	assert.True(t, checkout.TargetsEntity("Cart"))
	assert.False(t, checkout.TargetsEntity("Product"))
}

func TestBuildIR_RejectsUnbalancedPath(t *testing.T) {
	bad := `
app: shop
entities:
  - name: Product
    attributes:
      - name: id
        type: uuid
endpoints:
  - method: GET
    path: /products/{id
    entity: Product
    operation: show
`
	_, err := BuildIR([]byte(bad))
	require.Error(t, err)
}

func TestComplete_ReportsMissingSections(t *testing.T) {
	app := &ApplicationIR{Name: "x"}
	require.Error(t, app.Complete())
}

func TestCacheKey_ChangesWithSpecContent(t *testing.T) {
	a := CacheKey([]byte("spec one"))
	b := CacheKey([]byte("spec two"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, CacheKey([]byte("spec one")))
}
