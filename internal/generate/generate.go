// Package generate renders an application IR into Go source files:
// one model file per entity with validator tags, a route table, and a
// minimal server entrypoint.
package generate

import (
	"context"
	"fmt"
	"strings"

	"specforge/internal/ir"
	"specforge/internal/logging"
)

// Generator renders an IR into a set of files keyed by tree-relative
// path.
type Generator interface {
	Generate(ctx context.Context, app *ir.ApplicationIR) (map[string][]byte, error)
}

// TemplateGenerator is the default Generator.
type TemplateGenerator struct{}

// NewTemplateGenerator creates the default generator.
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

// Generate renders all files for the application.
func (g *TemplateGenerator) Generate(ctx context.Context, app *ir.ApplicationIR) (map[string][]byte, error) {
	timer := logging.StartTimer(logging.CategoryGeneration, "Generate")
	defer timer.Stop()

	if err := app.Complete(); err != nil {
		return nil, fmt.Errorf("cannot generate from incomplete IR: %w", err)
	}

	files := make(map[string][]byte)
	for _, entity := range app.Domain.Entities {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := fmt.Sprintf("models/%s.go", ir.ToSnakeCase(entity.Name))
		content, err := RenderModel(entity)
		if err != nil {
			return nil, fmt.Errorf("failed to render model %s: %w", entity.Name, err)
		}
		files[path] = content
	}

	routes, err := RenderRoutes(app.API.Endpoints)
	if err != nil {
		return nil, fmt.Errorf("failed to render routes: %w", err)
	}
	files["routes.go"] = routes
	files["main.go"] = renderMain(app.Name)

	logging.Generation("generated %d files for %s", len(files), app.Name)
	return files, nil
}

// GoTypeFor maps an IR data type to the Go type used in generated
// models. Relationship types map to the representation of their key.
func GoTypeFor(t ir.DataType) string {
	switch t {
	case ir.TypeString, ir.TypeText, ir.TypeUUID:
		return "string"
	case ir.TypeInt:
		return "int"
	case ir.TypeFloat, ir.TypeDecimal:
		return "float64"
	case ir.TypeBool:
		return "bool"
	case ir.TypeTime:
		return "time.Time"
	case ir.TypeJSON:
		return "map[string]interface{}"
	case ir.TypeBelongsTo:
		return "string"
	default:
		return "string"
	}
}

// RenderValidateTag renders constraints into a validator tag value.
// Structural constraints that have no validator directive are omitted.
func RenderValidateTag(constraints []ir.Constraint) string {
	var parts []string
	for _, c := range constraints {
		switch c.Kind {
		case ir.KindUnique, ir.KindImmutable:
			// Enforced by storage, not by the request validator.
			continue
		}
		if c.Param != "" {
			parts = append(parts, string(c.Kind)+"="+c.Param)
		} else {
			parts = append(parts, string(c.Kind))
		}
	}
	return strings.Join(parts, ",")
}
