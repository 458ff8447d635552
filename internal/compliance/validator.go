package compliance

import (
	"context"
	"fmt"
	"time"

	"specforge/internal/extract"
	"specforge/internal/generate"
	"specforge/internal/ir"
	"specforge/internal/logging"
	"specforge/internal/matcher"
	"specforge/internal/tree"
)

// Weights configures the overall score as a weighted average of the
// three component scores. They must sum to 1.
type Weights struct {
	Entity     float64
	Endpoint   float64
	Constraint float64
}

// Validator walks the IR and the generated tree and produces a Report.
type Validator struct {
	tree      *tree.FileTree
	extractor *extract.Extractor
	matcher   *matcher.Matcher
	weights   Weights
}

// NewValidator creates a Validator.
func NewValidator(t *tree.FileTree, e *extract.Extractor, m *matcher.Matcher, w Weights) *Validator {
	return &Validator{tree: t, extractor: e, matcher: m, weights: w}
}

// Evaluate scores the generated tree against the IR. The tree's read
// cache is force-dropped first so a repair applied just before this
// pass can never be scored against a stale copy.
func (v *Validator) Evaluate(ctx context.Context, app *ir.ApplicationIR) (*Report, error) {
	timer := logging.StartTimer(logging.CategoryCompliance, "Evaluate")
	defer timer.Stop()

	v.tree.InvalidateAll()

	snapshot, err := v.extractor.Extract(ctx)
	if err != nil {
		return nil, fmt.Errorf("extraction failed: %w", err)
	}

	report := &Report{GeneratedAt: time.Now()}

	for _, entity := range app.Domain.Entities {
		if err := v.scoreEntity(ctx, entity, snapshot, report); err != nil {
			return nil, err
		}
	}
	v.scoreEndpoints(app.API.Endpoints, snapshot, report)

	report.Overall = v.weights.Entity*report.EntityScore() +
		v.weights.Endpoint*report.EndpointScore() +
		v.weights.Constraint*report.RelaxedScore()

	logging.Compliance("scored: entities=%.0f endpoints=%.0f strict=%.0f relaxed=%.0f overall=%.1f gaps=%d",
		report.EntityScore(), report.EndpointScore(), report.StrictScore(),
		report.RelaxedScore(), report.Overall, len(report.Gaps))
	return report, nil
}

func (v *Validator) scoreEntity(ctx context.Context, entity ir.Entity, snapshot *extract.Snapshot, report *Report) error {
	report.Entities.Total++
	model := snapshot.Model(entity.Name)
	if model == nil {
		report.Gaps = append(report.Gaps, Gap{Kind: GapMissingEntity, Entity: entity.Name})
		// Every declared constraint on a scalar attribute of a missing
		// entity still counts against the constraint totals.
		for _, attr := range entity.Attributes {
			if attr.IsRelationship() {
				continue
			}
			report.ConstraintsStrict.Total += len(attr.Constraints)
			report.ConstraintsRelax.Total += len(attr.Constraints)
			for _, c := range attr.Constraints {
				report.Gaps = append(report.Gaps, Gap{
					Kind:       GapMissingConstraint,
					Entity:     entity.Name,
					Attribute:  attr.Name,
					Constraint: c,
				})
			}
		}
		return nil
	}
	report.Entities.Present++

	for _, attr := range entity.Attributes {
		// Relationship attributes are storage joins. Treating them as
		// missing scalar fields is a known false-negative source.
		if attr.IsRelationship() {
			continue
		}
		if err := v.scoreAttribute(ctx, entity, attr, model, report); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) scoreAttribute(ctx context.Context, entity ir.Entity, attr ir.Attribute, model *extract.Model, report *Report) error {
	fieldName := attr.Name
	if attr.Type == ir.TypeBelongsTo {
		fieldName = attr.Name + "_id"
	}
	field := model.Field(fieldName)

	report.ConstraintsStrict.Total += len(attr.Constraints)
	report.ConstraintsRelax.Total += len(attr.Constraints)

	if field == nil {
		for _, c := range attr.Constraints {
			report.Gaps = append(report.Gaps, Gap{
				Kind:       GapMissingConstraint,
				Entity:     entity.Name,
				Attribute:  attr.Name,
				Constraint: c,
			})
		}
		return nil
	}

	if want := generate.GoTypeFor(attr.Type); field.GoType != want {
		report.Gaps = append(report.Gaps, Gap{
			Kind:      GapWrongType,
			Entity:    entity.Name,
			Attribute: attr.Name,
			Expected:  want,
			Actual:    field.GoType,
		})
	}

	if attr.Default != "" && field.Default != attr.Default {
		report.Gaps = append(report.Gaps, Gap{
			Kind:      GapWrongDefault,
			Entity:    entity.Name,
			Attribute: attr.Name,
			Expected:  attr.Default,
			Actual:    field.Default,
		})
	}

	for _, c := range attr.Constraints {
		result, err := v.matcher.MatchConstraint(ctx, c, field.Constraints)
		if err != nil {
			return fmt.Errorf("constraint match failed for %s.%s: %w", entity.Name, attr.Name, err)
		}
		if result.Strict {
			report.ConstraintsStrict.Present++
		}
		if result.Relaxed {
			report.ConstraintsRelax.Present++
		} else {
			report.Gaps = append(report.Gaps, Gap{
				Kind:       GapMissingConstraint,
				Entity:     entity.Name,
				Attribute:  attr.Name,
				Constraint: c,
			})
		}
	}
	return nil
}

// scoreEndpoints confirms a route exists for every IR endpoint, by
// method and normalized path shape. Flow-inferred endpoints go into
// their own tally so they are never reported as missing from the
// literal spec surface.
func (v *Validator) scoreEndpoints(endpoints []ir.Endpoint, snapshot *extract.Snapshot, report *Report) {
	for i := range endpoints {
		ep := endpoints[i]
		tally := &report.Endpoints
		if ep.Inferred {
			tally = &report.InferredEndpoints
		}
		tally.Total++

		if routePresent(ep, snapshot.Routes) {
			tally.Present++
			continue
		}
		report.Gaps = append(report.Gaps, Gap{
			Kind:     GapMissingEndpoint,
			Entity:   ep.Entity,
			Endpoint: &endpoints[i],
			Inferred: ep.Inferred,
		})
	}
}

func routePresent(ep ir.Endpoint, routes []extract.Route) bool {
	for _, r := range routes {
		if r.Method == ep.Method && ir.SamePathShape(r.Path, ep.Path) {
			return true
		}
	}
	return false
}
