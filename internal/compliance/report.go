// Package compliance scores generated code against the application IR
// and reports the gaps between them. Gaps are the only channel into the
// repair loop.
package compliance

import (
	"fmt"
	"time"

	"specforge/internal/ir"
)

// GapKind identifies what diverged between the IR and the code.
type GapKind string

const (
	GapMissingEntity     GapKind = "missing_entity"
	GapMissingEndpoint   GapKind = "missing_endpoint"
	GapMissingConstraint GapKind = "missing_constraint"
	GapWrongDefault      GapKind = "wrong_default"
	GapWrongType         GapKind = "wrong_type"
)

// Gap describes one divergence between the IR and generated code.
type Gap struct {
	Kind      GapKind        `json:"kind"`
	Entity    string         `json:"entity,omitempty"`
	Attribute string         `json:"attribute,omitempty"`
	// Constraint is set for missing_constraint gaps.
	Constraint ir.Constraint `json:"constraint,omitempty"`
	// Endpoint is set for missing_endpoint gaps.
	Endpoint *ir.Endpoint `json:"endpoint,omitempty"`
	// Expected and Actual carry the diverging values for wrong_default
	// and wrong_type gaps.
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	// Inferred marks endpoint gaps whose endpoint came from a
	// behavioral flow rather than the literal API surface.
	Inferred bool `json:"inferred,omitempty"`
}

// Signature identifies a gap across iterations. Two gaps with the same
// signature describe the same divergence, so an applied repair for one
// must never be re-applied for the other.
func (g Gap) Signature() string {
	switch g.Kind {
	case GapMissingEntity:
		return fmt.Sprintf("%s(%s)", g.Kind, ir.NormalizeName(g.Entity))
	case GapMissingEndpoint:
		if g.Endpoint == nil {
			return string(g.Kind)
		}
		return fmt.Sprintf("%s(%s %s)", g.Kind, g.Endpoint.Method, ir.NormalizePathShape(g.Endpoint.Path))
	case GapMissingConstraint:
		return fmt.Sprintf("%s(%s,%s,%s)", g.Kind, ir.NormalizeName(g.Entity), g.Attribute, g.Constraint.Kind)
	default:
		return fmt.Sprintf("%s(%s,%s)", g.Kind, ir.NormalizeName(g.Entity), g.Attribute)
	}
}

func (g Gap) String() string {
	switch g.Kind {
	case GapMissingEntity:
		return fmt.Sprintf("entity %s has no generated model", g.Entity)
	case GapMissingEndpoint:
		return fmt.Sprintf("no route for %s %s", g.Endpoint.Method, g.Endpoint.Path)
	case GapMissingConstraint:
		return fmt.Sprintf("%s.%s lacks constraint %s", g.Entity, g.Attribute, g.Constraint)
	case GapWrongDefault:
		return fmt.Sprintf("%s.%s default is %q, want %q", g.Entity, g.Attribute, g.Actual, g.Expected)
	case GapWrongType:
		return fmt.Sprintf("%s.%s is %s, want %s", g.Entity, g.Attribute, g.Actual, g.Expected)
	default:
		return string(g.Kind)
	}
}

// Tally is a present/total pair backing one score component.
type Tally struct {
	Present int `json:"present"`
	Total   int `json:"total"`
}

// Score converts the tally to a 0..100 score. An empty tally is fully
// compliant.
func (t Tally) Score() float64 {
	if t.Total == 0 {
		return 100
	}
	return 100 * float64(t.Present) / float64(t.Total)
}

// Report is the compliance report for one scoring pass.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`

	Entities          Tally `json:"entities"`
	Endpoints         Tally `json:"endpoints"`
	InferredEndpoints Tally `json:"inferred_endpoints"`
	ConstraintsStrict Tally `json:"constraints_strict"`
	ConstraintsRelax  Tally `json:"constraints_relaxed"`

	// Overall is the configured weighted average of the entity,
	// endpoint, and relaxed constraint scores.
	Overall float64 `json:"overall"`

	Gaps []Gap `json:"gaps"`
}

// EntityScore returns the entity score, 0..100.
func (r *Report) EntityScore() float64 { return r.Entities.Score() }

// EndpointScore returns the literal endpoint score, 0..100. Endpoints
// inferred from flows are tracked separately and do not affect it.
func (r *Report) EndpointScore() float64 { return r.Endpoints.Score() }

// StrictScore returns the strict constraint score, 0..100.
func (r *Report) StrictScore() float64 { return r.ConstraintsStrict.Score() }

// RelaxedScore returns the relaxed constraint score, 0..100.
func (r *Report) RelaxedScore() float64 { return r.ConstraintsRelax.Score() }

// Promotable reports whether the scored tree clears the downstream
// quality gate. A nil report never clears it: the gate must not be
// evaluated against placeholder scores computed before scoring ran.
func Promotable(r *Report, threshold float64) bool {
	return r != nil && r.Overall >= threshold
}

// GapsOfKind filters the report's gaps by kind.
func (r *Report) GapsOfKind(kind GapKind) []Gap {
	var out []Gap
	for _, g := range r.Gaps {
		if g.Kind == kind {
			out = append(out, g)
		}
	}
	return out
}
