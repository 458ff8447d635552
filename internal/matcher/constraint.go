package matcher

import (
	"context"
	"fmt"
	"strconv"

	"specforge/internal/ir"
)

// ConstraintResult holds the strict and relaxed outcomes for a single
// spec constraint compared against the constraints found in code.
type ConstraintResult struct {
	Strict  bool
	Relaxed bool
	// Via names how the relaxed match was established when strict failed:
	// "kind" for an exact-kind param-insensitive match, "compat" for a
	// compatible-kind match, "semantic" for a judge-resolved match.
	Via string
}

// relaxedKindPairs maps each constraint kind to the kinds it is
// interchangeable with under relaxed scoring. min and gte express the
// same lower bound in different vocabularies, likewise max and lte.
var relaxedKindPairs = map[ir.ConstraintKind][]ir.ConstraintKind{
	ir.KindMin: {ir.KindGTE},
	ir.KindGTE: {ir.KindMin},
	ir.KindMax: {ir.KindLTE},
	ir.KindLTE: {ir.KindMax},
}

// MatchConstraint compares one spec constraint against every constraint
// extracted from code for the same attribute. Strict requires identical
// kind and numerically equal param. Relaxed additionally accepts
// compatible kinds and, failing that, a semantic match on the rendered
// constraint text.
func (m *Matcher) MatchConstraint(ctx context.Context, spec ir.Constraint, found []ir.Constraint) (ConstraintResult, error) {
	for _, c := range found {
		if c.Kind == spec.Kind && paramsEqual(spec, c) {
			return ConstraintResult{Strict: true, Relaxed: true, Via: "kind"}, nil
		}
	}

	for _, c := range found {
		if c.Kind == spec.Kind {
			return ConstraintResult{Relaxed: true, Via: "kind"}, nil
		}
		for _, compat := range relaxedKindPairs[spec.Kind] {
			if c.Kind == compat && paramsEqual(spec, c) {
				return ConstraintResult{Relaxed: true, Via: "compat"}, nil
			}
		}
	}

	// Structured comparison found nothing. Fall back to semantic
	// matching on the rendered forms; Uncertain counts as no-match.
	specText := renderConstraint(spec)
	for _, c := range found {
		result, err := m.Match(ctx, specText, renderConstraint(c))
		if err != nil {
			return ConstraintResult{}, err
		}
		if result.Satisfied() {
			return ConstraintResult{Relaxed: true, Via: "semantic"}, nil
		}
	}

	return ConstraintResult{}, nil
}

// paramsEqual compares constraint parameters, treating numeric params
// numerically so "0" and "0.0" are equal.
func paramsEqual(a, b ir.Constraint) bool {
	if a.Param == b.Param {
		return true
	}
	fa, errA := strconv.ParseFloat(a.Param, 64)
	fb, errB := strconv.ParseFloat(b.Param, 64)
	return errA == nil && errB == nil && fa == fb
}

func renderConstraint(c ir.Constraint) string {
	if c.Source != "" {
		return fmt.Sprintf("%s (%s)", c.String(), c.Source)
	}
	return c.String()
}
