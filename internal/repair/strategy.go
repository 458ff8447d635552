package repair

import (
	"context"

	"specforge/internal/compliance"
	"specforge/internal/ir"
	"specforge/internal/tree"
)

// Outcome is the result of one strategy application.
type Outcome struct {
	Applied    bool
	SkipReason string
	// Files lists the tree paths the strategy wrote. Every listed path
	// must be invalidated before the next scoring pass.
	Files []string
}

func applied(files ...string) Outcome {
	return Outcome{Applied: true, Files: files}
}

func skipped(reason string) Outcome {
	return Outcome{SkipReason: reason}
}

// Strategy turns one gap into an edit, or declines with a reason.
type Strategy interface {
	Name() string
	Apply(ctx context.Context, app *ir.ApplicationIR, gap compliance.Gap, t *tree.FileTree) (Outcome, error)
}

// StrategyFor maps each repairable gap kind to its single strategy.
// Kinds absent from the map, such as wrong_type, have no safe automated
// edit and surface as unresolved gaps.
func StrategyFor(kind compliance.GapKind) (Strategy, bool) {
	s, ok := strategies[kind]
	return s, ok
}

var strategies = map[compliance.GapKind]Strategy{
	compliance.GapMissingEntity:     &AddEntity{},
	compliance.GapMissingEndpoint:   &AddEndpoint{},
	compliance.GapMissingConstraint: &AddConstraint{},
	compliance.GapWrongDefault:      &FixDefault{},
}

// structural reports whether the gap creates code that constraint
// repairs may then target. Structural repairs always run first within
// an iteration.
func structural(kind compliance.GapKind) bool {
	return kind == compliance.GapMissingEntity || kind == compliance.GapMissingEndpoint
}
