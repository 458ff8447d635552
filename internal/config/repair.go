package config

// RepairConfig configures the repair loop.
type RepairConfig struct {
	// MaxIterations is the iteration budget before the loop reports EXHAUSTED.
	MaxIterations int `yaml:"max_iterations" validate:"gte=1"`

	// ConvergenceThreshold is the overall compliance score (0-100) at or above
	// which the loop reports CONVERGED.
	ConvergenceThreshold float64 `yaml:"convergence_threshold" validate:"gte=0,lte=100"`

	// PlateauWindow is the number of consecutive non-improving iterations
	// before the loop reports PLATEAU.
	PlateauWindow int `yaml:"plateau_window" validate:"gte=1"`

	// ApplyParallelism bounds the number of worker tasks applying edits to
	// disjoint files within one APPLY step. Same-file edits are always
	// serialized by the tree's per-file lock.
	ApplyParallelism int `yaml:"apply_parallelism" validate:"gte=1"`
}

// DefaultRepairConfig returns sensible defaults.
func DefaultRepairConfig() RepairConfig {
	return RepairConfig{
		MaxIterations:        3,
		ConvergenceThreshold: 95,
		PlateauWindow:        2,
		ApplyParallelism:     4,
	}
}
