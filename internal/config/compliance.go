package config

// ComplianceConfig configures compliance scoring.
//
// Overall compliance is a configured weighted average of the three component
// scores, not a derived constant; the weights must sum to 1.0 (checked in
// Config.Validate).
type ComplianceConfig struct {
	EntityWeight     float64 `yaml:"entity_weight" validate:"gte=0,lte=1"`
	EndpointWeight   float64 `yaml:"endpoint_weight" validate:"gte=0,lte=1"`
	ConstraintWeight float64 `yaml:"constraint_weight" validate:"gte=0,lte=1"`

	// Cosine similarity thresholds for the semantic matcher. Similarity at or
	// above the high threshold is MATCH, at or below the low threshold is
	// NO_MATCH; the band in between goes to the LLM judge.
	MatchHighThreshold float64 `yaml:"match_high_threshold" validate:"gt=0,lte=1"`
	MatchLowThreshold  float64 `yaml:"match_low_threshold" validate:"gte=0,lt=1"`

	// PromotionThreshold is the relaxed constraint score (0-100) at or above
	// which the downstream quality gate is promotable even when the strict
	// score lags. Explicit, never inferred.
	PromotionThreshold float64 `yaml:"promotion_threshold" validate:"gte=0,lte=100"`
}

// DefaultComplianceConfig returns sensible defaults.
func DefaultComplianceConfig() ComplianceConfig {
	return ComplianceConfig{
		EntityWeight:       0.3,
		EndpointWeight:     0.3,
		ConstraintWeight:   0.4,
		MatchHighThreshold: 0.8,
		MatchLowThreshold:  0.5,
		PromotionThreshold: 90,
	}
}
