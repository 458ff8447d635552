package config

import "time"

// LLMConfig configures the equivalence judge client.
type LLMConfig struct {
	Provider string `yaml:"provider" validate:"oneof=openai compat none"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	// Hard timeout for one judge call; a timeout resolves to UNCERTAIN,
	// never a hang.
	Timeout string `yaml:"timeout"`
}

// DefaultLLMConfig returns sensible defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider: "openai",
		Model:    "gpt-4o-mini",
		BaseURL:  "https://api.openai.com/v1",
		Timeout:  "30s",
	}
}

// JudgeTimeout returns the judge timeout as a duration.
func (c LLMConfig) JudgeTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
