package llm

import (
	"fmt"

	"specforge/internal/config"
	"specforge/internal/logging"
)

// NewClient creates a Client from config. Provider "none" returns nil,
// which downstream matchers treat as "no judge available".
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "openai":
		logging.Boot("llm: using openai provider, model=%s", cfg.Model)
		return NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.JudgeTimeout()), nil
	case "compat":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("compat provider requires base_url")
		}
		logging.Boot("llm: using compat provider at %s, model=%s", cfg.BaseURL, cfg.Model)
		return NewCompatClient(CompatConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.JudgeTimeout(),
		}), nil
	case "none", "":
		logging.Boot("llm: no provider configured, ambiguous matches resolve to no-match")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
