// Package config loads and validates specforge configuration from YAML.
// Each concern (llm, embedding, compliance, repair, cache, logging) lives in
// its own file; Config is the root that ties them together.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all specforge configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration (equivalence judge)
	LLM LLMConfig `yaml:"llm"`

	// Embedding engine configuration (semantic matcher)
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Compliance scoring configuration
	Compliance ComplianceConfig `yaml:"compliance"`

	// Repair loop configuration
	Repair RepairConfig `yaml:"repair"`

	// IR cache configuration
	Cache CacheConfig `yaml:"cache"`

	// Run store path (SQLite)
	StorePath string `yaml:"store_path"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:       "specforge",
		Version:    "0.3.0",
		LLM:        DefaultLLMConfig(),
		Embedding:  DefaultEmbeddingConfig(),
		Compliance: DefaultComplianceConfig(),
		Repair:     DefaultRepairConfig(),
		Cache:      DefaultCacheConfig(),
		StorePath:  filepath.Join(".specforge", "runs.db"),
		Logging:    DefaultLoggingConfig(),
	}
}

// Load loads configuration from a YAML file, merged over defaults.
// A missing file is not an error; defaults plus env overrides apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies SPECFORGE_* and provider key environment overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "openai"
		}
	}
	if key := os.Getenv("SPECFORGE_LLM_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if url := os.Getenv("SPECFORGE_LLM_BASE_URL"); url != "" {
		c.LLM.BaseURL = url
	}
	if model := os.Getenv("SPECFORGE_LLM_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Embedding.GenAIAPIKey = key
	}
	if ep := os.Getenv("SPECFORGE_OLLAMA_ENDPOINT"); ep != "" {
		c.Embedding.OllamaEndpoint = ep
	}
	if path := os.Getenv("SPECFORGE_DB"); path != "" {
		c.StorePath = path
	}
	if dir := os.Getenv("SPECFORGE_CACHE_DIR"); dir != "" {
		c.Cache.Dir = dir
	}
}

// Validate checks the configuration with struct-tag validation plus the
// cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	sum := c.Compliance.EntityWeight + c.Compliance.EndpointWeight + c.Compliance.ConstraintWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("compliance score weights must sum to 1.0, got %.3f", sum)
	}
	if c.Compliance.MatchLowThreshold >= c.Compliance.MatchHighThreshold {
		return fmt.Errorf("match low threshold (%.2f) must be below high threshold (%.2f)",
			c.Compliance.MatchLowThreshold, c.Compliance.MatchHighThreshold)
	}
	return nil
}
