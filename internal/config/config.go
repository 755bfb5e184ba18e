// Package config defines the engine configuration schema.
//
// Configuration is loaded from a YAML file and can be overridden by
// KBSEARCH_* environment variables. The loaded Config is injected
// explicitly into every engine entry point; nothing reads it as ambient
// global state, which keeps tests deterministic with mock configurations.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete engine configuration.
type Config struct {
	Search    SearchConfig    `yaml:"search"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Rerank    RerankConfig    `yaml:"rerank"`
	LLM       LLMConfig       `yaml:"llm"`
	Filter    FilterConfig    `yaml:"filter"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SearchConfig holds the retrieval pipeline defaults.
type SearchConfig struct {
	// Mode is the default search mode: "embedding", "fullTextRecall" or "mixedRecall".
	Mode string `yaml:"mode"`

	// EmbeddingWeight is the RRF weight ratio for the embedding recall list
	// when fusing with full-text recall (0-1, default 0.5).
	EmbeddingWeight float64 `yaml:"embedding_weight"`

	// RerankWeight is the RRF weight ratio for the rerank list when fusing
	// with the pre-rerank list (0-1, default 0.5). A value of 1 trusts the
	// reranker fully and bypasses fusion.
	RerankWeight float64 `yaml:"rerank_weight"`

	// Similarity is the default minimum score threshold (0-1, default 0).
	Similarity float64 `yaml:"similarity"`

	// MaxTokens is the default token budget for returned snippets.
	MaxTokens int `yaml:"max_tokens"`

	// ExtensionCount is the number of query variants the expansion step
	// asks the LLM to generate (default 10).
	ExtensionCount int `yaml:"extension_count"`
}

// EmbeddingConfig configures the embedding service client.
type EmbeddingConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int    `yaml:"cache_size"`
}

// RerankConfig configures the cross-encoder rerank service client.
type RerankConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`

	// TimeoutSeconds bounds a single rerank call (default 30).
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// LLMConfig configures the completion service used for query expansion and
// the deep-search sufficiency check.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

// FilterConfig gates the collection metadata filter.
type FilterConfig struct {
	// AdvancedEnabled enables tag/time collection filtering. When false and
	// no filter payload is supplied, filter resolution is skipped entirely.
	AdvancedEnabled bool `yaml:"advanced_enabled"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Search: SearchConfig{
			Mode:            "embedding",
			EmbeddingWeight: 0.5,
			RerankWeight:    0.5,
			Similarity:      0,
			MaxTokens:       3000,
			ExtensionCount:  10,
		},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			CacheSize:  1000,
		},
		Rerank: RerankConfig{
			TimeoutSeconds: 30,
		},
		LLM: LLMConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.1,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file, applies environment overrides,
// and validates the result. A missing path returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides settings from KBSEARCH_* environment variables.
// Env vars have the highest priority, matching the usual
// file < env precedence for service deployments.
func (c *Config) applyEnv() {
	if v := os.Getenv("KBSEARCH_EMBEDDING_BASE_URL"); v != "" {
		c.Embedding.BaseURL = v
	}
	if v := os.Getenv("KBSEARCH_EMBEDDING_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("KBSEARCH_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("KBSEARCH_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("KBSEARCH_RERANK_ENDPOINT"); v != "" {
		c.Rerank.Endpoint = v
	}
	if v := os.Getenv("KBSEARCH_EMBEDDING_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.EmbeddingWeight = f
		}
	}
	if v := os.Getenv("KBSEARCH_RERANK_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.RerankWeight = f
		}
	}
	if v := os.Getenv("KBSEARCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Search.EmbeddingWeight < 0 || c.Search.EmbeddingWeight > 1 {
		return fmt.Errorf("search.embedding_weight must be in [0,1], got %v", c.Search.EmbeddingWeight)
	}
	if c.Search.RerankWeight < 0 || c.Search.RerankWeight > 1 {
		return fmt.Errorf("search.rerank_weight must be in [0,1], got %v", c.Search.RerankWeight)
	}
	if c.Search.Similarity < 0 || c.Search.Similarity > 1 {
		return fmt.Errorf("search.similarity must be in [0,1], got %v", c.Search.Similarity)
	}
	if c.Search.MaxTokens <= 0 {
		return fmt.Errorf("search.max_tokens must be positive, got %d", c.Search.MaxTokens)
	}
	if c.Search.ExtensionCount <= 0 {
		return fmt.Errorf("search.extension_count must be positive, got %d", c.Search.ExtensionCount)
	}
	switch c.Search.Mode {
	case "embedding", "fullTextRecall", "mixedRecall":
	default:
		return fmt.Errorf("search.mode must be one of embedding, fullTextRecall, mixedRecall; got %q", c.Search.Mode)
	}
	if c.Rerank.TimeoutSeconds <= 0 {
		return fmt.Errorf("rerank.timeout_seconds must be positive, got %d", c.Rerank.TimeoutSeconds)
	}
	return nil
}

// RerankTimeout returns the configured rerank call bound as a duration.
func (c *Config) RerankTimeout() time.Duration {
	return time.Duration(c.Rerank.TimeoutSeconds) * time.Second
}
