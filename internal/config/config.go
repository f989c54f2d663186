// Package config loads and validates engine configuration.
//
// Precedence: built-in defaults < YAML config file < environment.
// A .env file next to the config is honored for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProviderConfig selects and parameterizes an external model provider.
type ProviderConfig struct {
	Provider string `yaml:"provider"` // "ollama", "openai", "gemini"
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Dims     int    `yaml:"dims"` // embedding dimension, ignored for llm
}

// ContextConfig controls the context window tracker.
type ContextConfig struct {
	// TokenLimit is the model context size the window budgets against.
	// TriggerTokens/TargetTokens default to 66%/33% of it when unset.
	TokenLimit    int `yaml:"token_limit"`
	TargetTokens  int `yaml:"target_tokens"`
	TriggerTokens int `yaml:"trigger_tokens"`

	// MinMessageAge is the eviction floor: messages younger than this
	// are never evicted, even over budget.
	MinMessageAge time.Duration `yaml:"min_message_age"`
}

// MemoryConfig controls memory creation, consolidation, and recall.
type MemoryConfig struct {
	ClusterDistanceThreshold float64 `yaml:"cluster_distance_threshold"`
	MinClusterSize           int     `yaml:"min_cluster_size"`
	MaxClusterSize           int     `yaml:"max_cluster_size"`
	MemoriesPerConsolidation int     `yaml:"memories_per_consolidation"`
	MessagesPerMemory        int     `yaml:"messages_per_memory"`
	MessagesPerRecallRefresh int     `yaml:"messages_per_recall_refresh"`

	RecallTopK              int     `yaml:"recall_top_k"`
	RecallDistanceThreshold float64 `yaml:"recall_distance_threshold"`
	RecallWindow            int     `yaml:"recall_window"`

	WordLimit int `yaml:"word_limit"` // word budget for synthesized memories
}

// Config is the full engine configuration.
type Config struct {
	DatabasePath  string `yaml:"database_path"`
	VectorBackend string `yaml:"vector_backend"` // "memory" or "chromem"
	ChromemPath   string `yaml:"chromem_path"`

	Embedding ProviderConfig `yaml:"embedding"`
	LLM       ProviderConfig `yaml:"llm"`

	Context ContextConfig `yaml:"context"`
	Memory  MemoryConfig  `yaml:"memory"`

	ProviderTimeout time.Duration `yaml:"provider_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DatabasePath:  filepath.Join(home, ".mnemo", "mnemo.db"),
		VectorBackend: "memory",
		Embedding: ProviderConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			Dims:     768,
		},
		LLM: ProviderConfig{
			Provider: "ollama",
			Model:    "llama3.1",
		},
		Context: ContextConfig{
			TokenLimit:    16384,
			MinMessageAge: 2 * time.Minute,
		},
		Memory: MemoryConfig{
			ClusterDistanceThreshold: 0.85,
			MinClusterSize:           2,
			MaxClusterSize:           10,
			MemoriesPerConsolidation: 4,
			MessagesPerMemory:        10,
			MessagesPerRecallRefresh: 1,
			RecallTopK:               5,
			RecallDistanceThreshold:  0.7,
			RecallWindow:             3,
			WordLimit:                300,
		},
		ProviderTimeout: 30 * time.Second,
	}
}

// Load reads the config file at path (if non-empty), applies environment
// overrides, derives dependent defaults, and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	} else {
		godotenv.Load()
	}

	applyEnv(&cfg)
	cfg.derive()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MNEMO_DB"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("MNEMO_EMBED_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("MNEMO_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("MNEMO_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("MNEMO_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = v
		}
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = v
		}
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		if cfg.Embedding.Provider == "gemini" && cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = v
		}
		if cfg.LLM.Provider == "gemini" && cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = v
		}
	}
}

// derive fills budgets computed from other settings.
func (c *Config) derive() {
	if c.Context.TriggerTokens == 0 {
		c.Context.TriggerTokens = c.Context.TokenLimit * 66 / 100
	}
	if c.Context.TargetTokens == 0 {
		c.Context.TargetTokens = c.Context.TokenLimit * 33 / 100
	}
	if c.ChromemPath == "" {
		c.ChromemPath = filepath.Join(filepath.Dir(c.DatabasePath), "vectors")
	}
}

// Validate checks configuration invariants. Violations are fatal at
// startup; none of these are recoverable at runtime.
func (c *Config) Validate() error {
	if c.Context.TargetTokens <= 0 {
		return fmt.Errorf("config: target_tokens must be positive, got %d", c.Context.TargetTokens)
	}
	if c.Context.TriggerTokens <= c.Context.TargetTokens {
		return fmt.Errorf("config: trigger_tokens (%d) must be greater than target_tokens (%d)",
			c.Context.TriggerTokens, c.Context.TargetTokens)
	}
	if c.Context.MinMessageAge < 0 {
		return fmt.Errorf("config: min_message_age must not be negative")
	}
	if c.Memory.ClusterDistanceThreshold <= 0 {
		return fmt.Errorf("config: cluster_distance_threshold must be positive")
	}
	if c.Memory.RecallDistanceThreshold <= 0 {
		return fmt.Errorf("config: recall_distance_threshold must be positive")
	}
	if c.Memory.MinClusterSize < 2 {
		return fmt.Errorf("config: min_cluster_size must be at least 2, got %d", c.Memory.MinClusterSize)
	}
	if c.Memory.MaxClusterSize < c.Memory.MinClusterSize {
		return fmt.Errorf("config: max_cluster_size (%d) must not be below min_cluster_size (%d)",
			c.Memory.MaxClusterSize, c.Memory.MinClusterSize)
	}
	if c.Memory.RecallTopK <= 0 {
		return fmt.Errorf("config: recall_top_k must be positive")
	}
	if c.Memory.RecallWindow <= 0 {
		return fmt.Errorf("config: recall_window must be positive")
	}
	if c.Embedding.Dims <= 0 {
		return fmt.Errorf("config: embedding dims must be positive")
	}
	switch c.VectorBackend {
	case "memory", "chromem":
	default:
		return fmt.Errorf("config: unknown vector_backend %q", c.VectorBackend)
	}
	return nil
}
