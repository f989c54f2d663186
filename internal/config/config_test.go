package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	cfg.derive()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestDeriveBudgetsFromTokenLimit(t *testing.T) {
	cfg := Default()
	cfg.Context.TokenLimit = 10000
	cfg.derive()
	if cfg.Context.TriggerTokens != 6600 {
		t.Errorf("trigger: expected 6600, got %d", cfg.Context.TriggerTokens)
	}
	if cfg.Context.TargetTokens != 3300 {
		t.Errorf("target: expected 3300, got %d", cfg.Context.TargetTokens)
	}
}

func TestDeriveKeepsExplicitBudgets(t *testing.T) {
	cfg := Default()
	cfg.Context.TargetTokens = 500
	cfg.Context.TriggerTokens = 900
	cfg.derive()
	if cfg.Context.TargetTokens != 500 || cfg.Context.TriggerTokens != 900 {
		t.Errorf("explicit budgets must survive derive: %d/%d",
			cfg.Context.TargetTokens, cfg.Context.TriggerTokens)
	}
}

func TestDeriveChromemPath(t *testing.T) {
	cfg := Default()
	cfg.DatabasePath = "/data/mnemo/mnemo.db"
	cfg.ChromemPath = ""
	cfg.derive()
	if cfg.ChromemPath != "/data/mnemo/vectors" {
		t.Errorf("unexpected chromem path %q", cfg.ChromemPath)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"trigger at or below target", func(c *Config) {
			c.Context.TargetTokens = 1000
			c.Context.TriggerTokens = 1000
		}},
		{"zero target", func(c *Config) { c.Context.TargetTokens = -1 }},
		{"negative min message age", func(c *Config) { c.Context.MinMessageAge = -time.Second }},
		{"min cluster below two", func(c *Config) { c.Memory.MinClusterSize = 1 }},
		{"max cluster below min", func(c *Config) {
			c.Memory.MinClusterSize = 5
			c.Memory.MaxClusterSize = 3
		}},
		{"zero cluster threshold", func(c *Config) { c.Memory.ClusterDistanceThreshold = 0 }},
		{"zero recall threshold", func(c *Config) { c.Memory.RecallDistanceThreshold = 0 }},
		{"zero recall top k", func(c *Config) { c.Memory.RecallTopK = 0 }},
		{"zero recall window", func(c *Config) { c.Memory.RecallWindow = 0 }},
		{"zero embedding dims", func(c *Config) { c.Embedding.Dims = 0 }},
		{"unknown vector backend", func(c *Config) { c.VectorBackend = "faiss" }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Default()
			cfg.derive()
			c.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestLoadYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
database_path: /tmp/custom.db
context:
  token_limit: 8000
memory:
  recall_top_k: 7
embedding:
  provider: openai
  model: text-embedding-3-small
  dims: 1536
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabasePath != "/tmp/custom.db" {
		t.Errorf("database_path: %q", cfg.DatabasePath)
	}
	if cfg.Context.TriggerTokens != 5280 || cfg.Context.TargetTokens != 2640 {
		t.Errorf("budgets should derive from the file's token_limit: %d/%d",
			cfg.Context.TriggerTokens, cfg.Context.TargetTokens)
	}
	if cfg.Memory.RecallTopK != 7 {
		t.Errorf("recall_top_k: %d", cfg.Memory.RecallTopK)
	}
	if cfg.Embedding.Provider != "openai" {
		t.Errorf("embedding provider: %q", cfg.Embedding.Provider)
	}
	// untouched settings keep their defaults
	if cfg.Memory.ClusterDistanceThreshold != 0.85 {
		t.Errorf("cluster threshold default lost: %v", cfg.Memory.ClusterDistanceThreshold)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MNEMO_DB", "/tmp/env.db")
	t.Setenv("MNEMO_EMBED_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := Default()
	applyEnv(&cfg)
	if cfg.DatabasePath != "/tmp/env.db" {
		t.Errorf("MNEMO_DB not applied: %q", cfg.DatabasePath)
	}
	if cfg.Embedding.Provider != "openai" {
		t.Errorf("MNEMO_EMBED_PROVIDER not applied: %q", cfg.Embedding.Provider)
	}
	if cfg.Embedding.APIKey != "sk-test" || cfg.LLM.APIKey != "sk-test" {
		t.Errorf("OPENAI_API_KEY not applied: %q / %q", cfg.Embedding.APIKey, cfg.LLM.APIKey)
	}
}
