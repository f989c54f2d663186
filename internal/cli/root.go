// Package cli implements the mnemo CLI commands.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mnemo-dev/mnemo/internal/config"
	"github.com/mnemo-dev/mnemo/internal/embedding"
	"github.com/mnemo-dev/mnemo/internal/engine"
	"github.com/mnemo-dev/mnemo/internal/llm"
	"github.com/mnemo-dev/mnemo/internal/store"
	"github.com/mnemo-dev/mnemo/internal/vector"
)

var (
	configPath string
	dbPath     string
	userFlag   string
	verbose    bool

	logger *slog.Logger
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "Context and memory management for AI assistants",
	Long: "mnemo keeps an assistant's context window within budget and turns evicted\n" +
		"conversation into durable, consolidated, recallable memories. SQLite-backed.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $MNEMO_DB or ~/.mnemo/mnemo.db)")
	RootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "default", "Owner whose memories to operate on")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

// session bundles the engine with the store it owns, for commands that
// need one or both.
type session struct {
	cfg    config.Config
	engine *engine.Engine
	store  *store.SQLiteStore
}

func (s *session) Close() {
	s.engine.Close()
	s.store.Close()
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}

	emb, err := buildEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return nil, err
	}
	gen, err := buildGenerator(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}

	idx, rehydrate, err := buildIndex(cfg)
	if err != nil {
		return nil, err
	}

	st, err := store.NewSQLiteStore(cfg.DatabasePath, emb, idx, cfg.ProviderTimeout, logger)
	if err != nil {
		return nil, err
	}
	if rehydrate {
		if err := st.RehydrateIndex(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("rehydrate index: %w", err)
		}
	}

	return &session{
		cfg:    cfg,
		engine: engine.New(cfg, st, emb, gen, idx, logger),
		store:  st,
	}, nil
}

func buildEmbedder(ctx context.Context, p config.ProviderConfig) (embedding.Embedder, error) {
	switch p.Provider {
	case "ollama":
		return embedding.NewOllamaEmbedder(p.BaseURL, p.Model, p.Dims), nil
	case "openai":
		return embedding.NewOpenAIEmbedder(p.BaseURL, p.APIKey, p.Model, p.Dims), nil
	case "gemini":
		return embedding.NewGeminiEmbedder(ctx, p.APIKey, p.Model, p.Dims)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", p.Provider)
	}
}

func buildGenerator(ctx context.Context, p config.ProviderConfig) (llm.Generator, error) {
	switch p.Provider {
	case "ollama":
		return llm.NewOllamaGenerator(p.BaseURL, p.Model), nil
	case "openai":
		return llm.NewOpenAIGenerator(p.BaseURL, p.APIKey, p.Model), nil
	case "gemini":
		return llm.NewGeminiGenerator(ctx, p.APIKey, p.Model)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", p.Provider)
	}
}

// buildIndex returns the configured similarity index and whether it
// needs rehydration from the store at startup.
func buildIndex(cfg config.Config) (vector.Index, bool, error) {
	switch cfg.VectorBackend {
	case "memory":
		return vector.NewMemoryIndex(), true, nil
	case "chromem":
		idx, err := vector.NewChromemIndex(cfg.ChromemPath)
		return idx, false, err
	default:
		return nil, false, fmt.Errorf("unknown vector_backend %q", cfg.VectorBackend)
	}
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
