// Package config builds the immutable configuration value handed to every
// component constructor. Values are merged in order: defaults, seclens.yaml,
// plugins.yaml, environment (including .env), then CLI overrides.
package config

import (
	"fmt"
	"runtime"
	"time"

	"seclens/internal/retry"
)

// Config is the complete runtime configuration.
type Config struct {
	CodebasePath   string                  `yaml:"codebase_path"`
	LanguagePlugin string                  `yaml:"language_plugin"`
	ResultsDir     string                  `yaml:"results_dir"`
	Engine         EngineConfig            `yaml:"engine"`
	LLM            LLMConfig               `yaml:"llm"`
	Embedding      EmbeddingConfig         `yaml:"embedding"`
	VectorStore    VectorStoreConfig       `yaml:"vector_store"`
	Retry          RetryConfig             `yaml:"retry"`
	Logging        LoggingConfig           `yaml:"logging"`
	Docs           DocsConfig              `yaml:"docs"`
	Plugins        map[string]PluginConfig `yaml:"plugins"`
}

// EngineConfig tunes indexing and review.
type EngineConfig struct {
	MaxWorkers         int     `yaml:"max_workers"`
	MaxTokenLength     int     `yaml:"max_token_length"`
	SimilarityTopK     int     `yaml:"similarity_top_k"`
	ContextBudgetChars int     `yaml:"context_budget_chars"`
	Validate           bool    `yaml:"validate"`
	ValidationPolicy   string  `yaml:"validation_policy"` // "drop" or "downweight"
	DownweightFactor   float64 `yaml:"downweight_factor"`
}

// LLMConfig selects the completion backend.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // "ollama" or "gemini"
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // "ollama" or "genai"
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
}

// VectorStoreConfig selects and tunes the vector backend.
type VectorStoreConfig struct {
	Backend        string         `yaml:"backend"` // "sqlite", "postgres" or "memory"
	CodeCollection string         `yaml:"code_collection"`
	DocsCollection string         `yaml:"docs_collection"`
	SQLite         SQLiteConfig   `yaml:"sqlite"`
	Postgres       PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig is the embedded backend's on-disk location.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig is the server backend's connection and index tuning.
type PostgresConfig struct {
	DSN    string     `yaml:"dsn"`
	Schema string     `yaml:"schema"`
	HNSW   HNSWConfig `yaml:"hnsw"`
}

// HNSWConfig holds pgvector HNSW graph-index parameters.
type HNSWConfig struct {
	M              int    `yaml:"m"`
	EfConstruction int    `yaml:"ef_construction"`
	EfSearch       int    `yaml:"ef_search"`
	DistMethod     string `yaml:"dist_method"`
}

// RetryConfig is the bounded retry policy for model and store calls.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// Policy converts the config into a retry.Policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    r.MaxAttempts,
		InitialBackoff: r.InitialBackoff,
		MaxBackoff:     r.MaxBackoff,
	}
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	JSON  bool   `yaml:"json"`
}

// DocsConfig controls indexing of documentation files.
type DocsConfig struct {
	Extensions []string       `yaml:"supported_extensions"`
	Splitting  SplittingConfig `yaml:"splitting"`
}

// SplittingConfig is the chunk window configuration.
type SplittingConfig struct {
	ChunkLines        int `yaml:"chunk_lines"`
	ChunkLinesOverlap int `yaml:"chunk_lines_overlap"`
	MaxChars          int `yaml:"max_chars"`
}

// PluginConfig is the per-language plugin contract.
type PluginConfig struct {
	Extensions []string          `yaml:"supported_extensions"`
	Splitting  SplittingConfig    `yaml:"splitting"`
	Prompts    map[string]string `yaml:"prompts"`
}

// Default returns a Config with every default applied.
func Default() Config {
	return Config{
		CodebasePath:   ".",
		LanguagePlugin: "c",
		ResultsDir:     "results",
		Engine: EngineConfig{
			MaxWorkers:         runtime.NumCPU(),
			MaxTokenLength:     100000,
			SimilarityTopK:     5,
			ContextBudgetChars: 24000,
			ValidationPolicy:   "downweight",
			DownweightFactor:   0.5,
		},
		LLM: LLMConfig{
			Provider:  "ollama",
			Model:     "qwen3:8b",
			BaseURL:   "http://localhost:11434",
			MaxTokens: 8192,
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			BaseURL:    "http://localhost:11434",
			Dimensions: 768,
			BatchSize:  32,
		},
		VectorStore: VectorStoreConfig{
			Backend:        "sqlite",
			CodeCollection: "code",
			DocsCollection: "docs",
			SQLite:         SQLiteConfig{Path: ".seclens/index.db"},
			Postgres: PostgresConfig{
				Schema: "myproject_main",
				HNSW: HNSWConfig{
					M:              16,
					EfConstruction: 64,
					EfSearch:       40,
					DistMethod:     "vector_cosine_ops",
				},
			},
		},
		Retry: RetryConfig{
			MaxAttempts:    4,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     8 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		Docs: DocsConfig{
			Extensions: []string{".md", ".rst", ".txt"},
			Splitting:  SplittingConfig{ChunkLines: 60, ChunkLinesOverlap: 5, MaxChars: 3000},
		},
		Plugins: DefaultPlugins(),
	}
}

// Validate rejects configurations no component could run with.
func (c Config) Validate() error {
	switch c.VectorStore.Backend {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unknown vector store backend %q (want sqlite, postgres or memory)", c.VectorStore.Backend)
	}
	switch c.LLM.Provider {
	case "ollama", "gemini":
	default:
		return fmt.Errorf("unknown llm provider %q (want ollama or gemini)", c.LLM.Provider)
	}
	switch c.Embedding.Provider {
	case "ollama", "genai":
	default:
		return fmt.Errorf("unknown embedding provider %q (want ollama or genai)", c.Embedding.Provider)
	}
	switch c.Engine.ValidationPolicy {
	case "drop", "downweight":
	default:
		return fmt.Errorf("unknown validation policy %q (want drop or downweight)", c.Engine.ValidationPolicy)
	}
	if c.Engine.MaxWorkers <= 0 {
		return fmt.Errorf("engine.max_workers must be positive, got %d", c.Engine.MaxWorkers)
	}
	if c.Engine.SimilarityTopK <= 0 {
		return fmt.Errorf("engine.similarity_top_k must be positive, got %d", c.Engine.SimilarityTopK)
	}
	if c.Engine.DownweightFactor < 0 || c.Engine.DownweightFactor > 1 {
		return fmt.Errorf("engine.downweight_factor must be within [0,1], got %g", c.Engine.DownweightFactor)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.VectorStore.Backend == "postgres" && c.VectorStore.Postgres.DSN == "" {
		return fmt.Errorf("vector_store.postgres.dsn is required for the postgres backend")
	}
	if err := c.Docs.Splitting.validate("docs"); err != nil {
		return err
	}
	if _, ok := c.Plugins[c.LanguagePlugin]; !ok {
		return fmt.Errorf("language plugin %q is not configured", c.LanguagePlugin)
	}
	for name, p := range c.Plugins {
		if len(p.Extensions) == 0 {
			return fmt.Errorf("plugins.%s: supported_extensions is empty", name)
		}
		if err := p.Splitting.validate("plugins." + name); err != nil {
			return err
		}
	}
	return nil
}

func (s SplittingConfig) validate(where string) error {
	if s.ChunkLines <= 0 {
		return fmt.Errorf("%s.splitting.chunk_lines must be positive, got %d", where, s.ChunkLines)
	}
	if s.ChunkLinesOverlap < 0 || s.ChunkLinesOverlap >= s.ChunkLines {
		return fmt.Errorf("%s.splitting.chunk_lines_overlap must be within [0,%d), got %d", where, s.ChunkLines, s.ChunkLinesOverlap)
	}
	if s.MaxChars < 0 {
		return fmt.Errorf("%s.splitting.max_chars must not be negative, got %d", where, s.MaxChars)
	}
	return nil
}
