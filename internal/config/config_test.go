package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"seclens/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	for name, p := range cfg.Plugins {
		for _, key := range config.RequiredPrompts {
			assert.NotEmpty(t, p.Prompts[key], "plugin %s prompt %s", name, key)
		}
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"backend", func(c *config.Config) { c.VectorStore.Backend = "chroma" }, "vector store backend"},
		{"provider", func(c *config.Config) { c.LLM.Provider = "openai" }, "llm provider"},
		{"workers", func(c *config.Config) { c.Engine.MaxWorkers = 0 }, "max_workers"},
		{"overlap", func(c *config.Config) {
			p := c.Plugins["c"]
			p.Splitting.ChunkLinesOverlap = p.Splitting.ChunkLines
			c.Plugins["c"] = p
		}, "chunk_lines_overlap"},
		{"plugin", func(c *config.Config) { c.LanguagePlugin = "cobol" }, "cobol"},
		{"postgres dsn", func(c *config.Config) { c.VectorStore.Backend = "postgres" }, "dsn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MergesFilesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "seclens.yaml", `
codebase_path: ./src
language_plugin: python
engine:
  max_workers: 3
  similarity_top_k: 7
retry:
  initial_backoff: 250ms
vector_store:
  backend: memory
`)
	pluginsPath := writeFile(t, dir, "plugins.yaml", `
plugins:
  python:
    splitting:
      chunk_lines: 50
    prompts:
      ask: "custom {question}"
`)
	envPath := writeFile(t, dir, ".env", "")

	cfg, err := config.Load(config.LoadOptions{ConfigPath: cfgPath, PluginsPath: pluginsPath, EnvFile: envPath})
	require.NoError(t, err)

	assert.Equal(t, "./src", cfg.CodebasePath)
	assert.Equal(t, 3, cfg.Engine.MaxWorkers)
	assert.Equal(t, 7, cfg.Engine.SimilarityTopK)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialBackoff)
	assert.Equal(t, 8*time.Second, cfg.Retry.MaxBackoff)
	assert.Equal(t, "memory", cfg.VectorStore.Backend)

	py := cfg.Plugins["python"]
	assert.Equal(t, 50, py.Splitting.ChunkLines)
	assert.Equal(t, 10, py.Splitting.ChunkLinesOverlap)
	assert.Equal(t, "custom {question}", py.Prompts[config.PromptAsk])
	assert.NotEmpty(t, py.Prompts[config.PromptSecurityReview])
	assert.Contains(t, cfg.Plugins, "rust")
}

func TestLoad_EnvAndOverrides(t *testing.T) {
	dir := t.TempDir()
	envPath := writeFile(t, dir, ".env", "SECLENS_LLM_PROVIDER=gemini\nGEMINI_API_KEY=secret\n")
	t.Setenv("SECLENS_MAX_WORKERS", "9")
	t.Setenv("SECLENS_LLM_PROVIDER", "")
	os.Unsetenv("SECLENS_LLM_PROVIDER")
	t.Setenv("GEMINI_API_KEY", "")
	os.Unsetenv("GEMINI_API_KEY")

	validate := true
	cfg, err := config.Load(config.LoadOptions{
		ConfigPath:  filepath.Join(dir, "missing-is-explicit.yaml"),
		PluginsPath: "",
		EnvFile:     envPath,
	})
	require.Error(t, err, "an explicit config path must exist")

	cfg, err = config.Load(config.LoadOptions{
		EnvFile:   envPath,
		Overrides: config.Overrides{MaxWorkers: 2, Backend: "memory", Validate: &validate},
	})
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "secret", cfg.LLM.APIKey)
	assert.Equal(t, 2, cfg.Engine.MaxWorkers, "flags win over env")
	assert.Equal(t, "memory", cfg.VectorStore.Backend)
	assert.True(t, cfg.Engine.Validate)
}
