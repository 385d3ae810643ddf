package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default file names looked up in the working directory.
const (
	DefaultConfigFile  = "seclens.yaml"
	DefaultPluginsFile = "plugins.yaml"
	DefaultEnvFile     = ".env"
)

// Overrides are CLI flag values; zero values leave the loaded value alone.
type Overrides struct {
	CodebasePath   string
	LanguagePlugin string
	Backend        string
	LogLevel       string
	MaxWorkers     int
	Validate       *bool
}

// LoadOptions names the files Load reads. Empty paths fall back to the
// defaults and are optional; explicit paths must exist.
type LoadOptions struct {
	ConfigPath  string
	PluginsPath string
	EnvFile     string
	Overrides   Overrides
}

// Load builds and validates a Config.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	if err := loadEnvFile(opts.EnvFile); err != nil {
		return Config{}, err
	}

	if err := mergeYAML(&cfg, opts.ConfigPath, DefaultConfigFile); err != nil {
		return Config{}, err
	}
	if err := mergePluginsFile(&cfg, opts.PluginsPath); err != nil {
		return Config{}, err
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	opts.Overrides.apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func readOptional(path, fallback string) ([]byte, string, error) {
	explicit := path != ""
	if !explicit {
		path = fallback
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil, path, nil
		}
		return nil, path, fmt.Errorf("read %s: %w", path, err)
	}
	return data, path, nil
}

func mergeYAML(cfg *Config, path, fallback string) error {
	data, path, err := readOptional(path, fallback)
	if err != nil || data == nil {
		return err
	}

	defaults := cfg.Plugins
	cfg.Plugins = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Plugins = mergePlugins(defaults, cfg.Plugins)
	return nil
}

func mergePluginsFile(cfg *Config, path string) error {
	data, path, err := readOptional(path, DefaultPluginsFile)
	if err != nil || data == nil {
		return err
	}

	var doc struct {
		Plugins map[string]PluginConfig `yaml:"plugins"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Plugins = mergePlugins(cfg.Plugins, doc.Plugins)
	return nil
}

// mergePlugins overlays user plugin entries onto base field by field, so a
// file that only changes one prompt keeps every other default.
func mergePlugins(base, overlay map[string]PluginConfig) map[string]PluginConfig {
	out := make(map[string]PluginConfig, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for name, o := range overlay {
		p, ok := out[name]
		if !ok {
			p = PluginConfig{Prompts: map[string]string{}}
		}
		if len(o.Extensions) > 0 {
			p.Extensions = o.Extensions
		}
		if o.Splitting.ChunkLines > 0 {
			p.Splitting.ChunkLines = o.Splitting.ChunkLines
		}
		if o.Splitting.ChunkLinesOverlap > 0 {
			p.Splitting.ChunkLinesOverlap = o.Splitting.ChunkLinesOverlap
		}
		if o.Splitting.MaxChars > 0 {
			p.Splitting.MaxChars = o.Splitting.MaxChars
		}
		prompts := make(map[string]string, len(p.Prompts)+len(o.Prompts))
		for k, v := range p.Prompts {
			prompts[k] = v
		}
		for k, v := range o.Prompts {
			prompts[k] = v
		}
		p.Prompts = prompts
		out[name] = p
	}
	return out
}

func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	setString("SECLENS_CODEBASE_PATH", &cfg.CodebasePath)
	setString("SECLENS_LANGUAGE_PLUGIN", &cfg.LanguagePlugin)
	setString("SECLENS_RESULTS_DIR", &cfg.ResultsDir)
	setString("SECLENS_LLM_PROVIDER", &cfg.LLM.Provider)
	setString("SECLENS_LLM_MODEL", &cfg.LLM.Model)
	setString("SECLENS_EMBEDDING_PROVIDER", &cfg.Embedding.Provider)
	setString("SECLENS_EMBEDDING_MODEL", &cfg.Embedding.Model)
	setString("SECLENS_VECTOR_BACKEND", &cfg.VectorStore.Backend)
	setString("SECLENS_PG_DSN", &cfg.VectorStore.Postgres.DSN)
	setString("SECLENS_LOG_LEVEL", &cfg.Logging.Level)

	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.LLM.BaseURL = v
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = v
		}
		if cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = v
		}
	}

	if v := os.Getenv("SECLENS_MAX_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SECLENS_MAX_WORKERS: %w", err)
		}
		cfg.Engine.MaxWorkers = n
	}
	if v := os.Getenv("SECLENS_EMBEDDING_DIMENSIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SECLENS_EMBEDDING_DIMENSIONS: %w", err)
		}
		cfg.Embedding.Dimensions = n
	}
	return nil
}

func (o Overrides) apply(cfg *Config) {
	if o.CodebasePath != "" {
		cfg.CodebasePath = o.CodebasePath
	}
	if o.LanguagePlugin != "" {
		cfg.LanguagePlugin = o.LanguagePlugin
	}
	if o.Backend != "" {
		cfg.VectorStore.Backend = o.Backend
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.MaxWorkers > 0 {
		cfg.Engine.MaxWorkers = o.MaxWorkers
	}
	if o.Validate != nil {
		cfg.Engine.Validate = *o.Validate
	}
}
