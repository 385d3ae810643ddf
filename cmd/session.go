package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"seclens/internal/config"
	"seclens/internal/dispatch"
	"seclens/internal/engine"
	"seclens/internal/logging"
)

// session is one loaded configuration with its engine and dispatcher.
type session struct {
	cfg    config.Config
	logger *zap.Logger
	eng    *engine.Engine
	d      *dispatch.Dispatcher
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	overrides := config.Overrides{
		CodebasePath:   flagCodebase,
		LanguagePlugin: flagPlugin,
		Backend:        flagBackend,
		LogLevel:       flagLogLevel,
		MaxWorkers:     flagWorkers,
	}
	switch {
	case cmd.Flags().Changed("validate"):
		v := flagValidate
		overrides.Validate = &v
	case cmd.Flags().Changed("no-validate"):
		v := !flagNoValidate
		overrides.Validate = &v
	}

	cfg, err := config.Load(config.LoadOptions{
		ConfigPath:  flagConfig,
		PluginsPath: flagPlugins,
		EnvFile:     flagEnv,
		Overrides:   overrides,
	})
	if err != nil {
		return config.Config{}, fmt.Errorf("%w: %v", dispatch.ErrUsage, err)
	}
	return cfg, nil
}

// openSession loads the configuration and builds the engine. logFile, when
// set and no log file is configured, keeps logs off the terminal.
func openSession(ctx context.Context, cmd *cobra.Command, deps engine.Deps, logFile string) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Logging.File == "" && logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		cfg.Logging.File = logFile
	}

	logger, err := logging.New(cfg.Logging, flagVerbose, flagQuiet)
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(ctx, cfg, deps, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	d := dispatch.New(eng.Index, eng.Review, dispatch.Options{
		Root:       eng.Root,
		ResultsDir: cfg.ResultsDir,
		Sink:       eng.Sink(version),
	}, logger.Named("dispatch"))

	return &session{cfg: cfg, logger: logger, eng: eng, d: d}, nil
}

func (s *session) Close() {
	if err := s.eng.Close(); err != nil {
		s.logger.Warn("close engine", zap.Error(err))
	}
	_ = s.logger.Sync()
}
