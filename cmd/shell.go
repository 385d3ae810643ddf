package cmd

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"seclens/internal/engine"
	"seclens/internal/tui"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive shell (the default when no command is given)",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShell(cmd)
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

func runShell(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()

	hooks := tui.NewHooks()
	deps := engine.Deps{Progress: hooks.Progress, OnTransition: hooks.Transition}

	// The shell owns the terminal, so logs go to a file.
	logFile := filepath.Join(os.TempDir(), "seclens", "shell.log")
	s, err := openSession(ctx, cmd, deps, logFile)
	if err != nil {
		return err
	}
	defer s.Close()

	cfg := tui.Config{
		Dispatcher:     s.d,
		Hooks:          hooks,
		Store:          s.eng.Store,
		CodeCollection: s.cfg.VectorStore.CodeCollection,
		EmbeddingModel: s.eng.Embedder.Model(),
		Root:           s.eng.Root,
	}
	if s.cfg.LLM.Provider == "ollama" {
		cfg.OllamaURL = s.cfg.LLM.BaseURL
		cfg.OllamaModels = append(cfg.OllamaModels, s.cfg.LLM.Model)
	}
	if s.cfg.Embedding.Provider == "ollama" {
		cfg.OllamaURL = s.cfg.Embedding.BaseURL
		cfg.OllamaModels = append(cfg.OllamaModels, s.cfg.Embedding.Model)
	}
	return tui.Run(ctx, cfg)
}
