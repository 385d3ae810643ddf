package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"seclens/internal/dispatch"
)

// version is set at build time with -ldflags "-X seclens/cmd.version=...".
var version = "dev"

var (
	flagConfig     string
	flagPlugins    string
	flagEnv        string
	flagCodebase   string
	flagPlugin     string
	flagBackend    string
	flagLogLevel   string
	flagWorkers    int
	flagValidate   bool
	flagNoValidate bool
	flagVerbose    bool
	flagQuiet      bool
	flagOutputFile string
	flagFormat     string
)

var rootCmd = &cobra.Command{
	Use:           "seclens",
	Short:         "RAG-assisted security review of a source tree",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShell(cmd)
	},
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// Execute runs the root command and exits with its status code.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", ee.err)
		}
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(dispatch.ExitCode(err, 0))
}

// usageArgs marks argument validation failures as usage errors.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return fmt.Errorf("%w: %v", dispatch.ErrUsage, err)
		}
		return nil
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "config file (default ./seclens.yaml if present)")
	pf.StringVar(&flagPlugins, "plugins", "", "plugin config file (default ./plugins.yaml if present)")
	pf.StringVar(&flagEnv, "env-file", "", "dotenv file (default ./.env if present)")
	pf.StringVarP(&flagCodebase, "codebase", "C", "", "codebase root (overrides codebase_path)")
	pf.StringVarP(&flagPlugin, "plugin", "l", "", "language plugin (overrides language_plugin)")
	pf.StringVar(&flagBackend, "backend", "", "vector store backend: sqlite, postgres or memory")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.IntVar(&flagWorkers, "workers", 0, "parallel workers (overrides engine.max_workers)")
	pf.BoolVar(&flagValidate, "validate", false, "run the validation pass on findings")
	pf.BoolVar(&flagNoValidate, "no-validate", false, "skip the validation pass on findings")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	pf.BoolVarP(&flagQuiet, "quiet", "q", false, "log errors only")
	rootCmd.MarkFlagsMutuallyExclusive("validate", "no-validate")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", dispatch.ErrUsage, err)
	})
}
