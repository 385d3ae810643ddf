package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"seclens/internal/dispatch"
	"seclens/internal/engine"
)

// progressDeps reports indexing progress on stderr unless --quiet.
func progressDeps() engine.Deps {
	if flagQuiet {
		return engine.Deps{}
	}
	return engine.Deps{
		Progress: func(stage string, current, total int) {
			fmt.Fprintf(os.Stderr, "\r  %s: %d / %d files", stage, current, total)
			if current == total {
				fmt.Fprintln(os.Stderr)
			}
		},
	}
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index the codebase (incremental when an index exists)",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOneShot(cmd, dispatch.Command{Name: dispatch.CmdIndex}, progressDeps())
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <patch>",
	Short: "Apply a unified diff to the index, re-embedding only touched chunks",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOneShot(cmd, dispatch.Command{Name: dispatch.CmdUpdate, Arg: args[0]}, progressDeps())
	},
}

func init() {
	addOutputFlags(indexCmd)
	addOutputFlags(updateCmd)
	rootCmd.AddCommand(indexCmd, updateCmd)
}
