package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"seclens/internal/dispatch"
	"seclens/internal/engine"
)

var reviewCodeCmd = &cobra.Command{
	Use:   "review-code",
	Short: "Review every source file of the codebase",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOneShot(cmd, dispatch.Command{Name: dispatch.CmdReviewCode}, engine.Deps{})
	},
}

var reviewFileCmd = &cobra.Command{
	Use:   "review-file <path>",
	Short: "Review one source file",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOneShot(cmd, dispatch.Command{Name: dispatch.CmdReviewFile, Arg: args[0]}, engine.Deps{})
	},
}

var reviewPatchCmd = &cobra.Command{
	Use:   "review-patch <patch>",
	Short: "Review the changes of a unified diff against the indexed code",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOneShot(cmd, dispatch.Command{Name: dispatch.CmdReviewPatch, Arg: args[0]}, engine.Deps{})
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about the indexed codebase",
	Args:  usageArgs(cobra.MinimumNArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := strings.Join(args, " ")
		return runOneShot(cmd, dispatch.Command{Name: dispatch.CmdAsk, Arg: q}, engine.Deps{})
	},
}

func init() {
	for _, c := range []*cobra.Command{reviewCodeCmd, reviewFileCmd, reviewPatchCmd, askCmd} {
		addOutputFlags(c)
		rootCmd.AddCommand(c)
	}
}
