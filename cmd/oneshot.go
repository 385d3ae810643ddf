package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"seclens/internal/dispatch"
	"seclens/internal/engine"
	"seclens/internal/output"
)

// runOneShot executes a single command and prints its outcome. Interrupt
// cancels the command; whatever finished is still reported.
func runOneShot(cmd *cobra.Command, c dispatch.Command, deps engine.Deps) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.OutputFile = flagOutputFile
	c.Format = strings.ToLower(flagFormat)

	s, err := openSession(ctx, cmd, deps, "")
	if err != nil {
		return err
	}
	defer s.Close()

	out := s.d.Dispatch(ctx, c)
	printOutcome(out)

	if code := out.ExitCode(); code != dispatch.ExitOK {
		return &exitError{code: code, err: out.Err}
	}
	return nil
}

func printOutcome(out dispatch.Outcome) {
	if payload := out.Payload(); payload != nil {
		md, err := output.Markdown(payload)
		if err == nil {
			fmt.Println(renderMarkdown(md))
		}
	}
	if out.OutputPath != "" {
		fmt.Printf("Results written to %s\n", out.OutputPath)
	}
	fmt.Fprintf(os.Stderr, "%s finished in %s\n", out.Command.Name, out.Finished.Sub(out.Started).Round(time.Millisecond))
}

func renderMarkdown(md string) string {
	if fi, err := os.Stdout.Stat(); err != nil || fi.Mode()&os.ModeCharDevice == 0 {
		return md
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return md
	}
	rendered, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(rendered, "\n")
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagOutputFile, "output-file", "o", "", "write the result to this file")
	cmd.Flags().StringVar(&flagFormat, "format", "", "output format: json, sarif or markdown (default from the file extension)")
}
