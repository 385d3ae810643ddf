package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"seclens/internal/dispatch"
	"seclens/internal/engine"
	"seclens/internal/output"
	"seclens/internal/rag"
	"seclens/internal/store"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP server on stdio exposing review and search tools",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context(), cmd, engine.Deps{}, "")
	if err != nil {
		return err
	}
	defer s.Close()

	srv := mcpserver.NewMCPServer("seclens", version, mcpserver.WithToolCapabilities(false))

	srv.AddTool(askTool(), makeCommandHandler(s.d, dispatch.CmdAsk, "question"))
	srv.AddTool(reviewFileTool(), makeCommandHandler(s.d, dispatch.CmdReviewFile, "path"))
	srv.AddTool(reviewPatchTool(), makeCommandHandler(s.d, dispatch.CmdReviewPatch, "patch_path"))
	srv.AddTool(searchIndexTool(), makeSearchHandler(s.eng.RAG))

	return mcpserver.ServeStdio(srv)
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// --- Tool schema builders ---

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

// Reviews call the model, so they are neither idempotent nor closed-world.
var reviewAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(false),
	OpenWorldHint:   mcp.ToBoolPtr(true),
}

func askTool() mcp.Tool {
	return mcp.NewTool("ask",
		mcp.WithDescription("Answer a question about the indexed codebase using retrieved code as context. Returns the answer and the source chunks it was grounded on."),
		mcp.WithToolAnnotation(reviewAnnotation),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Natural language question about the codebase"),
		),
	)
}

func reviewFileTool() mcp.Tool {
	return mcp.NewTool("review_file",
		mcp.WithDescription("Run a security review of one source file. Returns the findings with file, line, severity and confidence."),
		mcp.WithToolAnnotation(reviewAnnotation),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("File path relative to the codebase root"),
		),
	)
}

func reviewPatchTool() mcp.Tool {
	return mcp.NewTool("review_patch",
		mcp.WithDescription("Run a security review of the changes in a unified diff file, using the indexed code around each hunk as context."),
		mcp.WithToolAnnotation(reviewAnnotation),
		mcp.WithString("patch_path",
			mcp.Required(),
			mcp.Description("Path to a unified diff file"),
		),
	)
}

func searchIndexTool() mcp.Tool {
	return mcp.NewTool("search_index",
		mcp.WithDescription("Semantically search the indexed code and documentation. Returns matching chunks with file paths, line ranges and scores."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language or code query"),
		),
		mcp.WithNumber("k",
			mcp.Description("Maximum number of chunks to return (default similarity_top_k)"),
		),
	)
}

// --- Handler factories ---

// makeCommandHandler runs one dispatcher command with the named string
// argument. The dispatcher is single-flight, so a call made while another
// is running fails with "command in progress".
func makeCommandHandler(d *dispatch.Dispatcher, name, param string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		arg := strings.TrimSpace(req.GetString(param, ""))
		if arg == "" {
			return mcp.NewToolResultError(param + " is required"), nil
		}

		out := d.Dispatch(ctx, dispatch.Command{Name: name, Arg: arg})
		return commandResult(out), nil
	}
}

func commandResult(out dispatch.Outcome) *mcp.CallToolResult {
	var text string
	if payload := out.Payload(); payload != nil {
		md, err := output.Markdown(payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("render result: %v", err))
		}
		text = md
	}
	if out.Err != nil {
		msg := fmt.Sprintf("%s failed: %v", out.Command.Name, out.Err)
		if text != "" {
			msg += "\n\nPartial result:\n\n" + text
		}
		return mcp.NewToolResultError(msg)
	}
	return mcp.NewToolResultText(text)
}

func makeSearchHandler(r *rag.Engine) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		if query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		k := req.GetInt("k", r.TopK())
		if k <= 0 {
			k = r.TopK()
		}

		results, err := r.Search(ctx, query, k)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}

		return mcp.NewToolResultText(formatSearchResults(query, results)), nil
	}
}

// --- Formatting helpers ---

func formatSearchResults(query string, results []store.SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for query: %q", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search results for %q (%d chunks)\n\n", query, len(results))

	for i, r := range results {
		c := r.Chunk
		fmt.Fprintf(&sb, "### Result %d: `%s:%d-%d`\n\n", i+1, c.FilePath, c.StartLine, c.EndLine)
		fmt.Fprintf(&sb, "**Score:** %.3f  \n**Language:** %s\n\n", r.Score, c.Language)
		if sym := c.Metadata["symbols"]; sym != "" {
			fmt.Fprintf(&sb, "**Symbols:** %s\n\n", sym)
		}
		fmt.Fprintf(&sb, "```%s\n%s\n```\n\n", strings.ToLower(c.Language), c.Content)
	}

	return sb.String()
}
