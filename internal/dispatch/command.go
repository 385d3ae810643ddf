package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// Command names.
const (
	CmdIndex       = "index"
	CmdReviewCode  = "review_code"
	CmdReviewFile  = "review_file"
	CmdReviewPatch = "review_patch"
	CmdUpdate      = "update"
	CmdAsk         = "ask"
	CmdHelp        = "help"
	CmdExit        = "exit"
)

// ErrUsage marks a command line that does not name a valid command.
var ErrUsage = errors.New("usage error")

// Command is one parsed request.
type Command struct {
	Name string `json:"command"`
	// Arg is the file path, patch path or question.
	Arg        string `json:"arg,omitempty"`
	OutputFile string `json:"output_file,omitempty"`
	Format     string `json:"format,omitempty"`
}

func (c Command) String() string {
	if c.Arg == "" {
		return c.Name
	}
	if c.Name == CmdAsk {
		return fmt.Sprintf("%s %q", c.Name, c.Arg)
	}
	return c.Name + " " + c.Arg
}

type arity struct {
	usage string
	// args is the exact argument count; -1 means one or more, joined.
	args int
}

var commands = map[string]arity{
	CmdIndex:       {usage: "index", args: 0},
	CmdReviewCode:  {usage: "review_code", args: 0},
	CmdReviewFile:  {usage: "review_file <file_path>", args: 1},
	CmdReviewPatch: {usage: "review_patch <patch_file>", args: 1},
	CmdUpdate:      {usage: "update <patch_file>", args: 1},
	CmdAsk:         {usage: `ask "<question>"`, args: -1},
	CmdHelp:        {usage: "help", args: 0},
	CmdExit:        {usage: "exit", args: 0},
}

var aliases = map[string]string{
	"quit": CmdExit,
	"?":    CmdHelp,
}

// Help is the text shown by the help command.
const Help = `Commands:
  index                          build or refresh the index of the codebase
  review_code                    review every file of the selected language
  review_file <file_path>        review one file
  review_patch <patch_file>      review the changes in a unified diff
  update <patch_file>            re-index only the files a patch touches
  ask "<question>"               ask a question about the codebase
  help                           show this message
  exit                           quit

Options (any command):
  --output-file PATH             save the result to PATH (.sarif selects SARIF)
  --format json|sarif|markdown   force the output format`

// ParseCommand parses one command line. Arguments may be quoted with single
// or double quotes; hyphenated command names are accepted.
func ParseCommand(line string) (Command, error) {
	tokens, err := tokenize(line)
	if err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if len(tokens) == 0 {
		return Command{}, fmt.Errorf("%w: empty command", ErrUsage)
	}

	name := strings.ReplaceAll(strings.ToLower(tokens[0]), "-", "_")
	if a, ok := aliases[name]; ok {
		name = a
	}
	sp, ok := commands[name]
	if !ok {
		return Command{}, fmt.Errorf("%w: unknown command %q (type help for a list)", ErrUsage, tokens[0])
	}

	cmd := Command{Name: name}
	var args []string
	for i := 1; i < len(tokens); i++ {
		tok := tokens[i]
		flag, value, hasValue := strings.Cut(tok, "=")
		switch flag {
		case "--output-file", "--format":
			if !hasValue {
				if i+1 >= len(tokens) {
					return Command{}, fmt.Errorf("%w: %s needs a value", ErrUsage, flag)
				}
				i++
				value = tokens[i]
			}
			if flag == "--output-file" {
				cmd.OutputFile = value
			} else {
				cmd.Format = strings.ToLower(value)
			}
		default:
			args = append(args, tok)
		}
	}

	switch {
	case sp.args == -1 && len(args) == 0,
		sp.args >= 0 && len(args) != sp.args:
		return Command{}, fmt.Errorf("%w: usage: %s", ErrUsage, sp.usage)
	}
	cmd.Arg = strings.Join(args, " ")
	return cmd, nil
}

// tokenize splits a line on whitespace, honouring quotes and backslash
// escapes inside double quotes.
func tokenize(line string) ([]string, error) {
	var (
		tokens  []string
		cur     strings.Builder
		inToken bool
		quote   rune
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case quote != 0:
			switch {
			case r == quote:
				quote = 0
			case r == '\\' && quote == '"':
				escaped = true
			default:
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inToken = true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, errors.New("unterminated quote")
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}
