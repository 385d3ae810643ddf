// Package patch parses unified-diff text into per-file hunks using
// bluekeyes/go-gitdiff. It never touches the filesystem.
package patch

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"

	"seclens/internal/apperr"
)

// Op is what a patch does to a file.
type Op string

const (
	OpAdded    Op = "added"
	OpDeleted  Op = "deleted"
	OpModified Op = "modified"
	OpRenamed  Op = "renamed"
	OpCopied   Op = "copied"
)

// LineOp classifies a hunk line.
type LineOp int

const (
	LineContext LineOp = iota
	LineAdded
	LineRemoved
)

// Line is one line of a hunk body. OldLine is 0 for added lines and NewLine
// is 0 for removed lines.
type Line struct {
	Op      LineOp
	Content string
	OldLine int
	NewLine int
}

// Hunk is one contiguous change region. AddedLines holds new-file line
// numbers and RemovedLines old-file line numbers.
type Hunk struct {
	OldStart     int
	OldCount     int
	NewStart     int
	NewCount     int
	Section      string
	AddedLines   []int
	RemovedLines []int
	Lines        []Line
}

// FileChange is the set of hunks touching one file. Path is the post-patch
// name, or the old name when the file is deleted.
type FileChange struct {
	Path    string
	OldPath string
	Op      Op
	Hunks   []Hunk
}

// Notice is a non-fatal condition found while parsing.
type Notice struct {
	Path    string
	Kind    error
	Message string
}

func (n Notice) String() string {
	return fmt.Sprintf("%s: %s", n.Path, n.Message)
}

// Patch is a parsed unified diff.
type Patch struct {
	Files   []FileChange
	Notices []Notice
}

// Parse parses unified-diff text. Unparseable hunk headers, hunk bodies
// whose line counts disagree with their header, and unordered or overlapping
// hunks all fail with apperr.ErrMalformedPatch. Binary files are reported as
// notices and left out of Files.
func Parse(text string) (*Patch, error) {
	files, _, err := gitdiff.Parse(strings.NewReader(text))
	if err != nil {
		return nil, apperr.New(apperr.ErrMalformedPatch, "parse patch", err)
	}
	if err := checkHunkBodies(text); err != nil {
		return nil, apperr.New(apperr.ErrMalformedPatch, "parse patch", err)
	}
	gitHeaders := strings.HasPrefix(text, "diff --git ") || strings.Contains(text, "\ndiff --git ")

	p := &Patch{Files: make([]FileChange, 0, len(files))}
	for _, f := range files {
		fc := convertFile(f, gitHeaders)
		if f.IsBinary {
			p.Notices = append(p.Notices, Notice{
				Path:    fc.Path,
				Kind:    apperr.ErrBinaryFileSkipped,
				Message: apperr.ErrBinaryFileSkipped.Error(),
			})
			continue
		}
		if err := validateHunks(fc); err != nil {
			return nil, apperr.New(apperr.ErrMalformedPatch, "parse patch", err).WithFile(fc.Path)
		}
		p.Files = append(p.Files, fc)
	}

	if len(p.Files) == 0 && len(p.Notices) == 0 {
		return nil, apperr.New(apperr.ErrMalformedPatch, "parse patch", errors.New("no file changes found"))
	}
	return p, nil
}

// convertFile maps a gitdiff file. gitdiff strips the a/ and b/ prefixes
// only for files with a git header, so plain ---/+++ diffs are stripped here.
func convertFile(f *gitdiff.File, gitHeaders bool) FileChange {
	oldName, newName := f.OldName, f.NewName
	if !gitHeaders {
		oldName = plainName(oldName, "a/")
		newName = plainName(newName, "b/")
	}
	fc := FileChange{Path: newName, OldPath: oldName}

	switch {
	case f.IsNew:
		fc.Op = OpAdded
	case f.IsDelete:
		fc.Op = OpDeleted
		fc.Path = oldName
	case f.IsRename:
		fc.Op = OpRenamed
	case f.IsCopy:
		fc.Op = OpCopied
	default:
		fc.Op = OpModified
	}
	if fc.Path == "" {
		fc.Path = oldName
	}

	fc.Hunks = make([]Hunk, 0, len(f.TextFragments))
	for _, frag := range f.TextFragments {
		fc.Hunks = append(fc.Hunks, convertFragment(frag))
	}
	return fc
}

func plainName(name, prefix string) string {
	if name == "/dev/null" {
		return ""
	}
	// gitdiff names both sides after the new name when they differ.
	if rest, ok := strings.CutPrefix(name, prefix); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(name, "b/"); ok {
		return rest
	}
	return name
}

func convertFragment(frag *gitdiff.TextFragment) Hunk {
	h := Hunk{
		OldStart: int(frag.OldPosition),
		OldCount: int(frag.OldLines),
		NewStart: int(frag.NewPosition),
		NewCount: int(frag.NewLines),
		Section:  frag.Comment,
	}

	oldLine := int(frag.OldPosition)
	newLine := int(frag.NewPosition)
	for _, l := range frag.Lines {
		line := Line{Content: strings.TrimSuffix(l.Line, "\n")}
		switch l.Op {
		case gitdiff.OpContext:
			line.Op = LineContext
			line.OldLine = oldLine
			line.NewLine = newLine
			oldLine++
			newLine++
		case gitdiff.OpAdd:
			line.Op = LineAdded
			line.NewLine = newLine
			h.AddedLines = append(h.AddedLines, newLine)
			newLine++
		case gitdiff.OpDelete:
			line.Op = LineRemoved
			line.OldLine = oldLine
			h.RemovedLines = append(h.RemovedLines, oldLine)
			oldLine++
		}
		h.Lines = append(h.Lines, line)
	}
	return h
}

func validateHunks(fc FileChange) error {
	for i := 1; i < len(fc.Hunks); i++ {
		prev, cur := fc.Hunks[i-1], fc.Hunks[i]
		if cur.OldStart < prev.OldStart {
			return fmt.Errorf("hunk %d starts at old line %d, before hunk %d at %d", i+1, cur.OldStart, i, prev.OldStart)
		}
		if cur.OldStart < prev.OldStart+prev.OldCount {
			return fmt.Errorf("hunk %d overlaps hunk %d at old line %d", i+1, i, cur.OldStart)
		}
	}
	return nil
}

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// checkHunkBodies rejects hunks followed by more body lines than their header
// counts. gitdiff stops reading at the counts and treats the rest as
// preamble, so an over-long body would otherwise parse silently. Short
// bodies are left to gitdiff.
func checkHunkBodies(text string) error {
	lines := strings.Split(text, "\n")
	hunk := 0
	for i, line := range lines {
		m := hunkHeader.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		hunk++
		oldLeft, newLeft := hunkCount(m[2]), hunkCount(m[4])

		j := i + 1
		for ; j < len(lines) && (oldLeft > 0 || newLeft > 0); j++ {
			l := lines[j]
			switch {
			case l == "" || l[0] == ' ':
				oldLeft--
				newLeft--
			case l[0] == '-':
				oldLeft--
			case l[0] == '+':
				newLeft--
			}
		}
		for j < len(lines) && strings.HasPrefix(lines[j], "\\") {
			j++
		}
		if j < len(lines) && extraBodyLine(lines[j:]) {
			return fmt.Errorf("hunk %d (%s) has more body lines than its header counts", hunk, m[0])
		}
	}
	return nil
}

func hunkCount(s string) int {
	if s == "" {
		return 1
	}
	n, _ := strconv.Atoi(s)
	return n
}

// extraBodyLine reports whether rest[0] continues a hunk body rather than
// starting a new file header or a mail signature.
func extraBodyLine(rest []string) bool {
	l := rest[0]
	if l == "" {
		return false
	}
	switch l[0] {
	case ' ', '+':
		return true
	case '-':
		if l == "--" || l == "-- " {
			return false
		}
		if strings.HasPrefix(l, "--- ") && len(rest) > 1 && strings.HasPrefix(rest[1], "+++ ") {
			return false
		}
		return true
	}
	return false
}
