package patch

import (
	"strings"
)

// LineRange is an inclusive, 1-based line range.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Intersects reports whether r and [start, end] share a line.
func (r LineRange) Intersects(start, end int) bool {
	return r.Start <= end && r.End >= start
}

// ChangedRanges returns the post-patch line ranges touched by the change,
// merged and in ascending order. Added lines count as themselves; a removal
// marks the new-file line that now sits where the removed lines were.
func (fc FileChange) ChangedRanges() []LineRange {
	var ranges []LineRange
	add := func(start, end int) {
		if start < 1 {
			start = 1
		}
		if end < start {
			end = start
		}
		if n := len(ranges); n > 0 && start <= ranges[n-1].End+1 {
			if end > ranges[n-1].End {
				ranges[n-1].End = end
			}
			return
		}
		ranges = append(ranges, LineRange{Start: start, End: end})
	}

	for _, h := range fc.Hunks {
		next := h.NewStart
		if h.NewCount == 0 {
			// Pure deletion: NewStart names the line before the cut.
			next = h.NewStart + 1
		}
		for _, l := range h.Lines {
			switch l.Op {
			case LineContext:
				next = l.NewLine + 1
			case LineAdded:
				add(l.NewLine, l.NewLine)
				next = l.NewLine + 1
			case LineRemoved:
				add(next, next)
			}
		}
	}
	return ranges
}

// ChangedText renders the added and removed lines of every hunk, prefixed
// with "+" and "-".
func (fc FileChange) ChangedText() string {
	var b strings.Builder
	for _, h := range fc.Hunks {
		for _, l := range h.Lines {
			switch l.Op {
			case LineAdded:
				b.WriteString("+")
			case LineRemoved:
				b.WriteString("-")
			default:
				continue
			}
			b.WriteString(l.Content)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// AddedContent concatenates the added lines, which for a new file is the
// whole post-patch content.
func (fc FileChange) AddedContent() string {
	var b strings.Builder
	for _, h := range fc.Hunks {
		for _, l := range h.Lines {
			if l.Op == LineAdded {
				b.WriteString(l.Content)
				b.WriteByte('\n')
			}
		}
	}
	return b.String()
}

// Stats counts added and removed lines.
func (fc FileChange) Stats() (added, removed int) {
	for _, h := range fc.Hunks {
		added += len(h.AddedLines)
		removed += len(h.RemovedLines)
	}
	return added, removed
}
