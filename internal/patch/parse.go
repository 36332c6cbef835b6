package patch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// State classifies what a file diff does to its target.
type State int

const (
	Modified State = iota
	Created
	Deleted
	Renamed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	default:
		return "modified"
	}
}

// Op is a single hunk line operation.
type Op int

const (
	OpContext Op = iota
	OpAdd
	OpRemove
)

// Line is one operation within a hunk.
type Line struct {
	Op   Op
	Text string
}

// Hunk is a contiguous block of line operations with its position in the
// old and new file.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// FileDiff is one file entry of a unified git diff. Paths have the a/ and b/
// prefixes stripped; a /dev/null side is the empty string.
type FileDiff struct {
	OldPath string
	NewPath string
	State   State
	Hunks   []Hunk
}

var (
	diffGitPattern  = regexp.MustCompile(`^diff --git (?:"?a/(.+?)"?) (?:"?b/(.+?)"?)$`)
	hunkPattern     = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)
	renameFromLabel = "rename from "
	renameToLabel   = "rename to "
)

// Parse splits a unified git diff into per-file entries. Binary patches are
// not supported and yield an error.
func Parse(text string) ([]FileDiff, error) {
	var diffs []FileDiff
	var cur *FileDiff

	flush := func() {
		if cur != nil {
			diffs = append(diffs, *cur)
			cur = nil
		}
	}

	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if m := diffGitPattern.FindStringSubmatch(line); m != nil {
			flush()
			cur = &FileDiff{OldPath: m[1], NewPath: m[2]}
			continue
		}
		if cur == nil {
			continue
		}

		switch {
		case strings.HasPrefix(line, "new file mode "):
			cur.State = Created
		case strings.HasPrefix(line, "deleted file mode "):
			cur.State = Deleted
		case strings.HasPrefix(line, renameFromLabel):
			cur.State = Renamed
			cur.OldPath = strings.TrimPrefix(line, renameFromLabel)
		case strings.HasPrefix(line, renameToLabel):
			cur.NewPath = strings.TrimPrefix(line, renameToLabel)
		case strings.HasPrefix(line, "Binary files "), line == "GIT binary patch":
			return nil, fmt.Errorf("binary patch for %s is not supported", cur.NewPath)
		case strings.HasPrefix(line, "--- "):
			if strings.TrimSpace(line[4:]) == "/dev/null" {
				cur.State = Created
				cur.OldPath = ""
			}
		case strings.HasPrefix(line, "+++ "):
			if strings.TrimSpace(line[4:]) == "/dev/null" {
				cur.State = Deleted
				cur.NewPath = ""
			}
		default:
			if m := hunkPattern.FindStringSubmatch(line); m != nil {
				h, consumed, err := parseHunk(m, lines[i+1:])
				if err != nil {
					return nil, fmt.Errorf("%s: %w", cur.NewPath, err)
				}
				cur.Hunks = append(cur.Hunks, h)
				i += consumed
			}
		}
	}
	flush()

	if len(diffs) == 0 && strings.TrimSpace(text) != "" {
		return nil, fmt.Errorf("no diff --git entries found in patch")
	}
	return diffs, nil
}

// parseHunk reads hunk body lines following an @@ header. Returns the hunk
// and the number of body lines consumed.
func parseHunk(header []string, rest []string) (Hunk, int, error) {
	h := Hunk{
		OldStart: atoiDefault(header[1], 0),
		OldLines: atoiDefault(header[2], 1),
		NewStart: atoiDefault(header[3], 0),
		NewLines: atoiDefault(header[4], 1),
	}

	oldSeen, newSeen := 0, 0
	consumed := 0
	for _, line := range rest {
		if oldSeen >= h.OldLines && newSeen >= h.NewLines {
			break
		}
		if line == `\ No newline at end of file` {
			consumed++
			continue
		}
		if line == "" && oldSeen+newSeen == 0 {
			break
		}
		var op Op
		var text string
		switch {
		case strings.HasPrefix(line, "+"):
			op, text = OpAdd, line[1:]
			newSeen++
		case strings.HasPrefix(line, "-"):
			op, text = OpRemove, line[1:]
			oldSeen++
		case strings.HasPrefix(line, " "):
			op, text = OpContext, line[1:]
			oldSeen++
			newSeen++
		case line == "":
			// Some tools emit empty context lines without the leading space.
			op, text = OpContext, ""
			oldSeen++
			newSeen++
		default:
			return h, consumed, fmt.Errorf("unexpected hunk line %q", line)
		}
		h.Lines = append(h.Lines, Line{Op: op, Text: text})
		consumed++
	}

	if oldSeen < h.OldLines || newSeen < h.NewLines {
		return h, consumed, fmt.Errorf("truncated hunk @@ -%d,%d +%d,%d @@",
			h.OldStart, h.OldLines, h.NewStart, h.NewLines)
	}
	return h, consumed, nil
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
