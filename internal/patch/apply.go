package patch

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const defaultNewline = "\n"

// Apply parses patch and applies every file entry to the tree rooted at
// repoDir. Entries are applied in order; the first failure aborts.
func Apply(repoDir, patch string) error {
	diffs, err := Parse(patch)
	if err != nil {
		return err
	}
	for _, d := range diffs {
		if err := applyFile(repoDir, d); err != nil {
			return err
		}
	}
	return nil
}

func applyFile(repoDir string, d FileDiff) error {
	switch d.State {
	case Deleted:
		return deleteFile(repoDir, d.OldPath)
	case Renamed:
		if err := renameFile(repoDir, d.OldPath, d.NewPath); err != nil {
			return err
		}
		if len(d.Hunks) == 0 {
			return nil
		}
		return patchFile(repoDir, d.NewPath, d.NewPath, d.Hunks)
	case Created:
		return patchFile(repoDir, "", d.NewPath, d.Hunks)
	default:
		old := d.OldPath
		if old == "" {
			old = d.NewPath
		}
		return patchFile(repoDir, old, d.NewPath, d.Hunks)
	}
}

// deleteFile removes the file if present. A missing target is not an error.
func deleteFile(repoDir, path string) error {
	abs := filepath.Join(repoDir, filepath.FromSlash(path))
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("patch deletes a file that is already absent", "path", path)
			return nil
		}
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// renameFile moves old to new, creating parents as needed and pruning
// directories the move leaves empty.
func renameFile(repoDir, oldPath, newPath string) error {
	src := filepath.Join(repoDir, filepath.FromSlash(oldPath))
	dst := filepath.Join(repoDir, filepath.FromSlash(newPath))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("rename %s: %w", oldPath, err)
	}
	if err := os.Rename(src, dst); err != nil {
		if err := copyThenRemove(src, dst); err != nil {
			return fmt.Errorf("rename %s to %s: %w", oldPath, newPath, err)
		}
	}
	pruneEmptyDirs(repoDir, filepath.Dir(src))
	return nil
}

func copyThenRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// pruneEmptyDirs removes dir and any empty ancestors, stopping at root.
func pruneEmptyDirs(root, dir string) {
	root = filepath.Clean(root)
	for dir = filepath.Clean(dir); dir != root && strings.HasPrefix(dir, root); dir = filepath.Dir(dir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}

// patchFile applies hunks against oldPath's content and writes the result to
// newPath, preserving the file's newline convention.
func patchFile(repoDir, oldPath, newPath string, hunks []Hunk) error {
	var oldLines []string
	newline := defaultNewline

	if oldPath != "" {
		abs := filepath.Join(repoDir, filepath.FromSlash(oldPath))
		raw, err := os.ReadFile(abs)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// Treat a missing modify target like a create.
		case err != nil:
			return fmt.Errorf("read %s: %w", oldPath, err)
		default:
			newline = sniffNewline(raw)
			if !utf8.Valid(raw) {
				slog.Error("cannot decode file, applying patch to empty content", "path", oldPath)
			} else {
				oldLines = splitLines(string(raw))
			}
		}
	}

	newLines, err := applyHunks(oldLines, hunks, newPath)
	if err != nil {
		return err
	}

	abs := filepath.Join(repoDir, filepath.FromSlash(newPath))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", newPath, err)
	}
	var b strings.Builder
	for _, line := range newLines {
		b.WriteString(line)
		b.WriteString(newline)
	}
	if err := os.WriteFile(abs, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", newPath, err)
	}
	return nil
}

// applyHunks replays the hunk operations over old, verifying that context
// and removal lines match what the file actually contains.
func applyHunks(old []string, hunks []Hunk, path string) ([]string, error) {
	var out []string
	cursor := 0

	for _, h := range hunks {
		start := h.OldStart - 1
		if start < 0 {
			start = 0
		}
		if start < cursor || start > len(old) {
			return nil, fmt.Errorf("%s: hunk start %d outside file", path, h.OldStart)
		}
		out = append(out, old[cursor:start]...)
		cursor = start

		for _, line := range h.Lines {
			switch line.Op {
			case OpAdd:
				out = append(out, line.Text)
			case OpContext, OpRemove:
				if cursor >= len(old) {
					return nil, fmt.Errorf("%s: hunk extends past end of file at line %d", path, cursor+1)
				}
				if old[cursor] != line.Text {
					return nil, fmt.Errorf("%s: hunk mismatch at line %d: have %q, patch expects %q",
						path, cursor+1, old[cursor], line.Text)
				}
				if line.Op == OpContext {
					out = append(out, line.Text)
				}
				cursor++
			}
		}
	}

	out = append(out, old[cursor:]...)
	return out, nil
}

// sniffNewline picks the convention used by raw, preferring \r\n when both
// appear.
func sniffNewline(raw []byte) string {
	if strings.Contains(string(raw), "\r\n") {
		return "\r\n"
	}
	if strings.Contains(string(raw), "\n") {
		return "\n"
	}
	return defaultNewline
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}
