// Package store handles the markdown-with-frontmatter documents patchpilot
// keeps inside repositories and the advisory lock guarding the resolution
// log.
package store

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/frontmatter"
	"gopkg.in/yaml.v3"
)

// Document is a markdown file with an optional YAML frontmatter block.
type Document struct {
	Frontmatter map[string]any
	Body        string
}

// ReadDocument parses the file at path. A plain markdown file without a
// frontmatter block yields an empty frontmatter map and the full file
// content as the body.
func ReadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading document %s: %w", path, err)
	}

	var matter map[string]any
	body, err := frontmatter.Parse(strings.NewReader(string(data)), &matter)
	if err != nil {
		slog.Debug("document has no frontmatter", "path", path, "error", err)
		return &Document{Frontmatter: map[string]any{}, Body: string(data)}, nil
	}
	if matter == nil {
		matter = map[string]any{}
	}
	return &Document{Frontmatter: matter, Body: string(body)}, nil
}

// WriteDocument serializes doc to path, creating parent directories as
// needed. The frontmatter block is omitted when the map is empty. The write
// goes through a temp file and rename so readers never observe a partial
// document.
func WriteDocument(path string, doc *Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}

	var buf bytes.Buffer
	if len(doc.Frontmatter) > 0 {
		matter, err := yaml.Marshal(doc.Frontmatter)
		if err != nil {
			return fmt.Errorf("marshaling frontmatter: %w", err)
		}
		buf.WriteString("---\n")
		buf.Write(matter)
		buf.WriteString("---\n\n")
	}
	buf.WriteString(doc.Body)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// GetBool reads a bool frontmatter value, returning false when the key is
// absent or holds another type.
func GetBool(fm map[string]any, key string) bool {
	b, _ := fm[key].(bool)
	return b
}
