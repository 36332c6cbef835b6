// Package prompts holds the instruction and classifier templates shipped
// with patchpilot. Any template can be overridden by dropping a file with
// the same name into ~/.config/patchpilot/prompts/.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

//go:embed *.md
var builtin embed.FS

// Execute renders the named template with data.
func Execute(name string, data map[string]string) (string, error) {
	tmpl, err := load(name)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing prompt template %s: %w", name, err)
	}
	return buf.String(), nil
}

func load(name string) (*template.Template, error) {
	src, err := read(name)
	if err != nil {
		return nil, fmt.Errorf("loading prompt template %s: %w", name, err)
	}
	return template.New(name).Parse(src)
}

// read prefers a user override on disk over the embedded copy.
func read(name string) (string, error) {
	if configDir, err := os.UserConfigDir(); err == nil {
		override := filepath.Join(configDir, "patchpilot", "prompts", name)
		if data, err := os.ReadFile(override); err == nil {
			return string(data), nil
		}
	}
	data, err := builtin.ReadFile(name)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
