package resolve

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/patchpilot/patchpilot/internal/provider"
	"github.com/patchpilot/patchpilot/internal/store"
)

// Output is the record emitted for every attempted resolution, success or
// not. One line per issue in output.jsonl.
type Output struct {
	Issue             provider.Issue `json:"issue"`
	IssueType         string         `json:"issue_type"`
	Instruction       string         `json:"instruction"`
	BaseCommit        string         `json:"base_commit"`
	GitPatch          string         `json:"git_patch,omitempty"`
	History           []string       `json:"history,omitempty"`
	Metrics           map[string]any `json:"metrics,omitempty"`
	Success           bool           `json:"success"`
	CommentSuccess    []bool         `json:"comment_success,omitempty"`
	ResultExplanation string         `json:"result_explanation,omitempty"`
	Error             string         `json:"error,omitempty"`
}

// OutputPath returns the path of the resolution log inside outputDir.
func OutputPath(outputDir string) string {
	return filepath.Join(outputDir, "output.jsonl")
}

// AppendOutput appends one record to the log under a file lock, so parallel
// workers never interleave lines.
func AppendOutput(path string, out *Output) error {
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encoding output for issue %d: %w", out.Issue.Number, err)
	}
	return store.WithLock(path, store.DefaultLockTimeout, func() error {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := f.Write(append(data, '\n')); err != nil {
			return err
		}
		return f.Sync()
	})
}

// LoadOutputs reads all records from the log. A missing file yields no
// records and no error.
func LoadOutputs(path string) ([]Output, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var outputs []Output
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var out Output
		if err := json.Unmarshal(line, &out); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		outputs = append(outputs, out)
	}
	return outputs, scanner.Err()
}

// LoadOutput returns the record for one issue number.
func LoadOutput(path string, number int) (*Output, error) {
	outputs, err := LoadOutputs(path)
	if err != nil {
		return nil, err
	}
	for i := range outputs {
		if outputs[i].Issue.Number == number {
			return &outputs[i], nil
		}
	}
	return nil, fmt.Errorf("no resolution output found for issue %d in %s", number, path)
}

// ResolvedNumbers returns the issue numbers already present in the log.
func ResolvedNumbers(path string) (map[int]bool, error) {
	outputs, err := LoadOutputs(path)
	if err != nil {
		return nil, err
	}
	done := make(map[int]bool, len(outputs))
	for _, out := range outputs {
		done[out.Issue.Number] = true
	}
	return done, nil
}
