package issue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchpilot/patchpilot/internal/provider"
)

func TestLoadRepoInstruction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".patchpilot", "instructions.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path,
		[]byte("---\ntitle: Guidance\n---\n\nAlways run make lint.\n"), 0o644))

	got := LoadRepoInstruction(dir)
	assert.Equal(t, "Always run make lint.", got)
}

func TestLoadRepoInstruction_Disabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".patchpilot", "instructions.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path,
		[]byte("---\ndisabled: true\n---\n\nIgnore me.\n"), 0o644))

	assert.Empty(t, LoadRepoInstruction(dir))
}

func TestLoadRepoInstruction_Missing(t *testing.T) {
	assert.Empty(t, LoadRepoInstruction(t.TempDir()))
}

func TestScaffoldRepoInstruction(t *testing.T) {
	dir := t.TempDir()

	path, err := ScaffoldRepoInstruction(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".patchpilot", "instructions.md"), path)

	got := LoadRepoInstruction(dir)
	assert.Contains(t, got, "build, test, and style conventions")

	// A second scaffold must not clobber the existing document.
	path, err = ScaffoldRepoInstruction(dir)
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestBuildIssueInstruction(t *testing.T) {
	iss := provider.Issue{
		Title:          "Crash on startup",
		Body:           "The binary exits with a panic when run without arguments.",
		ThreadComments: []string{"Also happens on macOS.", "Confirmed on v1.2."},
	}

	got, err := BuildInstruction(iss, provider.TypeIssue, "Use tabs for indentation.")
	require.NoError(t, err)
	assert.Contains(t, got, "Crash on startup")
	assert.Contains(t, got, "panic when run without arguments")
	assert.Contains(t, got, "Issue Thread Comments:\nAlso happens on macOS.\n---\nConfirmed on v1.2.")
	assert.Contains(t, got, "Use tabs for indentation.")
}

func TestBuildPRInstruction(t *testing.T) {
	iss := provider.Issue{
		Title:         "Fix retry logic",
		Body:          "PR body",
		ClosingIssues: []string{"Retries never back off."},
		ReviewThreads: []provider.ReviewThread{
			{Comment: "Please use exponential backoff.", Files: []string{"internal/retry/retry.go"}},
		},
		ThreadComments: []string{"Looks close.", "latest feedback:\nOne more nit."},
	}

	got, err := BuildInstruction(iss, provider.TypePR, "")
	require.NoError(t, err)
	assert.Contains(t, got, "Retries never back off.")
	assert.Contains(t, got, "Please use exponential backoff.")
	assert.Contains(t, got, "internal/retry/retry.go")
	assert.Contains(t, got, "Looks close.\n---\nlatest feedback:\nOne more nit.")
	assert.NotContains(t, got, "Repository Instructions")
}

func TestSuccessContext(t *testing.T) {
	iss := provider.Issue{Body: "body text"}
	assert.Equal(t, "body text", SuccessContext(iss))

	iss.ThreadComments = []string{"a", "b"}
	assert.Equal(t, "body text\n\nIssue Thread Comments:\na\n---\nb", SuccessContext(iss))
}
