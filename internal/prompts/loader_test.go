package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteAllTemplates(t *testing.T) {
	names := []string{
		"issue-resolve.md",
		"pr-followup.md",
		"issue-success-check.md",
		"pr-feedback-check.md",
		"pr-thread-check.md",
		"pr-review-check.md",
		"pr-update-summary.md",
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			out, err := Execute(name, map[string]string{})
			require.NoError(t, err)
			assert.NotEmpty(t, out)
		})
	}
}

func TestExecuteNonExistent(t *testing.T) {
	_, err := Execute("nonexistent-template.md", nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "loading prompt template")
}

func TestExecuteIssueResolveTemplate(t *testing.T) {
	data := map[string]string{
		"body":             "Crash on empty input\n\nThe parser panics when given an empty file.",
		"repo_instruction": "Run make lint before committing.",
	}

	result, err := Execute("issue-resolve.md", data)
	require.NoError(t, err)
	assert.Contains(t, result, "Crash on empty input")
	assert.Contains(t, result, "Run make lint")
	assert.Contains(t, result, "Repository Instructions")
}

func TestExecuteIssueResolveTemplate_NoRepoInstruction(t *testing.T) {
	result, err := Execute("issue-resolve.md", map[string]string{
		"body": "Parser panics",
	})
	require.NoError(t, err)
	assert.Contains(t, result, "Parser panics")
	assert.NotContains(t, result, "Repository Instructions")
}

func TestExecutePRFollowupTemplate(t *testing.T) {
	data := map[string]string{
		"issues":         "Issue #12: fix flaky test",
		"review_threads": "please add a nil check\n---\nlatest feedback:\nuse errors.Is here",
		"files":          "internal/retry/retry.go",
	}

	result, err := Execute("pr-followup.md", data)
	require.NoError(t, err)
	assert.Contains(t, result, "Issue #12")
	assert.Contains(t, result, "use errors.Is here")
	assert.Contains(t, result, "internal/retry/retry.go")
	assert.NotContains(t, result, "# Review Comments")
}

func TestExecuteSuccessCheckTemplate(t *testing.T) {
	data := map[string]string{
		"issue_context": "The CLI crashes on --help",
		"last_message":  "I fixed the flag parsing and added a test.",
		"git_patch":     "diff --git a/main.go b/main.go",
	}

	result, err := Execute("issue-success-check.md", data)
	require.NoError(t, err)
	assert.Contains(t, result, "The CLI crashes on --help")
	assert.Contains(t, result, "--- success")
	assert.Contains(t, result, "--- explanation")
}
