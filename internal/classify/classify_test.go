package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchpilot/patchpilot/internal/llm"
	"github.com/patchpilot/patchpilot/internal/provider"
)

const passVerdict = "--- success\ntrue\n--- explanation\nThe fix addresses the feedback."
const failVerdict = "--- success\nfalse\n--- explanation\nThe nil check is still missing."

func TestParseVerdict(t *testing.T) {
	ok, explanation := parseVerdict(passVerdict)
	assert.True(t, ok)
	assert.Equal(t, "The fix addresses the feedback.", explanation)

	ok, explanation = parseVerdict(failVerdict)
	assert.False(t, ok)
	assert.Equal(t, "The nil check is still missing.", explanation)
}

func TestParseVerdict_ExtraBlankLines(t *testing.T) {
	ok, explanation := parseVerdict("--- success\n\ntrue\n\n--- explanation\n\ndone")
	assert.True(t, ok)
	assert.Equal(t, "done", explanation)
}

func TestParseVerdict_CapitalizedBool(t *testing.T) {
	ok, explanation := parseVerdict("--- success\nTrue\n--- explanation\nall good")
	assert.True(t, ok)
	assert.Equal(t, "all good", explanation)

	ok, _ = parseVerdict("--- success\nFALSE\n--- explanation\nnope")
	assert.False(t, ok)
}

func TestParseVerdict_Malformed(t *testing.T) {
	ok, explanation := parseVerdict("I think it worked, great job!")
	assert.False(t, ok)
	assert.Contains(t, explanation, "Failed to decode answer from LLM response")
	assert.Contains(t, explanation, "I think it worked")
}

func TestGuessIssueSuccess(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Responses = []string{passVerdict}

	c := New(mock)
	result, err := c.GuessIssueSuccess(t.Context(), provider.Issue{
		Number: 7,
		Body:   "Panic on empty input",
	}, "Fixed by guarding the parser.", "diff --git a/p.go b/p.go")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Nil(t, result.SuccessList)
	assert.Equal(t, "The fix addresses the feedback.", result.Explanation)

	prompt := mock.PromptHistory()[0]
	assert.Contains(t, prompt, "Panic on empty input")
	assert.Contains(t, prompt, "Fixed by guarding the parser.")
}

func TestGuessIssueSuccess_EmptyPatchUsesPlaceholder(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Responses = []string{failVerdict}

	c := New(mock)
	_, err := c.GuessIssueSuccess(t.Context(), provider.Issue{Body: "bug"}, "gave up", "")
	require.NoError(t, err)
	assert.Contains(t, mock.PromptHistory()[0], NoChangesPatch)
}

func TestGuessPRSuccess_ReviewThreadsAllMustPass(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Responses = []string{passVerdict, failVerdict}

	c := New(mock)
	iss := provider.Issue{
		ClosingIssues: []string{"original bug report"},
		ReviewThreads: []provider.ReviewThread{
			{Comment: "add a test", Files: []string{"a.go"}},
			{Comment: "handle nil", Files: []string{"b.go"}},
		},
	}
	result, err := c.GuessPRSuccess(t.Context(), iss, "done", "some patch")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, []bool{true, false}, result.SuccessList)
	assert.JSONEq(t,
		`["The fix addresses the feedback.","The nil check is still missing."]`,
		result.Explanation)
}

func TestGuessPRSuccess_ThreadCommentsChannel(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Responses = []string{passVerdict}

	c := New(mock)
	iss := provider.Issue{
		ClosingIssues:  []string{"bug"},
		ThreadComments: []string{"please rebase", "latest feedback:\nalso fix lint"},
	}
	result, err := c.GuessPRSuccess(t.Context(), iss, "done", "patch")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, []bool{true}, result.SuccessList)
	assert.Contains(t, mock.PromptHistory()[0], "please rebase\n---\nlatest feedback:\nalso fix lint")
}

func TestGuessPRSuccess_ReviewCommentsChannel(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Responses = []string{passVerdict}

	c := New(mock)
	iss := provider.Issue{
		ClosingIssues:  []string{"bug"},
		ReviewComments: []string{"LGTM once CI is green"},
	}
	result, err := c.GuessPRSuccess(t.Context(), iss, "done", "patch")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, mock.PromptHistory()[0], "LGTM once CI is green")
}

func TestGuessPRSuccess_ThreadsTakePriority(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Responses = []string{passVerdict}

	c := New(mock)
	iss := provider.Issue{
		ClosingIssues:  []string{"bug"},
		ReviewThreads:  []provider.ReviewThread{{Comment: "thread feedback"}},
		ThreadComments: []string{"conversation comment"},
		ReviewComments: []string{"review body"},
	}
	_, err := c.GuessPRSuccess(t.Context(), iss, "done", "patch")
	require.NoError(t, err)

	require.Len(t, mock.PromptHistory(), 1)
	assert.Contains(t, mock.PromptHistory()[0], "thread feedback")
	assert.NotContains(t, mock.PromptHistory()[0], "conversation comment")
}

func TestGuessPRSuccess_NoFeedback(t *testing.T) {
	c := New(llm.NewMockClient())
	result, err := c.GuessPRSuccess(t.Context(), provider.Issue{}, "done", "patch")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Nil(t, result.SuccessList)
	assert.Equal(t, "No feedback was found to process", result.Explanation)
}

func TestGuessPRSuccess_MissingLastMessage(t *testing.T) {
	c := New(llm.NewMockClient())
	iss := provider.Issue{
		ClosingIssues: []string{"bug"},
		ReviewThreads: []provider.ReviewThread{{Comment: "feedback"}},
	}
	result, err := c.GuessPRSuccess(t.Context(), iss, "", "patch")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, []bool{false}, result.SuccessList)
	assert.JSONEq(t, `["Missing context or message"]`, result.Explanation)
}

func TestGuessPRSuccess_ThreadCommentsMissingMessage(t *testing.T) {
	mock := llm.NewMockClient()
	c := New(mock)
	iss := provider.Issue{
		ClosingIssues:  []string{"bug"},
		ThreadComments: []string{"please rebase"},
	}
	result, err := c.GuessPRSuccess(t.Context(), iss, "", "patch")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.JSONEq(t, `["Missing thread comments, context or message"]`, result.Explanation)
	assert.Empty(t, mock.PromptHistory())
}

func TestGuessPRSuccess_ReviewCommentsMissingMessage(t *testing.T) {
	mock := llm.NewMockClient()
	c := New(mock)
	iss := provider.Issue{
		ClosingIssues:  []string{"bug"},
		ReviewComments: []string{"needs work"},
	}
	result, err := c.GuessPRSuccess(t.Context(), iss, "", "patch")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.JSONEq(t, `["Missing review comments, context or message"]`, result.Explanation)
	assert.Empty(t, mock.PromptHistory())
}
