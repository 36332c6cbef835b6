package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/patchpilot/patchpilot/internal/issue"
	"github.com/patchpilot/patchpilot/internal/llm"
	"github.com/patchpilot/patchpilot/internal/prompts"
	"github.com/patchpilot/patchpilot/internal/provider"
)

// NoChangesPatch stands in for the git patch when the agent produced no diff,
// so classifier prompts never render an empty changes section.
const NoChangesPatch = "No changes made yet"

// Result is the classifier verdict for one issue or pull request.
// SuccessList is per-feedback-channel detail and is only populated in PR
// mode; Explanation is a JSON array of strings in that case.
type Result struct {
	Success     bool
	SuccessList []bool
	Explanation string
}

// Classifier decides whether an agent run resolved its issue, using an LLM
// to judge the run against the issue's feedback.
type Classifier struct {
	client llm.Client
}

// New creates a Classifier backed by the given LLM client.
func New(client llm.Client) *Classifier {
	return &Classifier{client: client}
}

var verdictPattern = regexp.MustCompile(`--- success\n*((?i:true|false))\n*--- explanation*\n((?:.|\n)*)`)

// parseVerdict extracts the success flag and explanation from a model
// answer. The bool is matched case-insensitively; an answer that doesn't
// match the expected format yields a failed verdict carrying the raw text.
func parseVerdict(answer string) (bool, string) {
	answer = strings.TrimSpace(answer)
	if m := verdictPattern.FindStringSubmatch(answer); m != nil {
		return strings.EqualFold(m[1], "true"), strings.TrimSpace(m[2])
	}
	return false, "Failed to decode answer from LLM response: " + answer
}

func orPlaceholder(gitPatch string) string {
	if strings.TrimSpace(gitPatch) == "" {
		return NoChangesPatch
	}
	return gitPatch
}

// GuessIssueSuccess judges a plain issue resolution run.
func (c *Classifier) GuessIssueSuccess(ctx context.Context, iss provider.Issue, lastMessage, gitPatch string) (Result, error) {
	prompt, err := prompts.Execute("issue-success-check.md", map[string]string{
		"issue_context": issue.SuccessContext(iss),
		"last_message":  lastMessage,
		"git_patch":     orPlaceholder(gitPatch),
	})
	if err != nil {
		return Result{}, err
	}
	answer, err := c.client.Complete(ctx, prompt)
	if err != nil {
		return Result{}, fmt.Errorf("classifying issue %d: %w", iss.Number, err)
	}
	success, explanation := parseVerdict(answer)
	return Result{Success: success, Explanation: explanation}, nil
}

// GuessPRSuccess judges a pull request followup run. Feedback channels are
// consulted in priority order: file-scoped review threads, then conversation
// comments, then top-level reviews. Only the first non-empty channel is
// judged.
func (c *Classifier) GuessPRSuccess(ctx context.Context, iss provider.Issue, lastMessage, gitPatch string) (Result, error) {
	issuesContext := issue.IssuesContext(iss)
	gitPatch = orPlaceholder(gitPatch)

	var successes []bool
	var explanations []string

	switch {
	case len(iss.ReviewThreads) > 0:
		for _, thread := range iss.ReviewThreads {
			if issuesContext == "" || lastMessage == "" {
				successes = append(successes, false)
				explanations = append(explanations, "Missing context or message")
				continue
			}
			ok, explanation, err := c.checkReviewThread(ctx, thread, issuesContext, lastMessage, gitPatch)
			if err != nil {
				return Result{}, err
			}
			successes = append(successes, ok)
			explanations = append(explanations, explanation)
		}
	case len(iss.ThreadComments) > 0:
		if issuesContext == "" || lastMessage == "" {
			successes = append(successes, false)
			explanations = append(explanations, "Missing thread comments, context or message")
			break
		}
		ok, explanation, err := c.checkThreadComments(ctx, iss.ThreadComments, issuesContext, lastMessage, gitPatch)
		if err != nil {
			return Result{}, err
		}
		successes = append(successes, ok)
		explanations = append(explanations, explanation)
	case len(iss.ReviewComments) > 0:
		if issuesContext == "" || lastMessage == "" {
			successes = append(successes, false)
			explanations = append(explanations, "Missing review comments, context or message")
			break
		}
		ok, explanation, err := c.checkReviewComments(ctx, iss.ReviewComments, issuesContext, lastMessage, gitPatch)
		if err != nil {
			return Result{}, err
		}
		successes = append(successes, ok)
		explanations = append(explanations, explanation)
	default:
		return Result{Explanation: "No feedback was found to process"}, nil
	}

	all := true
	for _, ok := range successes {
		if !ok {
			all = false
			break
		}
	}
	encoded, err := json.Marshal(explanations)
	if err != nil {
		return Result{}, err
	}
	return Result{Success: all, SuccessList: successes, Explanation: string(encoded)}, nil
}

func (c *Classifier) checkReviewThread(ctx context.Context, thread provider.ReviewThread, issuesContext, lastMessage, gitPatch string) (bool, string, error) {
	files, err := json.MarshalIndent(thread.Files, "", "    ")
	if err != nil {
		return false, "", err
	}
	prompt, err := prompts.Execute("pr-feedback-check.md", map[string]string{
		"issue_context": issuesContext,
		"feedback":      thread.Comment,
		"files_context": string(files),
		"last_message":  lastMessage,
		"git_patch":     gitPatch,
	})
	if err != nil {
		return false, "", err
	}
	return c.checkWithLLM(ctx, prompt)
}

func (c *Classifier) checkThreadComments(ctx context.Context, comments []string, issuesContext, lastMessage, gitPatch string) (bool, string, error) {
	prompt, err := prompts.Execute("pr-thread-check.md", map[string]string{
		"issue_context":  issuesContext,
		"thread_context": strings.Join(comments, "\n---\n"),
		"last_message":   lastMessage,
		"git_patch":      gitPatch,
	})
	if err != nil {
		return false, "", err
	}
	return c.checkWithLLM(ctx, prompt)
}

func (c *Classifier) checkReviewComments(ctx context.Context, reviews []string, issuesContext, lastMessage, gitPatch string) (bool, string, error) {
	prompt, err := prompts.Execute("pr-review-check.md", map[string]string{
		"issue_context":  issuesContext,
		"review_context": strings.Join(reviews, "\n---\n"),
		"last_message":   lastMessage,
		"git_patch":      gitPatch,
	})
	if err != nil {
		return false, "", err
	}
	return c.checkWithLLM(ctx, prompt)
}

func (c *Classifier) checkWithLLM(ctx context.Context, prompt string) (bool, string, error) {
	answer, err := c.client.Complete(ctx, prompt)
	if err != nil {
		return false, "", fmt.Errorf("checking feedback: %w", err)
	}
	success, explanation := parseVerdict(answer)
	return success, explanation, nil
}
