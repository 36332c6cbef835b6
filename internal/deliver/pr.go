package deliver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/patchpilot/patchpilot/internal/config"
	"github.com/patchpilot/patchpilot/internal/llm"
	"github.com/patchpilot/patchpilot/internal/prompts"
	"github.com/patchpilot/patchpilot/internal/provider"
	"github.com/patchpilot/patchpilot/internal/repo"
)

const attributionFooter = "\n\nAutomatic fix generated by [PatchPilot](https://github.com/patchpilot/patchpilot) 🙌"

// SendPullRequest pushes the committed fix to a fresh branch and, unless
// branch-only delivery was chosen, opens a pull request against the target
// branch. Returns the pull request URL, or the branch compare URL in
// branch-only mode.
func SendPullRequest(ctx context.Context, a provider.Adapter, iss provider.Issue, repoDir, additionalMessage string, opts Options) (string, error) {
	if !opts.PR.Type.Valid() {
		return "", fmt.Errorf("invalid pr type: %s", opts.PR.Type)
	}

	base := fmt.Sprintf("%s%d", opts.PR.BranchPrefix, iss.Number)
	branch, err := provider.UniqueBranchName(ctx, a, base)
	if err != nil {
		return "", err
	}

	var baseBranch string
	if opts.TargetBranch != "" {
		exists, err := a.BranchExists(ctx, opts.TargetBranch)
		if err != nil {
			return "", fmt.Errorf("checking target branch: %w", err)
		}
		if !exists {
			return "", fmt.Errorf("target branch %s does not exist", opts.TargetBranch)
		}
		baseBranch = opts.TargetBranch
	} else {
		baseBranch, err = a.DefaultBranch(ctx)
		if err != nil {
			return "", fmt.Errorf("getting default branch: %w", err)
		}
	}

	if err := repo.CheckoutNewBranch(ctx, repoDir, branch); err != nil {
		return "", fmt.Errorf("creating branch %s: %w", branch, err)
	}

	pushOwner := iss.Owner
	if opts.ForkOwner != "" {
		pushOwner = opts.ForkOwner
	}
	a.SetOwner(pushOwner)

	slog.Info("pushing changes", "branch", branch, "owner", pushOwner)
	if err := repo.Push(ctx, repoDir, a.CloneURL(), branch); err != nil {
		return "", fmt.Errorf("pushing branch %s: %w", branch, err)
	}

	if opts.PR.Type == config.PRTypeBranch {
		url := a.CompareURL(branch)
		slog.Info("branch pushed, open a pull request manually", "url", url)
		return url, nil
	}

	title := opts.Title
	if title == "" {
		title = fmt.Sprintf("Fix issue #%d: %s", iss.Number, iss.Title)
	}
	body := fmt.Sprintf("This pull request fixes #%d.", iss.Number)
	if additionalMessage != "" {
		body += "\n\n" + additionalMessage
	}
	body += attributionFooter

	head := branch
	if a.Platform() == provider.PlatformGitHub && pushOwner != iss.Owner {
		// Cross-repo pull requests name the head as owner:branch.
		head = pushOwner + ":" + branch
	}

	pr, err := a.CreatePullRequest(ctx, provider.NewPullRequest{
		Title: title,
		Body:  body,
		Head:  head,
		Base:  baseBranch,
		Draft: opts.PR.Type == config.PRTypeDraft,
	})
	if err != nil {
		return "", fmt.Errorf("creating pull request: %w", err)
	}
	slog.Info("pull request created", "url", pr.URL, "title", title)

	if opts.Reviewer != "" {
		if err := a.RequestReviewers(ctx, opts.Reviewer, pr.Number); err != nil {
			slog.Warn("could not request reviewer", "reviewer", opts.Reviewer, "error", err)
		}
	}
	return pr.URL, nil
}

// UpdateExistingPullRequest pushes new commits to the pull request's head
// branch, posts a summary comment, and replies to each unresolved review
// thread with its matching explanation.
func UpdateExistingPullRequest(ctx context.Context, a provider.Adapter, iss provider.Issue, repoDir, additionalMessage string, summarizer llm.Client) (string, error) {
	if iss.HeadBranch == "" {
		return "", fmt.Errorf("pull request #%d has no head branch", iss.Number)
	}

	if err := repo.Push(ctx, repoDir, a.CloneURL(), iss.HeadBranch); err != nil {
		return "", fmt.Errorf("pushing to %s: %w", iss.HeadBranch, err)
	}
	prURL := a.PullURL(iss.Number)
	slog.Info("updated pull request with new patches", "url", prURL)

	explanations, parseErr := parseExplanations(additionalMessage)

	if additionalMessage != "" {
		var comment string
		if parseErr == nil && len(explanations) > 0 {
			comment = "The following changes were made to resolve the feedback:\n\n"
			for _, explanation := range explanations {
				comment += "- " + explanation + "\n"
			}
			comment = summarizeComment(ctx, summarizer, comment)
		} else if parseErr != nil {
			comment = "A new update is available, but the changes could not be parsed or summarized:\n" + additionalMessage
		}
		if comment != "" {
			if err := a.SendComment(ctx, iss.Number, comment); err != nil {
				return "", fmt.Errorf("posting summary comment: %w", err)
			}
		}
	}

	if additionalMessage != "" && len(iss.ThreadIDs) > 0 {
		if parseErr != nil {
			msg := "Error occurred when replying to threads; success explanations: " + additionalMessage
			if err := a.SendComment(ctx, iss.Number, msg); err != nil {
				return "", fmt.Errorf("posting fallback comment: %w", err)
			}
		} else {
			for i, reply := range explanations {
				if i >= len(iss.ThreadIDs) {
					break
				}
				if err := a.ReplyToComment(ctx, iss.Number, iss.ThreadIDs[i], reply); err != nil {
					return "", fmt.Errorf("replying to thread %s: %w", iss.ThreadIDs[i], err)
				}
			}
		}
	}

	return prURL, nil
}

// parseExplanations decodes the classifier's per-thread explanation array.
// Lenient parsing handles explanations that passed through an LLM summary
// step and picked up surrounding prose.
func parseExplanations(additionalMessage string) ([]string, error) {
	if additionalMessage == "" {
		return nil, nil
	}
	return llm.ParseJSON[[]string](additionalMessage)
}

// summarizeComment condenses the bullet list with the LLM when available;
// the raw list is used as-is when no summarizer is configured or it fails.
func summarizeComment(ctx context.Context, summarizer llm.Client, comment string) string {
	if summarizer == nil {
		return comment
	}
	prompt, err := prompts.Execute("pr-update-summary.md", map[string]string{
		"comment_message": comment,
	})
	if err != nil {
		slog.Warn("could not build summary prompt", "error", err)
		return comment
	}
	summary, err := summarizer.Complete(ctx, prompt)
	if err != nil {
		slog.Warn("could not summarize update comment", "error", err)
		return comment
	}
	return strings.TrimSpace(summary)
}
