package deliver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/patchpilot/patchpilot/internal/config"
	"github.com/patchpilot/patchpilot/internal/llm"
	"github.com/patchpilot/patchpilot/internal/patch"
	"github.com/patchpilot/patchpilot/internal/provider"
	"github.com/patchpilot/patchpilot/internal/repo"
	"github.com/patchpilot/patchpilot/internal/resolve"
)

// ErrNoChanges is returned when the recorded patch leaves the working tree
// identical to the base commit.
var ErrNoChanges = errors.New("patch made no effective change")

// Options controls how resolved patches are delivered.
type Options struct {
	PR            config.PRConfig
	ForkOwner     string
	TargetBranch  string
	Reviewer      string
	Title         string
	SendOnFailure bool

	// Summarizer, when set, condenses PR update comments via the LLM.
	Summarizer llm.Client
}

// InitializeRepo prepares a pristine delivery workspace under
// output/patches from the base checkout, optionally checking out a ref
// (the base commit for issues, the head branch for PRs).
func InitializeRepo(ctx context.Context, outputDir string, issueNumber int, issueType, checkoutRef string) (string, error) {
	srcDir := filepath.Join(outputDir, "repo")
	destDir := filepath.Join(outputDir, "patches", fmt.Sprintf("%s_%d", issueType, issueNumber))

	if _, err := os.Stat(srcDir); err != nil {
		return "", fmt.Errorf("source directory %s does not exist", srcDir)
	}
	if err := repo.CopyTree(srcDir, destDir); err != nil {
		return "", fmt.Errorf("copying repository: %w", err)
	}
	slog.Info("copied repository", "dest", destDir)

	if checkoutRef != "" {
		if err := repo.Checkout(ctx, destDir, checkoutRef); err != nil {
			return "", fmt.Errorf("checking out %s: %w", checkoutRef, err)
		}
	}
	return destDir, nil
}

// MakeCommit stages the workspace and commits the applied patch. A patch
// that produced no effective change is an error: delivering an empty commit
// would open a pointless pull request.
func MakeCommit(ctx context.Context, repoDir string, iss provider.Issue, issueType string, prCfg config.PRConfig) error {
	if err := repo.EnsureIdentity(ctx, repoDir, prCfg.GitUserName, prCfg.GitUserEmail); err != nil {
		return fmt.Errorf("configuring git identity: %w", err)
	}

	changed, err := repo.HasStagedChanges(ctx, repoDir)
	if err != nil {
		return fmt.Errorf("staging changes: %w", err)
	}
	if !changed {
		return fmt.Errorf("no changes to commit for issue #%d: %w", iss.Number, ErrNoChanges)
	}

	message := fmt.Sprintf("Fix %s #%d: %s", issueType, iss.Number, iss.Title)
	if err := repo.Commit(ctx, repoDir, message); err != nil {
		return fmt.Errorf("committing changes: %w", err)
	}
	return nil
}

// ProcessSingleIssue delivers one resolution record: it rebuilds a clean
// workspace, applies the recorded patch, commits it and either opens a pull
// request (issue mode) or updates the existing one (PR mode). Returns the
// resulting URL, or "" when the record was skipped.
func ProcessSingleIssue(ctx context.Context, outputDir string, out *resolve.Output, a provider.Adapter, opts Options) (string, error) {
	if !out.Success && !opts.SendOnFailure {
		slog.Info("issue was not successfully resolved, skipping PR creation", "issue", out.Issue.Number)
		return "", nil
	}

	checkoutRef := out.BaseCommit
	if out.IssueType == string(provider.TypePR) {
		checkoutRef = out.Issue.HeadBranch
	}

	repoDir, err := InitializeRepo(ctx, outputDir, out.Issue.Number, out.IssueType, checkoutRef)
	if err != nil {
		return "", err
	}
	if err := patch.Apply(repoDir, out.GitPatch); err != nil {
		return "", fmt.Errorf("applying patch for issue #%d: %w", out.Issue.Number, err)
	}
	if err := MakeCommit(ctx, repoDir, out.Issue, out.IssueType, opts.PR); err != nil {
		return "", err
	}

	if out.IssueType == string(provider.TypePR) {
		return UpdateExistingPullRequest(ctx, a, out.Issue, repoDir, out.ResultExplanation, opts.Summarizer)
	}
	return SendPullRequest(ctx, a, out.Issue, repoDir, out.ResultExplanation, opts)
}

// ProcessAllSuccessful delivers every successful record in the output log.
// Failures on one record are logged and do not stop the rest.
func ProcessAllSuccessful(ctx context.Context, outputDir string, a provider.Adapter, opts Options) error {
	outputs, err := resolve.LoadOutputs(resolve.OutputPath(outputDir))
	if err != nil {
		return err
	}
	for i := range outputs {
		out := &outputs[i]
		if !out.Success {
			continue
		}
		url, err := ProcessSingleIssue(ctx, outputDir, out, a, opts)
		if err != nil {
			slog.Error("delivering resolution", "issue", out.Issue.Number, "error", err)
			continue
		}
		slog.Info("delivered resolution", "issue", out.Issue.Number, "url", url)
	}
	return nil
}
