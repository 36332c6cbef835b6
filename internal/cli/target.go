package cli

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/patchpilot/patchpilot/internal/config"
	"github.com/patchpilot/patchpilot/internal/provider"
	"github.com/patchpilot/patchpilot/internal/provider/factory"
)

// target holds the repository selection flags shared by the resolve, batch
// and send commands.
type target struct {
	repo      string
	platform  string
	issueType string
}

// registerFlags adds the shared repository selection flags to cmd.
func (t *target) registerFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.repo, "repo", "", "Repository as owner/repo or full URL")
	cmd.Flags().StringVar(&t.platform, "platform", "github", "Hosting platform (github, gitlab, bitbucket, azuredevops, forgejo)")
	cmd.Flags().StringVar(&t.issueType, "issue-type", "issue", "Work on tracker issues or pull requests (issue, pr)")
}

// parse resolves the flag values into a platform, owner and repo. The repo
// flag accepts either a full URL (platform detected from the host) or an
// owner/repo path combined with --platform.
func (t *target) parse() (provider.Platform, string, string, error) {
	if t.repo == "" {
		return "", "", "", fmt.Errorf("--repo is required")
	}

	if strings.Contains(t.repo, "://") {
		platform, err := provider.DetectPlatform(t.repo)
		if err != nil {
			return "", "", "", err
		}
		owner, repo, err := splitRepoURL(platform, t.repo)
		return platform, owner, repo, err
	}

	platform, err := provider.ParsePlatform(t.platform)
	if err != nil {
		return "", "", "", err
	}
	owner, repo, ok := strings.Cut(t.repo, "/")
	if !ok {
		return "", "", "", fmt.Errorf("invalid repo %q: expected owner/repo", t.repo)
	}
	return platform, owner, repo, nil
}

// splitRepoURL extracts owner and repo from a repository web URL. Azure
// DevOps URLs carry the project before a _git segment.
func splitRepoURL(platform provider.Platform, rawURL string) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")

	if platform == provider.PlatformAzureDevOps {
		if len(segments) >= 4 && segments[2] == "_git" {
			return segments[0], segments[1] + "/" + segments[3], nil
		}
		return "", "", fmt.Errorf("invalid Azure DevOps URL %q: expected /org/project/_git/repo", rawURL)
	}

	if len(segments) < 2 {
		return "", "", fmt.Errorf("invalid repository URL %q", rawURL)
	}
	return segments[0], strings.TrimSuffix(segments[1], ".git"), nil
}

// adapter builds the platform adapter for this target.
func (t *target) adapter(cfg *config.Config) (provider.Adapter, error) {
	mode, err := parseIssueType(t.issueType)
	if err != nil {
		return nil, err
	}
	platform, owner, repo, err := t.parse()
	if err != nil {
		return nil, err
	}
	return factory.New(platform, mode, owner, repo, cfg.Platforms[string(platform)])
}

func parseIssueType(s string) (provider.IssueType, error) {
	switch provider.IssueType(s) {
	case provider.TypeIssue, provider.TypePR:
		return provider.IssueType(s), nil
	}
	return "", fmt.Errorf("invalid issue type %q: expected issue or pr", s)
}
