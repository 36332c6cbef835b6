// Package factory constructs the platform adapter matching a platform name
// and operating mode. It lives outside the provider package so the adapter
// packages can depend on provider without a cycle.
package factory

import (
	"fmt"

	"github.com/patchpilot/patchpilot/internal/config"
	"github.com/patchpilot/patchpilot/internal/provider"
	"github.com/patchpilot/patchpilot/internal/provider/azuredevops"
	"github.com/patchpilot/patchpilot/internal/provider/bitbucket"
	"github.com/patchpilot/patchpilot/internal/provider/forgejo"
	"github.com/patchpilot/patchpilot/internal/provider/github"
	"github.com/patchpilot/patchpilot/internal/provider/gitlab"
)

// New builds the adapter for the given platform and mode. owner and repo
// address the repository in the platform's own format; for Azure DevOps the
// repo carries the project as project/repo.
func New(platform provider.Platform, mode provider.IssueType, owner, repo string, pc config.PlatformConfig) (provider.Adapter, error) {
	if pc.Token == "" {
		return nil, fmt.Errorf("no token configured for platform %s", platform)
	}

	switch platform {
	case provider.PlatformGitHub:
		return github.New(owner, repo, pc.Token, pc.Username, mode), nil
	case provider.PlatformGitLab:
		return gitlab.New(owner, repo, pc.Token, pc.Username, mode)
	case provider.PlatformBitbucket:
		return bitbucket.New(owner, repo, pc.Token, pc.Username, mode), nil
	case provider.PlatformAzureDevOps:
		return azuredevops.New(owner, repo, pc.Token, pc.Username, pc.BaseURL, mode)
	case provider.PlatformForgejo:
		return forgejo.New(owner, repo, pc.Token, pc.Username, pc.BaseURL, mode), nil
	}
	return nil, fmt.Errorf("unknown platform %q", platform)
}
