package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchpilot/patchpilot/internal/provider"
)

func TestTargetParseOwnerRepo(t *testing.T) {
	tgt := target{repo: "acme/widgets", platform: "gitlab", issueType: "issue"}

	platform, owner, repo, err := tgt.parse()
	require.NoError(t, err)
	assert.Equal(t, provider.PlatformGitLab, platform)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets", repo)
}

func TestTargetParseURL(t *testing.T) {
	tgt := target{repo: "https://github.com/acme/widgets.git", platform: "gitlab"}

	platform, owner, repo, err := tgt.parse()
	require.NoError(t, err)
	// The URL host wins over the --platform flag.
	assert.Equal(t, provider.PlatformGitHub, platform)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets", repo)
}

func TestTargetParseAzureDevOpsURL(t *testing.T) {
	tgt := target{repo: "https://dev.azure.com/acme/tools/_git/widgets"}

	platform, owner, repo, err := tgt.parse()
	require.NoError(t, err)
	assert.Equal(t, provider.PlatformAzureDevOps, platform)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "tools/widgets", repo)
}

func TestTargetParseErrors(t *testing.T) {
	_, _, _, err := (&target{platform: "github"}).parse()
	assert.ErrorContains(t, err, "--repo is required")

	_, _, _, err = (&target{repo: "justname", platform: "github"}).parse()
	assert.ErrorContains(t, err, "expected owner/repo")

	_, _, _, err = (&target{repo: "a/b", platform: "sourcehut"}).parse()
	assert.ErrorContains(t, err, "unknown platform")
}

func TestParseIssueType(t *testing.T) {
	mode, err := parseIssueType("pr")
	require.NoError(t, err)
	assert.Equal(t, provider.TypePR, mode)

	_, err = parseIssueType("epic")
	assert.ErrorContains(t, err, "invalid issue type")
}
