package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectPlatform(t *testing.T) {
	cases := map[string]Platform{
		"https://github.com/owner/repo/issues/1":           PlatformGitHub,
		"https://www.github.com/owner/repo":                PlatformGitHub,
		"https://gitlab.com/owner/repo":                    PlatformGitLab,
		"https://gitlab.example.com/owner/repo":            PlatformGitLab,
		"https://bitbucket.org/workspace/repo":             PlatformBitbucket,
		"https://dev.azure.com/org/project/_git/repo":      PlatformAzureDevOps,
		"https://myorg.visualstudio.com/project/_git/repo": PlatformAzureDevOps,
		"https://codeberg.org/owner/repo":                  PlatformForgejo,
		"https://forgejo.example.com/owner/repo":           PlatformForgejo,
	}
	for rawURL, want := range cases {
		got, err := DetectPlatform(rawURL)
		require.NoError(t, err, rawURL)
		assert.Equal(t, want, got, rawURL)
	}
}

func TestDetectPlatformUnknown(t *testing.T) {
	_, err := DetectPlatform("https://sr.ht/~owner/repo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no known platform")
}

func TestParsePlatform(t *testing.T) {
	p, err := ParsePlatform("GitHub")
	require.NoError(t, err)
	assert.Equal(t, PlatformGitHub, p)

	_, err = ParsePlatform("sourcehut")
	assert.Error(t, err)
}
