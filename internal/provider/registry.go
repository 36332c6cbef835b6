package provider

import (
	"fmt"
	"net/url"
	"strings"
)

// DetectPlatform maps a repository or issue URL to the hosting platform.
func DetectPlatform(rawURL string) (Platform, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	host := strings.ToLower(u.Hostname())

	switch {
	case host == "github.com" || host == "www.github.com":
		return PlatformGitHub, nil
	case host == "gitlab.com" || strings.HasPrefix(host, "gitlab."):
		return PlatformGitLab, nil
	case host == "bitbucket.org" || strings.HasPrefix(host, "bitbucket."):
		return PlatformBitbucket, nil
	case host == "dev.azure.com" || strings.HasSuffix(host, ".visualstudio.com"):
		return PlatformAzureDevOps, nil
	case host == "codeberg.org" || strings.HasPrefix(host, "forgejo."):
		return PlatformForgejo, nil
	}
	return "", fmt.Errorf("no known platform matches URL: %s", rawURL)
}

// ParsePlatform parses a platform name as given on the command line.
func ParsePlatform(name string) (Platform, error) {
	switch Platform(strings.ToLower(name)) {
	case PlatformGitHub, PlatformGitLab, PlatformBitbucket, PlatformAzureDevOps, PlatformForgejo:
		return Platform(strings.ToLower(name)), nil
	}
	return "", fmt.Errorf("unknown platform %q", name)
}
