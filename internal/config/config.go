package config

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/tidwall/jsonc"
)

// Load reads and merges configuration from user-level and repo-level JSONC
// files. Resolution order: defaults → user config
// (~/.config/patchpilot/patchpilot.jsonc) → repo config
// (.patchpilot/patchpilot.jsonc) → explicit override paths → environment.
func Load(overrides ...string) (*Config, error) {
	cfg := DefaultConfig()

	if userPath, err := UserPath(); err == nil {
		if userMap, err := loadJSONC(userPath); err == nil {
			if err := mergeIntoConfig(&cfg, userMap); err != nil {
				return nil, fmt.Errorf("merging user config: %w", err)
			}
		}
	}

	repoRoot := findRepoRoot()
	if repoRoot != "" {
		repoPath := filepath.Join(repoRoot, ".patchpilot", "patchpilot.jsonc")
		if repoMap, err := loadJSONC(repoPath); err == nil {
			if err := mergeIntoConfig(&cfg, repoMap); err != nil {
				return nil, fmt.Errorf("merging repo config: %w", err)
			}
		}
	}

	for _, path := range overrides {
		m, err := loadJSONC(path)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		if err := mergeIntoConfig(&cfg, m); err != nil {
			return nil, fmt.Errorf("merging %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// UserPath returns the user-level config file path.
func UserPath() (string, error) {
	userDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(userDir, "patchpilot", "patchpilot.jsonc"), nil
}

// loadJSONC reads a JSONC file and returns it as a map.
func loadJSONC(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jsonData := jsonc.ToJSON(data)
	var m map[string]any
	if err := json.Unmarshal(jsonData, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}

// mergeIntoConfig marshals the config to a map, deep-merges the source map
// over it, then unmarshals back to the Config struct.
func mergeIntoConfig(cfg *Config, src map[string]any) error {
	cfgBytes, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var dst map[string]any
	if err := json.Unmarshal(cfgBytes, &dst); err != nil {
		return err
	}

	if err := mergo.Merge(&dst, src, mergo.WithOverride); err != nil {
		return err
	}

	merged, err := json.Marshal(dst)
	if err != nil {
		return err
	}
	return json.Unmarshal(merged, cfg)
}

// findRepoRoot finds the git repository root via git rev-parse.
func findRepoRoot() string {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// tokenEnvVars maps platform names to the environment variables consulted
// for their tokens, in priority order.
var tokenEnvVars = map[string][]string{
	"github":      {"GITHUB_TOKEN"},
	"gitlab":      {"GITLAB_TOKEN"},
	"bitbucket":   {"BITBUCKET_TOKEN", "BITBUCKET_APP_PASSWORD"},
	"azuredevops": {"AZURE_DEVOPS_PAT", "AZURE_DEVOPS_TOKEN"},
	"forgejo":     {"FORGEJO_TOKEN"},
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	if cfg.Platforms == nil {
		cfg.Platforms = make(map[string]PlatformConfig)
	}
	for platform, vars := range tokenEnvVars {
		for _, name := range vars {
			if token := os.Getenv(name); token != "" {
				pc := cfg.Platforms[platform]
				pc.Token = token
				cfg.Platforms[platform] = pc
				break
			}
		}
	}
	if user := os.Getenv("BITBUCKET_USERNAME"); user != "" {
		pc := cfg.Platforms["bitbucket"]
		pc.Username = user
		cfg.Platforms["bitbucket"] = pc
	}
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if base := os.Getenv("LLM_BASE_URL"); base != "" {
		cfg.LLM.BaseURL = base
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		cfg.LLM.Model = model
	}
}

// RepoRoot returns the detected git repository root, or empty string if not
// in a repo.
func RepoRoot() string {
	return findRepoRoot()
}
