package config

import "time"

// Config is the top-level patchpilot configuration.
type Config struct {
	LLM       LLMConfig                 `json:"llm"`
	Platforms map[string]PlatformConfig `json:"platforms"`
	Resolver  ResolverConfig            `json:"resolver"`
	PR        PRConfig                  `json:"pr"`
}

// LLMConfig selects the model used for guidance prompts and success
// classification.
type LLMConfig struct {
	Model      string `json:"model"`
	BaseURL    string `json:"base_url,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	NumRetries int    `json:"num_retries"`
	RetryWait  string `json:"retry_wait"`
}

// ParseRetryWait returns the wait between LLM retries as a time.Duration.
func (l LLMConfig) ParseRetryWait() time.Duration {
	d, err := time.ParseDuration(l.RetryWait)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// PlatformConfig holds per-platform credentials and endpoints.
// Uses a unified struct with omitempty rather than one type per platform,
// since the platforms map is keyed by platform name ("github", "gitlab",
// "bitbucket", "azuredevops", "forgejo") and a single struct simplifies the
// JSON schema and deep merge logic.
type PlatformConfig struct {
	Token   string `json:"token,omitempty"`
	BaseURL string `json:"base_url,omitempty"`

	// Bitbucket app passwords and Azure DevOps PATs authenticate as a user.
	Username string `json:"username,omitempty"`

	// Azure DevOps fields
	Organization string `json:"organization,omitempty"`
	Project      string `json:"project,omitempty"`
}

// ResolverConfig holds issue resolution run settings.
type ResolverConfig struct {
	MaxIterations int    `json:"max_iterations"`
	Workers       int    `json:"workers"`
	OutputDir     string `json:"output_dir"`
	AgentTimeout  string `json:"agent_timeout"`
}

// ParseAgentTimeout returns the per-issue agent timeout as a time.Duration.
func (r ResolverConfig) ParseAgentTimeout() time.Duration {
	d, err := time.ParseDuration(r.AgentTimeout)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// PRType controls how a resolved patch is delivered.
type PRType string

const (
	PRTypeBranch PRType = "branch"
	PRTypeDraft  PRType = "draft"
	PRTypeReady  PRType = "ready"
)

// Valid reports whether t is one of the known delivery modes.
func (t PRType) Valid() bool {
	switch t {
	case PRTypeBranch, PRTypeDraft, PRTypeReady:
		return true
	}
	return false
}

// PRConfig holds pull request delivery settings.
type PRConfig struct {
	Type         PRType `json:"type"`
	BranchPrefix string `json:"branch_prefix"`
	GitUserName  string `json:"git_user_name"`
	GitUserEmail string `json:"git_user_email"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LLM: LLMConfig{
			Model:      "github-copilot/claude-sonnet-4",
			NumRetries: 4,
			RetryWait:  "10s",
		},
		Platforms: make(map[string]PlatformConfig),
		Resolver: ResolverConfig{
			MaxIterations: 50,
			Workers:       1,
			OutputDir:     "output",
			AgentTimeout:  "30m",
		},
		PR: PRConfig{
			Type:         PRTypeDraft,
			BranchPrefix: "patchpilot/fix-issue-",
			GitUserName:  "patchpilot",
			GitUserEmail: "patchpilot@users.noreply.github.com",
		},
	}
}
