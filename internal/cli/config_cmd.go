package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/sjson"

	"github.com/patchpilot/patchpilot/internal/config"
	"github.com/patchpilot/patchpilot/internal/issue"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage patchpilot configuration",
	Long:  `Show and modify patchpilot configuration values.`,
}

var configJSONFlag bool

func init() {
	configShowCmd.Flags().BoolVar(&configJSONFlag, "json", false, "Output raw JSON without formatting")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show merged configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		// Redact secrets before display.
		redacted := redactConfig(cfg)

		var data []byte
		if configJSONFlag {
			data, err = json.Marshal(redacted)
		} else {
			data, err = json.MarshalIndent(redacted, "", "  ")
		}
		if err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

// redactConfig returns a copy of the config with secret fields masked.
func redactConfig(cfg *config.Config) *config.Config {
	copy := *cfg

	if copy.LLM.APIKey != "" {
		copy.LLM.APIKey = "***"
	}

	if copy.Platforms != nil {
		redacted := make(map[string]config.PlatformConfig, len(copy.Platforms))
		for k, v := range copy.Platforms {
			if v.Token != "" {
				v.Token = "***"
			}
			redacted[k] = v
		}
		copy.Platforms = redacted
	}

	return &copy
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value",
	Long: `Set a configuration value using a dotted key path.

The value is written to .patchpilot/patchpilot.jsonc in the repository root.
The file is created if it does not exist.

Note: JSONC comments are not preserved on write.

Examples:
  patchpilot config set llm.model "github-copilot/claude-sonnet-4"
  patchpilot config set resolver.workers 4
  patchpilot config set pr.type draft`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		rawValue := args[1]

		// Determine value type: try bool, then number, then string
		var value any
		if b, err := strconv.ParseBool(rawValue); err == nil {
			value = b
		} else if i, err := strconv.ParseInt(rawValue, 10, 64); err == nil {
			value = i
		} else if f, err := strconv.ParseFloat(rawValue, 64); err == nil {
			value = f
		} else {
			value = rawValue
		}

		repoRoot := config.RepoRoot()
		if repoRoot == "" {
			return fmt.Errorf("not in a git repository")
		}

		configDir := filepath.Join(repoRoot, ".patchpilot")
		repoConfigPath := filepath.Join(configDir, "patchpilot.jsonc")

		updated, err := setConfigKey(repoConfigPath, key, value)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.WriteFile(repoConfigPath, updated, 0644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, value)
		return nil
	},
}

// setConfigKey applies one dotted-path assignment to the config file at
// path, starting from an empty object when the file does not exist.
func setConfigKey(path, key string, value any) ([]byte, error) {
	existing := []byte("{}")
	if data, err := os.ReadFile(path); err == nil {
		// Strip JSONC comments before passing to sjson (which requires
		// valid JSON). Comments are not preserved on write.
		existing = jsonc.ToJSON(data)
	}

	updated, err := sjson.SetBytes(existing, key, value)
	if err != nil {
		return nil, fmt.Errorf("setting key %q: %w", key, err)
	}
	return updated, nil
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactively create the user configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		platform := "github"
		token := ""
		model := config.DefaultConfig().LLM.Model

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("Hosting platform").
					Options(
						huh.NewOption("GitHub", "github"),
						huh.NewOption("GitLab", "gitlab"),
						huh.NewOption("Bitbucket", "bitbucket"),
						huh.NewOption("Azure DevOps", "azuredevops"),
						huh.NewOption("Forgejo / Codeberg", "forgejo"),
					).
					Value(&platform),
				huh.NewInput().
					Title("API token").
					EchoMode(huh.EchoModePassword).
					Value(&token).
					Validate(func(s string) error {
						if s == "" {
							return fmt.Errorf("token is required")
						}
						return nil
					}),
				huh.NewInput().
					Title("LLM model").
					Value(&model),
			),
		)
		if err := form.Run(); err != nil {
			return fmt.Errorf("form cancelled: %w", err)
		}

		userPath, err := config.UserPath()
		if err != nil {
			return fmt.Errorf("locating user config: %w", err)
		}

		updated, err := setConfigKey(userPath, "platforms."+platform+".token", token)
		if err != nil {
			return err
		}
		updated, err = sjson.SetBytes(updated, "llm.model", model)
		if err != nil {
			return fmt.Errorf("setting llm.model: %w", err)
		}

		if err := os.MkdirAll(filepath.Dir(userPath), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.WriteFile(userPath, updated, 0600); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", userPath)

		if repoRoot := config.RepoRoot(); repoRoot != "" {
			path, err := issue.ScaffoldRepoInstruction(repoRoot)
			if err != nil {
				return err
			}
			if path != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s, edit it to guide the agent\n", path)
			}
		}
		return nil
	},
}
