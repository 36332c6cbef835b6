package cli

import (
	"github.com/spf13/cobra"

	"github.com/patchpilot/patchpilot/internal/config"
	"github.com/patchpilot/patchpilot/internal/logging"
)

var (
	verbose    bool
	configPath string

	rootCmd = &cobra.Command{
		Use:   "patchpilot",
		Short: "Automated issue resolution and pull request delivery",
		Long: `PatchPilot fetches issues or review feedback from a hosting platform,
drives a coding agent against a workspace, and delivers the resulting
fix back as a new or updated pull request.`,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Extra config file to merge last")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logging.Setup(verbose)
	}
}

// loadConfig loads the merged configuration, honoring the --config flag.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.Load()
}

func Execute() error {
	return rootCmd.Execute()
}
