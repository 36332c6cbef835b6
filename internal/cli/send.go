package cli

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/patchpilot/patchpilot/internal/config"
	"github.com/patchpilot/patchpilot/internal/deliver"
	"github.com/patchpilot/patchpilot/internal/llm"
	"github.com/patchpilot/patchpilot/internal/resolve"
)

var (
	sendTarget       target
	sendOutputDir    string
	sendPRType       string
	sendForkOwner    string
	sendTargetBranch string
	sendReviewer     string
	sendTitle        string
	sendOnFailure    bool
	sendNoSummarizer bool
)

func init() {
	sendTarget.registerFlags(sendCmd)
	sendCmd.Flags().StringVar(&sendOutputDir, "output-dir", "", "Directory holding the resolution log")
	sendCmd.Flags().StringVar(&sendPRType, "pr-type", "", "Delivery mode: branch, draft or ready (default from config)")
	sendCmd.Flags().StringVar(&sendForkOwner, "fork-owner", "", "Push the branch to this fork owner")
	sendCmd.Flags().StringVar(&sendTargetBranch, "target-branch", "", "Open the pull request against this branch")
	sendCmd.Flags().StringVar(&sendReviewer, "reviewer", "", "Request a review from this user")
	sendCmd.Flags().StringVar(&sendTitle, "title", "", "Pull request title override")
	sendCmd.Flags().BoolVar(&sendOnFailure, "send-on-failure", false, "Deliver even when classification failed")
	sendCmd.Flags().BoolVar(&sendNoSummarizer, "no-summarize", false, "Post raw thread explanations instead of an LLM summary")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <issue-number|all>",
	Short: "Deliver resolved patches as pull requests",
	Long: `Deliver the patch recorded for an issue in output.jsonl: apply it to a
pristine workspace, commit, push and open (or update) the pull request.
Passing "all" delivers every successful record in the log.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		outputDir := sendOutputDir
		if outputDir == "" {
			outputDir = cfg.Resolver.OutputDir
		}

		prCfg := cfg.PR
		if sendPRType != "" {
			prType := config.PRType(sendPRType)
			if !prType.Valid() {
				return fmt.Errorf("invalid pr type %q: expected branch, draft or ready", sendPRType)
			}
			prCfg.Type = prType
		}

		adapter, err := sendTarget.adapter(cfg)
		if err != nil {
			return err
		}

		ctx := cmd.Context()

		opts := deliver.Options{
			PR:            prCfg,
			ForkOwner:     sendForkOwner,
			TargetBranch:  sendTargetBranch,
			Reviewer:      sendReviewer,
			Title:         sendTitle,
			SendOnFailure: sendOnFailure,
		}

		// The summarizer is best-effort: without it, PR updates fall back
		// to posting the raw per-thread explanations.
		if !sendNoSummarizer {
			client := llm.NewCopilotClient(cfg.LLM)
			if err := client.Start(ctx); err != nil {
				slog.Warn("LLM client unavailable, skipping comment summarization", "error", err)
			} else {
				defer client.Stop()
				opts.Summarizer = client
			}
		}

		if args[0] == "all" {
			return deliver.ProcessAllSuccessful(ctx, outputDir, adapter, opts)
		}

		number, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid issue number %q", args[0])
		}
		out, err := resolve.LoadOutput(resolve.OutputPath(outputDir), number)
		if err != nil {
			return err
		}

		result, err := deliver.ProcessSingleIssue(ctx, outputDir, out, adapter, opts)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), result)
		return nil
	},
}
