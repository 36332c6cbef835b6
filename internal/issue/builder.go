package issue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/patchpilot/patchpilot/internal/prompts"
	"github.com/patchpilot/patchpilot/internal/provider"
	"github.com/patchpilot/patchpilot/internal/store"
)

// InstructionFile is the repo-level guidance document injected into agent
// prompts when present.
const InstructionFile = ".patchpilot/instructions.md"

// LoadRepoInstruction reads the repository guidance document from repoDir.
// Returns empty string when the document is absent or disabled via
// frontmatter.
func LoadRepoInstruction(repoDir string) string {
	path := filepath.Join(repoDir, filepath.FromSlash(InstructionFile))
	if !store.Exists(path) {
		return ""
	}
	doc, err := store.ReadDocument(path)
	if err != nil {
		slog.Warn("could not read repo instructions", "path", path, "error", err)
		return ""
	}
	if store.GetBool(doc.Frontmatter, "disabled") {
		slog.Debug("repo instructions disabled via frontmatter", "path", path)
		return ""
	}
	return strings.TrimSpace(doc.Body)
}

// ScaffoldRepoInstruction creates a starter guidance document in repoDir.
// Returns the written path, or "" when a document already exists.
func ScaffoldRepoInstruction(repoDir string) (string, error) {
	path := filepath.Join(repoDir, filepath.FromSlash(InstructionFile))
	if store.Exists(path) {
		return "", nil
	}
	doc := &store.Document{
		Frontmatter: map[string]any{"disabled": false},
		Body: "Describe build, test, and style conventions the agent should follow\n" +
			"when resolving issues in this repository.\n",
	}
	if err := store.WriteDocument(path, doc); err != nil {
		return "", fmt.Errorf("writing repo instructions: %w", err)
	}
	return path, nil
}

// BuildInstruction renders the agent instruction for the given issue.
// mode selects between plain issue resolution and pull request followup.
func BuildInstruction(iss provider.Issue, mode provider.IssueType, repoInstruction string) (string, error) {
	if mode == provider.TypePR {
		return buildPRInstruction(iss, repoInstruction)
	}
	return buildIssueInstruction(iss, repoInstruction)
}

func buildIssueInstruction(iss provider.Issue, repoInstruction string) (string, error) {
	body := iss.Title + "\n\n" + iss.Body
	if len(iss.ThreadComments) > 0 {
		body += "\n\nIssue Thread Comments:\n" + strings.Join(iss.ThreadComments, "\n---\n")
	}
	return prompts.Execute("issue-resolve.md", map[string]string{
		"body":             body,
		"repo_instruction": repoInstruction,
	})
}

func buildPRInstruction(iss provider.Issue, repoInstruction string) (string, error) {
	data := map[string]string{
		"repo_instruction": repoInstruction,
	}

	if len(iss.ClosingIssues) > 0 {
		data["issues"] = mustIndent(iss.ClosingIssues)
	}
	if len(iss.ReviewComments) > 0 {
		data["review_comments"] = mustIndent(iss.ReviewComments)
	}
	if len(iss.ReviewThreads) > 0 {
		comments := make([]string, 0, len(iss.ReviewThreads))
		var files []string
		for _, thread := range iss.ReviewThreads {
			comments = append(comments, thread.Comment)
			files = append(files, thread.Files...)
		}
		data["review_threads"] = mustIndent(comments)
		data["files"] = mustIndent(files)
	}
	if len(iss.ThreadComments) > 0 {
		data["thread_context"] = strings.Join(iss.ThreadComments, "\n---\n")
	}

	return prompts.Execute("pr-followup.md", data)
}

// IssuesContext renders the closing issue bodies for classifier prompts.
func IssuesContext(iss provider.Issue) string {
	return mustIndent(iss.ClosingIssues)
}

// SuccessContext renders the issue body plus thread comments for classifier
// prompts in issue mode.
func SuccessContext(iss provider.Issue) string {
	ctx := iss.Body
	if len(iss.ThreadComments) > 0 {
		ctx += "\n\nIssue Thread Comments:\n" + strings.Join(iss.ThreadComments, "\n---\n")
	}
	return ctx
}

func mustIndent(v any) string {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
