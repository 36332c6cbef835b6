package resolve

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	successMark = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("✓")
	failureMark = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")
)

// WriteSummary renders a batch result table for the terminal.
func WriteSummary(w io.Writer, outputs []Output) {
	if len(outputs) == 0 {
		fmt.Fprintln(w, "No issues were resolved in this run.")
		return
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("238"))).
		Headers("Issue", "Title", "Result", "Detail").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	succeeded := 0
	for _, out := range outputs {
		mark := failureMark
		detail := out.Error
		if out.Error == "" {
			if out.Success {
				mark = successMark
				succeeded++
			}
			detail = truncate(out.ResultExplanation, 60)
		}
		t.Row(fmt.Sprintf("#%d", out.Issue.Number), truncate(out.Issue.Title, 40), mark, detail)
	}

	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "%d/%d resolved successfully\n", succeeded, len(outputs))
}

// WriteThreadChecklist renders the per-thread verdicts of a PR-mode run.
func WriteThreadChecklist(w io.Writer, out Output) {
	if len(out.CommentSuccess) == 0 {
		return
	}
	fmt.Fprintf(w, "Feedback for PR #%d:\n", out.Issue.Number)
	for i, ok := range out.CommentSuccess {
		mark := failureMark
		if ok {
			mark = successMark
		}
		label := fmt.Sprintf("thread %d", i+1)
		if i < len(out.Issue.ReviewThreads) {
			label = truncate(firstLine(out.Issue.ReviewThreads[i].Comment), 60)
		}
		fmt.Fprintf(w, "  %s %s\n", mark, label)
	}
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
