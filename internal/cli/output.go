package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lu-zhengda/quotemail/internal/app"
	"github.com/lu-zhengda/quotemail/internal/domain"
	"github.com/lu-zhengda/quotemail/internal/store"
)

var (
	primaryColor = lipgloss.Color("#7C3AED")
	mutedColor   = lipgloss.Color("#6B7280")
	errorColor   = lipgloss.Color("#EF4444")
	successColor = lipgloss.Color("#10B981")

	titleStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(10)

	okStyle = lipgloss.NewStyle().
		Foreground(successColor)

	failStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)
)

// printJSON encodes v as indented JSON to stdout.
func printJSON(v any) error {
	return fprintJSON(os.Stdout, v)
}

// fprintJSON encodes v as indented JSON to w.
func fprintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// renderSummary prints the counters of a finished run.
func renderSummary(w io.Writer, sum *app.Summary) {
	title := "Run " + sum.RunID
	if sum.DryRun {
		title += " (dry run)"
	}
	fmt.Fprintln(w, titleStyle.Render(title))

	row := func(label string, value string) {
		fmt.Fprintln(w, labelStyle.Render(label)+" "+value)
	}
	row("Fetched", fmt.Sprint(sum.Fetched))
	row("Included", fmt.Sprint(sum.Included))
	row("Replied", okStyle.Render(fmt.Sprint(sum.Replied)))
	row("Filed", fmt.Sprint(sum.Filed))
	if sum.Skipped > 0 {
		row("Skipped", fmt.Sprint(sum.Skipped))
	}
	failed := fmt.Sprint(sum.Failed)
	if sum.Failed > 0 {
		failed = failStyle.Render(failed)
	}
	row("Failed", failed)
	row("Took", sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond).String())
	if sum.AuditPath != "" {
		row("Report", sum.AuditPath)
	}
}

// renderDecisions prints one line per audited message.
func renderDecisions(w io.Writer, records []domain.AuditRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SENDER\tSUBJECT\tTRUSTED\tITEMS\tREPLIED\tFILED")
	for _, r := range records {
		items := "-"
		if len(r.ItemNames) > 0 {
			items = strings.Join(r.ItemNames, ", ")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncate(r.Sender, 32),
			truncate(r.Subject, 40),
			yesNo(r.DomainTrusted),
			truncate(items, 40),
			yesNo(r.Replied),
			yesNo(r.Filed),
		)
	}
	tw.Flush()

	for _, r := range records {
		if r.Error != "" {
			fmt.Fprintln(w, failStyle.Render("error")+" "+r.MessageID+": "+r.Error)
		}
	}
}

func renderRuns(w io.Writer, runs []store.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tFETCHED\tINCLUDED\tREPLIED\tFAILED\tDRY RUN")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Fetched,
			r.Included,
			r.Replied,
			r.Failed,
			yesNo(r.DryRun),
		)
	}
	return tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}
