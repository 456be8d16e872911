package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/matzehuels/nixupdate/pkg/orchestrator"
	"github.com/matzehuels/nixupdate/pkg/store"
)

// =============================================================================
// Color Palette
// =============================================================================

var (
	colorCyan   = lipgloss.Color("36")  // Teal - primary actions
	colorGreen  = lipgloss.Color("35")  // Green - success
	colorYellow = lipgloss.Color("220") // Amber - warnings
	colorRed    = lipgloss.Color("167") // Soft red - errors
	colorBlue   = lipgloss.Color("75")  // Light blue - links
	colorWhite  = lipgloss.Color("255") // Bright white - values
	colorGray   = lipgloss.Color("245") // Gray - secondary text
	colorDim    = lipgloss.Color("240") // Dim gray - muted text
)

// =============================================================================
// Public Styles
// =============================================================================

var (
	// StyleTitle for main headings.
	StyleTitle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)

	// StyleLink for URLs.
	StyleLink = lipgloss.NewStyle().Foreground(colorBlue).Underline(true)

	// StyleDim for secondary/muted text.
	StyleDim = lipgloss.NewStyle().Foreground(colorDim)

	// StyleValue for data values.
	StyleValue = lipgloss.NewStyle().Foreground(colorWhite)

	// StyleNumber for numeric values.
	StyleNumber = lipgloss.NewStyle().Foreground(colorCyan)

	// StyleSuccess for success messages.
	StyleSuccess = lipgloss.NewStyle().Foreground(colorGreen)

	// StyleWarning for warning messages.
	StyleWarning = lipgloss.NewStyle().Foreground(colorYellow)

	// StyleError for failures.
	StyleError = lipgloss.NewStyle().Foreground(colorRed)
)

// =============================================================================
// Internal Styles
// =============================================================================

var (
	styleIconSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleIconError   = lipgloss.NewStyle().Foreground(colorRed)
	styleIconWarning = lipgloss.NewStyle().Foreground(colorYellow)
	styleIconInfo    = lipgloss.NewStyle().Foreground(colorGray)
	styleIconSpinner = lipgloss.NewStyle().Foreground(colorCyan)

	styleKey         = lipgloss.NewStyle().Foreground(colorGray).Width(18)
	styleTableHeader = lipgloss.NewStyle().Foreground(colorGray).Bold(true)
	styleTableBorder = lipgloss.NewStyle().Foreground(colorDim)
	styleTableCell   = lipgloss.NewStyle().Padding(0, 1)

	styleCommand = lipgloss.NewStyle().Foreground(colorBlue)
)

// =============================================================================
// Icons
// =============================================================================

const (
	iconSuccess = "✓"
	iconError   = "✗"
	iconWarning = "!"
	iconInfo    = "›"
	iconArrow   = "→"
)

// =============================================================================
// Status Output
// =============================================================================

// printSuccess prints a success message.
func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(styleIconSuccess.Render(iconSuccess) + " " + msg)
}

// printError prints an error message.
func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(styleIconError.Render(iconError) + " " + msg)
}

// printWarning prints a warning message.
func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(styleIconWarning.Render(iconWarning) + " " + StyleWarning.Render(msg))
}

// printInfo prints an info/status message.
func printInfo(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(styleIconInfo.Render(iconInfo) + " " + msg)
}

// printDetail prints a detail line (indented).
func printDetail(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println("  " + StyleDim.Render(msg))
}

// printFile prints a file output line.
func printFile(path string) {
	fmt.Println("  " + StyleDim.Render(iconArrow) + " " + StyleValue.Render(path))
}

// printNextStep prints a suggested next command.
func printNextStep(description, cmd string) {
	fmt.Println(StyleDim.Render(description+":") + " " + styleCommand.Render(cmd))
}

// keyValue renders a labeled value on one line.
func keyValue(key, value string) string {
	return styleKey.Render(key) + " " + StyleValue.Render(value)
}

// newTable returns a table in the shared border style.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styleTableBorder).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return styleTableHeader.Padding(0, 1)
			}
			return styleTableCell
		})
}

// =============================================================================
// Run Summary
// =============================================================================

type summaryRow struct {
	key   string
	value int
	style lipgloss.Style
}

// renderSummary formats the end-of-run report.
func renderSummary(s *orchestrator.Summary) string {
	var b strings.Builder

	title := "Run complete"
	if s.RunID != "" {
		title = fmt.Sprintf("Run %s complete", shortID(s.RunID))
	}
	b.WriteString(StyleTitle.Render(title))
	b.WriteString(StyleDim.Render(fmt.Sprintf(" (%s)", s.Duration.Round(time.Second))))
	b.WriteString("\n\n")

	rows := []summaryRow{
		{"Derivations", s.Total, StyleValue},
		{"Eval errors", s.EvalErrors, warnIfPositive(s.EvalErrors)},
		{"Checked", s.Checked, StyleValue},
		{"Skipped (backoff)", s.Skipped, StyleDim},
		{"Updated", s.Updated, StyleSuccess},
		{"Failed", s.Failed, errorIfPositive(s.Failed)},
	}
	if s.Panicked > 0 {
		rows = append(rows, summaryRow{"Panicked", s.Panicked, StyleError})
	}
	for _, r := range rows {
		b.WriteString(styleKey.Render(r.key) + " " + r.style.Render(strconv.Itoa(r.value)) + "\n")
	}

	if len(s.BySystem) > 0 {
		systems := make([]string, 0, len(s.BySystem))
		for sys := range s.BySystem {
			systems = append(systems, sys)
		}
		sort.Strings(systems)

		t := newTable("System", "Derivations")
		for _, sys := range systems {
			t.Row(sys, strconv.Itoa(s.BySystem[sys]))
		}
		b.WriteString("\n")
		b.WriteString(t.Render())
		b.WriteString("\n")
	}

	if len(s.Groups) > 0 {
		t := newTable("Group", "Updated", "Failed", "Result")
		for _, g := range s.Groups {
			result := g.Result.PRURL
			switch {
			case g.Err != nil:
				result = "error: " + g.Err.Error()
			case result == "" && len(g.Result.Updated) > 0:
				result = "committed locally"
			case result == "":
				result = "-"
			}
			t.Row(g.Result.Group, strconv.Itoa(len(g.Result.Updated)), strconv.Itoa(len(g.Result.Failed)), result)
		}
		b.WriteString("\n")
		b.WriteString(t.Render())
		b.WriteString("\n")
	}

	return b.String()
}

// printSummary prints the end-of-run report.
func printSummary(s *orchestrator.Summary) {
	fmt.Println()
	fmt.Print(renderSummary(s))
}

func warnIfPositive(n int) lipgloss.Style {
	if n > 0 {
		return StyleWarning
	}
	return StyleValue
}

func errorIfPositive(n int) lipgloss.Style {
	if n > 0 {
		return StyleError
	}
	return StyleValue
}

// =============================================================================
// Store Output
// =============================================================================

// renderStats formats store statistics.
func renderStats(s store.Stats) string {
	lines := []string{
		keyValue("Packages tracked", strconv.FormatInt(s.Records, 10)),
		keyValue("Pending proposals", strconv.FormatInt(s.Proposed, 10)),
		keyValue("In backoff", strconv.FormatInt(s.InBackoff, 10)),
		keyValue("Failure logs", strconv.FormatInt(s.Logs, 10)),
	}
	return strings.Join(lines, "\n") + "\n"
}

// renderRecords formats records as a table, most recently checked first.
func renderRecords(records []store.Record) string {
	sorted := make([]store.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return timeOrZero(sorted[i].LastAttempt).After(timeOrZero(sorted[j].LastAttempt))
	})

	t := newTable("Attribute", "Current", "Latest", "Proposed", "Next check")
	for _, r := range sorted {
		proposed := r.ProposedVersion
		if r.PRNumber > 0 {
			proposed = fmt.Sprintf("%s (#%d)", proposed, r.PRNumber)
		}
		t.Row(r.AttrPath, orDash(r.CurrentVersion), orDash(r.LatestVersion), orDash(proposed), formatTime(r.NextAttempt))
	}
	return t.Render() + "\n"
}

// renderLog formats one failure log with its build output.
func renderLog(l store.Log) string {
	var b strings.Builder
	b.WriteString(keyValue("Derivation", l.DrvPath) + "\n")
	b.WriteString(keyValue("Attribute", l.AttrPath) + "\n")
	b.WriteString(keyValue("Time", l.Timestamp.Local().Format(time.DateTime)) + "\n")
	b.WriteString(keyValue("Versions", l.OldVersion+" "+iconArrow+" "+l.NewVersion) + "\n")
	if l.RunID != "" {
		b.WriteString(keyValue("Run", shortID(l.RunID)) + "\n")
	}
	b.WriteString("\n")
	b.WriteString(strings.TrimRight(l.ErrorLog, "\n"))
	b.WriteString("\n")
	return b.String()
}

// =============================================================================
// Formatting Helpers
// =============================================================================

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// shortDrv trims the store prefix from a derivation path for display.
func shortDrv(drv string) string {
	return strings.TrimPrefix(drv, store.StorePrefix)
}
