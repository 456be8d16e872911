package cli

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/matzehuels/nixupdate/pkg/store"
)

// List styles
var (
	listDimStyle = lipgloss.NewStyle().Foreground(colorDim)
)

// =============================================================================
// LogBrowserModel - Interactive failure log browser
// =============================================================================

// LogBrowserModel is the bubbletea model for browsing failure logs. It
// shows a list of failures; enter opens the build output of the selected
// one.
type LogBrowserModel struct {
	Logs   []store.Log
	Cursor int
	Height int
	Offset int

	// Viewing is true while the detail view of Logs[Cursor] is open.
	Viewing bool
	// Scroll is the first visible line of the detail view.
	Scroll int
}

// NewLogBrowserModel creates a browser over logs, which are expected
// newest first.
func NewLogBrowserModel(logs []store.Log) LogBrowserModel {
	return LogBrowserModel{
		Logs:   logs,
		Height: 15,
	}
}

func (m LogBrowserModel) Init() tea.Cmd {
	return nil
}

func (m LogBrowserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.Viewing {
			return m.updateDetail(msg)
		}
		return m.updateList(msg)
	case tea.WindowSizeMsg:
		m.Height = msg.Height - 6
		if m.Height < 5 {
			m.Height = 5
		}
	}
	return m, nil
}

func (m LogBrowserModel) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "up", "k":
		if m.Cursor > 0 {
			m.Cursor--
			if m.Cursor < m.Offset {
				m.Offset = m.Cursor
			}
		}
	case "down", "j":
		if m.Cursor < len(m.Logs)-1 {
			m.Cursor++
			if m.Cursor >= m.Offset+m.Height {
				m.Offset = m.Cursor - m.Height + 1
			}
		}
	case "enter":
		if len(m.Logs) > 0 {
			m.Viewing = true
			m.Scroll = 0
		}
	}
	return m, nil
}

func (m LogBrowserModel) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	lines := m.detailLines()
	last := max(0, len(lines)-m.Height)

	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "esc", "backspace", "left", "h":
		m.Viewing = false
	case "up", "k":
		if m.Scroll > 0 {
			m.Scroll--
		}
	case "down", "j":
		if m.Scroll < last {
			m.Scroll++
		}
	case "pgup":
		m.Scroll = max(0, m.Scroll-m.Height)
	case "pgdown", " ":
		m.Scroll = min(last, m.Scroll+m.Height)
	case "g", "home":
		m.Scroll = 0
	case "G", "end":
		m.Scroll = last
	}
	return m, nil
}

func (m LogBrowserModel) detailLines() []string {
	if len(m.Logs) == 0 {
		return nil
	}
	return strings.Split(strings.TrimRight(m.Logs[m.Cursor].ErrorLog, "\n"), "\n")
}

func (m LogBrowserModel) View() string {
	if m.Viewing {
		return m.viewDetail()
	}
	return m.viewList()
}

func (m LogBrowserModel) viewList() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Failed Updates"))
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render("↑/↓ navigate  ⏎ view log  q quit"))
	b.WriteString("\n\n")

	if len(m.Logs) == 0 {
		b.WriteString(listDimStyle.Render("  no failures recorded"))
		b.WriteString("\n")
		return b.String()
	}

	end := min(m.Offset+m.Height, len(m.Logs))

	rows := [][]string{}
	for i := m.Offset; i < end; i++ {
		l := m.Logs[i]
		cursor := "  "
		if i == m.Cursor {
			cursor = "▸ "
		}
		rows = append(rows, []string{
			cursor,
			l.AttrPath,
			l.OldVersion + " " + iconArrow + " " + l.NewVersion,
			formatRelativeTime(l.Timestamp),
			shortDrv(l.DrvPath),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styleTableBorder).
		Headers("", "Attribute", "Versions", "When", "Derivation").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return styleTableHeader
			}
			isCurrent := m.Offset+row == m.Cursor
			base := lipgloss.NewStyle()
			if col == 3 || col == 4 {
				if isCurrent {
					return base.Foreground(colorGray).Bold(true)
				}
				return base.Foreground(colorDim)
			}
			if isCurrent {
				return base.Foreground(colorRed).Bold(true)
			}
			return base.Foreground(colorWhite)
		})

	b.WriteString(t.Render())
	b.WriteString("\n\n")
	b.WriteString(listDimStyle.Render(fmt.Sprintf("  [%d/%d]", m.Cursor+1, len(m.Logs))))

	return b.String()
}

func (m LogBrowserModel) viewDetail() string {
	var b strings.Builder
	l := m.Logs[m.Cursor]

	b.WriteString(StyleTitle.Render(l.AttrPath))
	b.WriteString(StyleDim.Render(fmt.Sprintf("  %s %s %s", l.OldVersion, iconArrow, l.NewVersion)))
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render(l.DrvPath))
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render("↑/↓ scroll  esc back  q quit"))
	b.WriteString("\n\n")

	lines := m.detailLines()
	end := min(m.Scroll+m.Height, len(lines))
	for _, line := range lines[m.Scroll:end] {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if len(lines) > m.Height {
		b.WriteString("\n")
		b.WriteString(listDimStyle.Render(fmt.Sprintf("  lines %d-%d of %d", m.Scroll+1, end, len(lines))))
	}

	return b.String()
}

// =============================================================================
// Helpers
// =============================================================================

func formatRelativeTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Local().Format("Jan 2, 2006")
	}
}
