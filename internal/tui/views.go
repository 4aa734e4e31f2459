package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/healthfolio/folio/internal/model"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5FAFD7")).
			MarginBottom(1)

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ECDC4"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFE66D"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Extraction progress"))
	b.WriteString("\n")

	if m.snapshot != nil {
		b.WriteString(m.progress.ViewAs(m.snapshot.Percent() / 100))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(fmt.Sprintf(
			"%d total, %d completed, %d failed, %d processing",
			m.snapshot.Total, m.snapshot.Completed, m.snapshot.Failed, m.snapshot.Processing)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	for _, row := range m.rows {
		b.WriteString(m.renderRow(row))
		b.WriteString("\n")
	}

	if m.fetchErr != "" {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render("poll: " + m.fetchErr))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderHelp())

	return b.String()
}

func (m Model) renderRow(row jobRow) string {
	var marker, detail string

	switch row.status {
	case model.StatusAwaitingConfirmation:
		marker = okStyle.Render("✓")
		detail = dimStyle.Render(fmt.Sprintf("%d entities awaiting review", row.entityCount))
	case model.StatusCompleted:
		marker = okStyle.Render("✓")
		detail = dimStyle.Render("completed")
	case model.StatusFailed:
		marker = failStyle.Render("✗")
		detail = failStyle.Render(row.lastError)
	case model.StatusTimedOut:
		marker = failStyle.Render("✗")
		detail = warnStyle.Render("timed out waiting for the server")
	default:
		marker = m.spinner.View()
		detail = dimStyle.Render(string(row.status))
	}

	return fmt.Sprintf("  %s %-32s %s", marker, row.filename, detail)
}

func (m Model) renderHelp() string {
	parts := []string{m.keys.Quit.Help().Key + " " + m.keys.Quit.Help().Desc}
	if m.FailedCount() > 0 {
		parts = append(parts,
			m.keys.Retry.Help().Key+" "+m.keys.Retry.Help().Desc,
			m.keys.Dismiss.Help().Key+" "+m.keys.Dismiss.Help().Desc)
	}
	return dimStyle.Render(strings.Join(parts, "  •  "))
}
