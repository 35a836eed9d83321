// Package watch implements the nfgate job watch TUI. It polls the HTTP API
// for job state and engine health.
package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

var (
	colorAccent = lipgloss.Color("#874BFD")
	colorGreen  = lipgloss.Color("#00FF00")
	colorYellow = lipgloss.Color("#FFFF00")
	colorRed    = lipgloss.Color("#FF0000")
	colorGrey   = lipgloss.Color("#888888")
)

// Theme holds the styles of the watch screen.
type Theme struct {
	Healthy lipgloss.Style
	Failing lipgloss.Style
	Running lipgloss.Style
	Stopped lipgloss.Style
	Queued  lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	ActiveDot lipgloss.Style
	IdleDot   lipgloss.Style
}

func NewDefaultTheme() Theme {
	return Theme{
		Healthy: lipgloss.NewStyle().Foreground(colorGreen),
		Failing: lipgloss.NewStyle().Foreground(colorRed),
		Running: lipgloss.NewStyle().Foreground(colorYellow),
		Stopped: lipgloss.NewStyle().Foreground(colorGreen),
		Queued:  lipgloss.NewStyle().Foreground(colorGrey),

		Border:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorAccent),
		Title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")).Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(colorGrey),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		ActiveDot: lipgloss.NewStyle().Foreground(colorGreen),
		IdleDot:   lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

// State returns the style for a job state name.
func (t Theme) State(state string) lipgloss.Style {
	switch state {
	case "RUNNING":
		return t.Running
	case "STOPPED":
		return t.Stopped
	default:
		return t.Queued
	}
}

// Summary renders per-state job counts, e.g. "2 RUNNING  5 STOPPED".
func (t Theme) Summary(jobs map[string]*JobState) string {
	counts := map[string]int{}
	for _, j := range jobs {
		counts[j.State]++
	}
	var parts []string
	for _, state := range []string{"RUNNING", "STOPPED", "QUEUED"} {
		if n := counts[state]; n > 0 {
			parts = append(parts, t.State(state).Render(fmt.Sprintf("%d %s", n, state)))
		}
	}
	return strings.Join(parts, "  ")
}

// tableStyles styles the job table. Cells stay unstyled; the table pads by
// rune width and would miscount escape sequences.
func (t Theme) tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	return s
}
