package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks server health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	EngineVersion string
	Connected     bool
	LastCheck     time.Time
}

func renderHeader(target string, health HealthState, ticker Ticker, activity Activity, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.Healthy.Render("HEALTHY")
	statusIcon := "✅"
	switch {
	case !health.Connected:
		statusText = theme.Failing.Render("CONNECTING")
		statusIcon = "🔌"
	case health.EngineVersion == "unavailable":
		statusText = theme.Failing.Render("ENGINE DOWN")
		statusIcon = "⚠️"
	case health.Status != "ok" && health.Status != "":
		statusText = theme.Failing.Render("DEGRADED")
		statusIcon = "⚠️"
	}

	uptime := formatDuration(time.Duration(health.UptimeSeconds) * time.Second)

	lastChange := "never"
	if !activity.LastChange().IsZero() {
		lastChange = fmt.Sprintf("%s ago", time.Since(activity.LastChange()).Round(time.Second))
	}

	tickerStr := theme.Highlight.Render(ticker.Current())
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	titleText := fmt.Sprintf(" NFGATE WATCH %s %s", tickerStr, theme.Dim.Render(target))

	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	engine := health.EngineVersion
	if engine == "" {
		engine = "?"
	}
	statsLine := fmt.Sprintf(" %s %s  ⏱ %s  Engine: %s", statusIcon, statusText, uptime, engine)

	activityLine := fmt.Sprintf(" Last change: %s %s", lastChange, activity.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
