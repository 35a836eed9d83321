package watch

import (
	"path"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/nfgate/internal/api"
)

// JobState is the watcher's view of one job.
type JobState struct {
	ID          string
	WorkspaceID string
	State       string
	CreatedAt   time.Time
	StoppedAt   *time.Time
	// ChangedAt is when the watcher last saw State change.
	ChangedAt time.Time
}

// applyJobs merges a poll result into jobs and reports whether any job was
// new or changed state.
func applyJobs(jobs map[string]*JobState, polled []api.JobResource, now time.Time) bool {
	changed := false
	for _, j := range polled {
		st, ok := jobs[j.JobID]
		if !ok {
			st = &JobState{ID: j.JobID, ChangedAt: now}
			jobs[j.JobID] = st
			changed = true
		} else if st.State != j.State {
			st.ChangedAt = now
			changed = true
		}
		st.WorkspaceID = workspaceID(j)
		st.State = j.State
		st.CreatedAt = j.CreatedAt
		st.StoppedAt = j.StoppedAt
	}
	return changed
}

// workspaceID takes the last segment of the workspace @id URL.
func workspaceID(j api.JobResource) string {
	if j.Workspace.ID == "" {
		return ""
	}
	return path.Base(j.Workspace.ID)
}

// sortedJobs returns jobs newest first.
func sortedJobs(jobs map[string]*JobState) []*JobState {
	out := make([]*JobState, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out
}

func allStopped(jobs map[string]*JobState) bool {
	if len(jobs) == 0 {
		return false
	}
	for _, j := range jobs {
		if j.State != "STOPPED" {
			return false
		}
	}
	return true
}

func newJobTable(theme Theme) table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Job", Width: 36},
			{Title: "Workspace", Width: 20},
			{Title: "State", Width: 8},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	t.SetStyles(theme.tableStyles())
	return t
}

func jobRows(jobs []*JobState, spin string, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(jobs))
	for _, j := range jobs {
		icon := "·"
		switch j.State {
		case "RUNNING":
			icon = spin
		case "STOPPED":
			icon = "✓"
		}
		rows = append(rows, table.Row{icon, j.ID, j.WorkspaceID, j.State, jobDuration(j, now)})
	}
	return rows
}

func jobDuration(j *JobState, now time.Time) string {
	if j.CreatedAt.IsZero() {
		return "-"
	}
	end := now
	if j.StoppedAt != nil {
		end = *j.StoppedAt
	}
	return formatDuration(end.Sub(j.CreatedAt))
}

func renderJobs(t table.Model, jobs map[string]*JobState, theme Theme, width int) string {
	innerWidth := width - 4
	if len(jobs) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("JOBS"),
			theme.Dim.Render("  Waiting for jobs..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}
	title := lipgloss.JoinHorizontal(lipgloss.Top, theme.Title.Render("JOBS"), " ", theme.Summary(jobs))
	content := lipgloss.JoinVertical(lipgloss.Left, title, t.View())
	return theme.Border.Width(innerWidth).Render(content)
}
