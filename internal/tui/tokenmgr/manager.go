// Package tokenmgr is an interactive picker for API token scopes.
package tokenmgr

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/nfgate/internal/auth"
)

var (
	titleStyle      = lipgloss.NewStyle().MarginLeft(2)
	paginationStyle = list.DefaultStyles().PaginationStyle.PaddingLeft(4)
	helpStyle       = list.DefaultStyles().HelpStyle.PaddingLeft(4).PaddingBottom(1)
	quitTextStyle   = lipgloss.NewStyle().Margin(1, 0, 2, 4)
)

// Scopes lists every scope a token can carry, in display order.
var Scopes = []struct {
	Scope string
	Desc  string
}{
	{auth.ScopeAll, "Full administrative access (all scopes)"},
	{auth.ScopeWorkflowRead, "List and download workflow definitions"},
	{auth.ScopeWorkflowWrite, "Upload and replace workflow definitions"},
	{auth.ScopeJobsRead, "Poll job status and list jobs"},
	{auth.ScopeJobsWrite, "Start workflow jobs"},
}

type item struct {
	scope    string
	desc     string
	selected bool
}

func (i item) Title() string {
	check := "[ ]"
	if i.selected {
		check = "[x]"
	}
	return fmt.Sprintf("%s %s", check, i.scope)
}
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.scope }

// Model is the scope picker.
type Model struct {
	list     list.Model
	quitting bool
	done     bool
	scopes   []string
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit

		case " ": // Space to toggle
			if i, ok := m.list.SelectedItem().(item); ok {
				i.selected = !i.selected
				m.list.SetItem(m.list.Index(), i)
			}
			return m, nil

		case "enter":
			m.done = true
			m.scopes = m.selected()
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) selected() []string {
	var out []string
	for _, li := range m.list.Items() {
		if it, ok := li.(item); ok && it.selected {
			out = append(out, it.scope)
		}
	}
	return out
}

func (m Model) View() string {
	if m.quitting {
		return quitTextStyle.Render("Cancelled.")
	}
	if m.done {
		return quitTextStyle.Render(fmt.Sprintf("Selected scopes: %s", strings.Join(m.scopes, ", ")))
	}
	return "\n" + m.list.View()
}

// New builds a picker over Scopes.
func New() Model {
	items := make([]list.Item, 0, len(Scopes))
	for _, s := range Scopes {
		items = append(items, item{scope: s.Scope, desc: s.Desc})
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Select Scopes (Space to toggle, Enter to confirm)"
	l.Styles.Title = titleStyle
	l.Styles.PaginationStyle = paginationStyle
	l.Styles.HelpStyle = helpStyle

	return Model{list: l}
}

// Cancelled reports whether the user quit without confirming.
func (m Model) Cancelled() bool {
	return m.quitting
}

// SelectedScopes returns the confirmed scopes; empty until Enter is pressed.
func (m Model) SelectedScopes() []string {
	return m.scopes
}
