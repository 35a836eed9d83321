package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const healthInterval = 5 * time.Second

// Options selects what to watch. An empty JobID watches every job of the
// workflow.
type Options struct {
	APIURL     string
	APIKey     string
	WorkflowID string
	JobID      string
	// Interval between job polls. Defaults to 2s.
	Interval time.Duration
	// ExitOnStop quits once every watched job is STOPPED.
	ExitOnStop bool
}

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	client *Client
	opts   Options
	now    func() time.Time

	width  int
	height int

	health HealthState
	jobs   map[string]*JobState

	ticker   Ticker
	activity Activity
	spin     spinner.Model
	table    table.Model

	theme     Theme
	lastError string
	finished  bool
}

// New creates a new watch TUI model.
func New(opts Options) Model {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	theme := NewDefaultTheme()

	return Model{
		client: NewClient(opts.APIURL, opts.APIKey),
		opts:   opts,
		now:    time.Now,
		jobs:   make(map[string]*JobState),
		ticker: NewTicker(),
		spin:   s,
		table:  newJobTable(theme),
		theme:  theme,
	}
}

// Finished reports whether the model quit because every job stopped.
func (m Model) Finished() bool {
	return m.finished
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		fetchJobs(m.client, m.opts.WorkflowID, m.opts.JobID),
		fetchHealth(m.client),
		m.spin.Tick,
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(m.width - 6)

	case tickMsg:
		m.activity.Decay(m.now())
		m.refreshRows()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		m.refreshRows()
		return m, cmd

	case jobsMsg:
		m.ticker.Tick()
		if applyJobs(m.jobs, msg, m.now()) {
			m.activity.OnChange(m.now())
		}
		m.refreshRows()
		m.lastError = ""

		if m.opts.ExitOnStop && allStopped(m.jobs) {
			m.finished = true
			return m, tea.Quit
		}
		return m, tea.Tick(m.opts.Interval, func(time.Time) tea.Msg { return pollMsg{} })

	case pollMsg:
		return m, fetchJobs(m.client, m.opts.WorkflowID, m.opts.JobID)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.EngineVersion = msg.EngineVersion
		m.health.Connected = true
		m.health.LastCheck = m.now()

		c := m.client
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return fetchHealth(c)() })

	case errMsg:
		m.lastError = msg.Error()
		if msg.from == "health" {
			m.health.Connected = false
			c := m.client
			return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return fetchHealth(c)() })
		}
		return m, tea.Tick(m.opts.Interval, func(time.Time) tea.Msg { return pollMsg{} })
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) refreshRows() {
	m.table.SetRows(jobRows(sortedJobs(m.jobs), m.spin.View(), m.now()))
}

func (m Model) target() string {
	if m.opts.JobID != "" {
		return m.opts.WorkflowID + "/" + m.opts.JobID
	}
	return m.opts.WorkflowID
}

func (m Model) View() string {
	if m.finished {
		return fmt.Sprintf("All jobs of %s stopped.\n", m.target())
	}
	if m.width == 0 {
		return "Initializing watch..."
	}

	header := renderHeader(m.target(), m.health, m.ticker, m.activity, m.theme, m.width)
	jobs := renderJobs(m.table, m.jobs, m.theme, m.width)

	parts := []string{header, jobs}
	if m.lastError != "" {
		parts = append(parts, m.theme.Failing.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Navigate Jobs")
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
