// Package dashboard is the live terminal view behind "pilotctl top". It polls
// the gateway and renders the tier breakdown, last decision and queue counts.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/example/pilot/pkg/pilotapi"
)

const defaultRefresh = time.Second

// Source is what the dashboard reads from; *client.Client satisfies it.
type Source interface {
	CascadeStats(ctx context.Context) (pilotapi.CascadeStatsResponse, error)
	Queue(ctx context.Context) (pilotapi.QueueStatusResponse, error)
	SetEstop(ctx context.Context, active bool) (bool, error)
}

type snapshotMsg struct {
	stats pilotapi.CascadeStatsResponse
	queue pilotapi.QueueStatusResponse
	err   error
}

type refreshMsg struct{}

var tierOrder = []string{"swarm", "reactive", "fast", "planner"}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#555555")).Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	estopStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#D32F2F")).Padding(0, 1)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#E57373"))
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
)

// Model is the bubbletea model for the dashboard.
type Model struct {
	src     Source
	refresh time.Duration
	width   int

	stats   pilotapi.CascadeStatsResponse
	queue   pilotapi.QueueStatusResponse
	err     error
	updated time.Time
	loaded  bool
}

func New(src Source, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = defaultRefresh
	}
	return Model{src: src, refresh: refresh, width: 72}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.scheduleRefresh())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		case "e":
			return m, m.toggleEstop(!m.stats.Estop)
		}
		return m, nil
	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.stats = msg.stats
			m.queue = msg.queue
			m.updated = time.Now()
			m.loaded = true
		}
		return m, nil
	case refreshMsg:
		return m, tea.Batch(m.fetch(), m.scheduleRefresh())
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	header := titleStyle.Render("pilot cascade")
	if m.stats.Estop {
		header += "  " + estopStyle.Render("ESTOP")
	} else if m.loaded {
		header += "  " + okStyle.Render("running")
	}
	b.WriteString(header + "\n")

	if !m.loaded && m.err == nil {
		b.WriteString(labelStyle.Render("connecting...") + "\n")
		return b.String()
	}

	inner := max(30, m.width-6)
	b.WriteString(boxStyle.Width(inner).Render(m.tiersView(inner)) + "\n")
	b.WriteString(boxStyle.Width(inner).Render(m.queueView()) + "\n")
	if m.err != nil {
		b.WriteString(errStyle.Render("error: "+m.err.Error()) + "\n")
	}
	b.WriteString(hintStyle.Render("q quit · r refresh · e toggle estop"))
	return b.String()
}

func (m Model) tiersView(width int) string {
	head := fmt.Sprintf("ticks %d", m.stats.Total)
	if !m.updated.IsZero() {
		head += "  updated " + m.updated.Format("15:04:05")
	}
	lines := []string{labelStyle.Render(head)}
	barWidth := max(10, width-24)
	counts := map[string]uint64{
		"swarm":    m.stats.Swarm,
		"reactive": m.stats.Reactive,
		"fast":     m.stats.Fast,
		"planner":  m.stats.Planner,
	}
	for _, tier := range tierOrder {
		pct := m.stats.Breakdown[tier]
		lines = append(lines, fmt.Sprintf("%-9s %s %5.1f%% %d", tier, bar(pct, barWidth), pct, counts[tier]))
	}
	last := m.stats.Last
	if last.Tier != "" {
		desc := last.Action
		if last.Reason != "" {
			desc += " (" + last.Reason + ")"
		}
		lines = append(lines, labelStyle.Render(fmt.Sprintf("last #%d via %s: %s", last.Tick, last.Tier, desc)))
	}
	return strings.Join(lines, "\n")
}

func (m Model) queueView() string {
	q := m.queue
	return fmt.Sprintf("pending %d  running %d  done %d  cancelled %d  submitted %d",
		q.Pending, q.Running, q.Done, q.Cancelled, q.Submitted)
}

func bar(pct float64, width int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int(pct / 100 * float64(width))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func (m Model) fetch() tea.Cmd {
	src := m.src
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return load(ctx, src)
	}
}

func (m Model) toggleEstop(active bool) tea.Cmd {
	src := m.src
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := src.SetEstop(ctx, active); err != nil {
			return snapshotMsg{err: err}
		}
		return load(ctx, src)
	}
}

func load(ctx context.Context, src Source) snapshotMsg {
	stats, err := src.CascadeStats(ctx)
	if err != nil {
		return snapshotMsg{err: err}
	}
	queue, err := src.Queue(ctx)
	return snapshotMsg{stats: stats, queue: queue, err: err}
}

func (m Model) scheduleRefresh() tea.Cmd {
	return tea.Tick(m.refresh, func(time.Time) tea.Msg {
		return refreshMsg{}
	})
}

// Run starts the dashboard on the current terminal.
func Run(src Source, refresh time.Duration) error {
	_, err := tea.NewProgram(New(src, refresh), tea.WithAltScreen()).Run()
	return err
}
