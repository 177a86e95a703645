// Package monitor implements the `tabled watch` TUI: a live view of
// per-table row counts polled over the wire protocol.
package monitor

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Dicklesworthstone/tabled/internal/client"
	"github.com/Dicklesworthstone/tabled/internal/schema"
	"github.com/Dicklesworthstone/tabled/internal/value"
	"github.com/Dicklesworthstone/tabled/internal/wire"
)

// keyMap defines the monitor key bindings.
type keyMap struct {
	Refresh key.Binding
	Quit    key.Binding
}

var keys = keyMap{
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type tickMsg time.Time

// countsMsg carries one polling round's results.
type countsMsg struct {
	counts []int64
	err    error
	at     time.Time
}

// Model is the watch TUI model.
type Model struct {
	addr     string
	interval time.Duration
	tables   []schema.Table
	cli      *client.Client

	tbl       table.Model
	spin      spinner.Model
	polling   bool
	lastErr   error
	refreshed time.Time
}

// New builds the model. tables is the schema the server was started
// with; cli is an open client connection the model polls through. The
// model does not close it.
func New(addr string, interval time.Duration, tables []schema.Table, cli *client.Client) Model {
	columns := []table.Column{
		{Title: "ID", Width: 4},
		{Title: "Table", Width: 24},
		{Title: "Columns", Width: 8},
		{Title: "Rows", Width: 10},
	}
	rows := make([]table.Row, len(tables))
	for i, t := range tables {
		rows[i] = table.Row{fmt.Sprint(i + 1), t.Name, fmt.Sprint(len(t.Columns)), "-"}
	}

	tbl := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(len(tables)+1),
	)

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return Model{
		addr:     addr,
		interval: interval,
		tables:   tables,
		cli:      cli,
		tbl:      tbl,
		spin:     spin,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.poll(), m.tick())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// poll scans every table with AL and counts the returned ids.
func (m Model) poll() tea.Cmd {
	cli := m.cli
	n := len(m.tables)
	return func() tea.Msg {
		counts := make([]int64, n)
		for i := 0; i < n; i++ {
			ids, err := cli.Scan(int32(i+1), 0, wire.OpAll, value.Null())
			if err != nil {
				return countsMsg{err: err, at: time.Now()}
			}
			counts[i] = int64(len(ids))
		}
		return countsMsg{counts: counts, at: time.Now()}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh):
			if !m.polling {
				m.polling = true
				return m, m.poll()
			}
		}
	case tickMsg:
		cmds := []tea.Cmd{m.tick()}
		if !m.polling {
			m.polling = true
			cmds = append(cmds, m.poll())
		}
		return m, tea.Batch(cmds...)
	case countsMsg:
		m.polling = false
		m.lastErr = msg.err
		m.refreshed = msg.at
		if msg.err == nil {
			rows := make([]table.Row, len(m.tables))
			for i, t := range m.tables {
				rows[i] = table.Row{fmt.Sprint(i + 1), t.Name, fmt.Sprint(len(t.Columns)), fmt.Sprint(msg.counts[i])}
			}
			m.tbl.SetRows(rows)
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.tbl, cmd = m.tbl.Update(msg)
	return m, cmd
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// View implements tea.Model.
func (m Model) View() string {
	header := titleStyle.Render("tabled " + m.addr)
	if m.polling {
		header += " " + m.spin.View()
	}

	footer := footerStyle.Render("r refresh · q quit")
	if !m.refreshed.IsZero() {
		footer = footerStyle.Render(fmt.Sprintf("updated %s · r refresh · q quit", m.refreshed.Format("15:04:05")))
	}
	if m.lastErr != nil {
		footer = errStyle.Render("poll failed: "+m.lastErr.Error()) + "\n" + footer
	}

	return header + "\n\n" + m.tbl.View() + "\n\n" + footer + "\n"
}
