package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"teleop-dash/internal/recording"
	"teleop-dash/internal/session"
	"teleop-dash/internal/telemetry"
)

const (
	settingsPlaceholder = "hz=30, format=csv, arm.position=on"
	minChartWidth       = 30
	chartHeight         = 8
)

var jointColors = []string{"9", "10", "11", "12", "13", "14"}

type model struct {
	ctrl         Controller
	snap         session.Snapshot
	joints       table.Model
	chart        *streamlinechart.Model
	vp           viewport.Model
	settings     textinput.Model
	settingsOpen bool
	help         bool
	wrap         bool
	status       string
	lastMessages int
	width        int
	height       int
}

func newModel(ctrl Controller, initial session.Snapshot) model {
	cols := []table.Column{
		{Title: "Joint", Width: 6},
		{Title: "Angle", Width: 8},
		{Title: "Master", Width: 8},
		{Title: "Cart", Width: 8},
		{Title: "Force", Width: 8},
	}
	t := table.New(table.WithColumns(cols), table.WithHeight(telemetry.VectorLen+1), table.WithWidth(48))

	chart := streamlinechart.New(minChartWidth, chartHeight, streamlinechart.WithYRange(-180, 180))
	for i := 0; i < telemetry.VectorLen; i++ {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColors[i]))
		chart.SetDataSetStyles(jointName(i), runes.ThinLineStyle, style)
	}

	in := textinput.New()
	in.Placeholder = settingsPlaceholder
	in.CharLimit = 256

	m := model{
		ctrl:     ctrl,
		joints:   t,
		chart:    &chart,
		vp:       viewport.New(0, 0),
		settings: in,
	}
	m.apply(initial)
	return m
}

func jointName(i int) string { return fmt.Sprintf("J%d", i+1) }

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
	case snapshotMsg:
		m.apply(msg.Snapshot)
	case resultMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("%s: %v", msg.action, msg.err)
		} else {
			m.status = ""
		}
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, tea.Quit
	}
	if m.snap.Warning != "" {
		switch key {
		case "enter", "esc", " ":
			m.snap.Warning = ""
			return m, run("dismiss", m.ctrl.DismissWarning)
		}
		return m, nil
	}
	if m.settingsOpen {
		switch msg.Type {
		case tea.KeyEnter:
			next, err := recording.ApplyOverrides(m.snap.Settings, m.settings.Value())
			if err != nil {
				m.status = "settings: " + err.Error()
				return m, nil
			}
			m.closeSettings()
			return m, run("settings", func(ctx context.Context) error {
				return m.ctrl.SaveSettings(ctx, next)
			})
		case tea.KeyEsc:
			m.closeSettings()
			return m, nil
		}
		var cmd tea.Cmd
		m.settings, cmd = m.settings.Update(msg)
		return m, cmd
	}
	if m.help {
		switch key {
		case "?", "h", "esc", "q":
			m.help = false
		}
		return m, nil
	}

	switch key {
	case "q":
		return m, tea.Quit
	case "r":
		return m, run("start", m.ctrl.StartRecording)
	case "s":
		return m, run("save", m.ctrl.SaveRecording)
	case "d":
		return m, run("discard", m.ctrl.DiscardRecording)
	case "c":
		return m, run("clear", m.ctrl.ClearLog)
	case "w":
		m.settingsOpen = true
		m.settings.SetValue("")
		m.layout()
		return m, m.settings.Focus()
	case "t":
		m.wrap = !m.wrap
		m.refreshLog()
	case "?", "h":
		m.help = true
	default:
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *model) closeSettings() {
	m.settingsOpen = false
	m.settings.Blur()
	m.layout()
}

// apply takes in a new snapshot and refreshes every derived widget.
func (m *model) apply(s session.Snapshot) {
	m.snap = s
	v := s.View
	rows := make([]table.Row, 0, telemetry.VectorLen)
	for i := 0; i < telemetry.VectorLen; i++ {
		rows = append(rows, table.Row{
			jointName(i),
			fmt.Sprintf("%.1f", v.JointAngles[i]),
			fmt.Sprintf("%.1f", v.MasterJointAngles[i]),
			fmt.Sprintf("%.1f", v.CartesianPosition[i]),
			fmt.Sprintf("%.1f", v.ForceSensor[i]),
		})
	}
	m.joints.SetRows(rows)
	if s.Messages != m.lastMessages {
		for i := 0; i < telemetry.VectorLen; i++ {
			m.chart.PushDataSet(jointName(i), v.JointAngles[i])
		}
		m.chart.DrawAll()
		m.lastMessages = s.Messages
	}
	m.refreshLog()
}

func (m *model) layout() {
	if m.width == 0 {
		return
	}
	tableWidth := lipgloss.Width(m.joints.View())
	chartWidth := m.width - tableWidth - 4
	if chartWidth < minChartWidth {
		chartWidth = minChartWidth
	}
	m.chart.Resize(chartWidth, chartHeight)
	m.chart.DrawAll()
	m.vp.Width = m.width
	used := lipgloss.Height(m.renderHeader()) + lipgloss.Height(m.renderBody()) +
		lipgloss.Height(m.renderImages()) + lipgloss.Height(m.renderBottom()) + 1
	if m.settingsOpen {
		used += lipgloss.Height(m.renderSettings())
	}
	h := m.height - used
	if h < 3 {
		h = 3
	}
	m.vp.Height = h
	m.refreshLog()
}

func (m *model) refreshLog() {
	lines := make([]string, 0, len(m.snap.Log))
	for _, e := range m.snap.Log {
		l := e.String()
		switch {
		case m.vp.Width <= 0:
		case m.wrap:
			l = wordwrap.String(l, m.vp.Width)
		default:
			l = truncate.String(l, uint(m.vp.Width))
		}
		lines = append(lines, l)
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	m.vp.GotoTop()
}
