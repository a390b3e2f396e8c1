package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"teleop-dash/internal/channel"
	"teleop-dash/internal/recording"
	"teleop-dash/internal/telemetry"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warningStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("9")).
			Padding(1, 2)
)

func (m model) View() string {
	if m.help {
		return renderHelp()
	}
	if m.snap.Warning != "" {
		box := warningStyle.Render(m.snap.Warning + "\n\n" + mutedStyle.Render("enter to dismiss"))
		if m.width > 0 && m.height > 0 {
			return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
		}
		return box
	}
	sections := []string{
		m.renderHeader(),
		m.renderBody(),
		m.renderImages(),
		m.vp.View(),
	}
	if m.settingsOpen {
		sections = append(sections, m.renderSettings())
	}
	sections = append(sections, m.renderBottom())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m model) renderHeader() string {
	v := m.snap.View
	rec := m.snap.Recording
	recLine := mutedStyle.Render("○ idle")
	if rec.State == recording.Recording {
		recLine = errorStyle.Render("● REC " + recording.FormatHMS(rec.ElapsedSeconds))
	}
	status := fmt.Sprintf("%s  status=%s  batt=%.1f%%  gear=%s  lin=%.1f m/s  ang=%.1f  grip=%.1f mm  %s",
		titleStyle.Render("teleop"),
		v.RobotStatus, v.Battery, telemetry.GearLabel(v.GearStatus),
		v.LinearSpeed, v.AngularSpeed, v.GripperOpening, recLine)
	drive := mutedStyle.Render(fmt.Sprintf("angle=%.1f accel=%.1f brake=%.1f  cam1 %.1ffps/%.1fms  cam2 %.1ffps/%.1fms",
		v.Angle, v.Accel, v.Brake, v.Camera1FPS, v.Camera1Latency, v.Camera2FPS, v.Camera2Latency))
	return status + "\n" + drive
}

func (m model) renderBody() string {
	tableView := panelStyle.Render(m.joints.View())
	chartView := panelStyle.Render(m.chart.View())
	return lipgloss.JoinHorizontal(lipgloss.Top, tableView, chartView)
}

func (m model) renderImages() string {
	parts := make([]string, 0, len(telemetry.Slots()))
	for _, slot := range telemetry.Slots() {
		uri, ok := m.snap.Images[slot]
		if !ok {
			parts = append(parts, mutedStyle.Render(string(slot)+" -"))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s", slot, byteSize(len(uri))))
	}
	return "images: " + strings.Join(parts, "  ")
}

func (m model) renderSettings() string {
	s := m.snap.Settings
	current := mutedStyle.Render(fmt.Sprintf("hz=%d format=%s file=%s task=%q", s.Hertz, s.FileFormat, s.FileName, s.SaveTask))
	return "dataset settings: " + current + "\n" + m.settings.View()
}

func (m model) renderBottom() string {
	names := make([]string, 0, len(m.snap.Channels))
	for name := range m.snap.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		st := m.snap.Channels[name]
		color := lipgloss.Color("9")
		switch st {
		case channel.Connected:
			color = lipgloss.Color("10")
		case channel.Connecting, channel.Backoff:
			color = lipgloss.Color("11")
		}
		fmt.Fprintf(&b, "%s %s | ", name, lipgloss.NewStyle().Foreground(color).Render("●"))
	}
	wrapColor := lipgloss.Color("9")
	if m.wrap {
		wrapColor = lipgloss.Color("10")
	}
	fmt.Fprintf(&b, "Wrap %s | msgs %d | ? help", lipgloss.NewStyle().Foreground(wrapColor).Render("●"), m.snap.Messages)
	line := b.String()
	if m.status != "" {
		line += "\n" + errorStyle.Render(m.status)
	}
	return line
}

func renderHelp() string {
	lines := []string{
		"Key Bindings:",
		" r  start recording",
		" s  save recording",
		" d  discard recording",
		" w  edit dataset settings (key=value, ...)",
		" c  clear event log",
		" t  toggle wrap for event log",
		" h/? toggle this help view",
		" q  quit",
		"",
		"Settings keys: hz path task file format size",
		"  arm.position arm.velocity arm.current arm.gripper",
		"  mobile.linear mobile.angular mobile.odom",
		"  sensor.camera1 sensor.camera2 sensor.lidar sensor.map",
		"",
		"Event log:",
		" j/k or up/down    scroll one line",
		" pgdown/pgup       scroll a page",
	}
	return strings.Join(lines, "\n")
}

func byteSize(n int) string {
	if n < 1024 {
		return fmt.Sprintf("%dB", n)
	}
	return fmt.Sprintf("%.1fKB", float64(n)/1024)
}
