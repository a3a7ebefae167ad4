package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/bitwire/metrics"
)

// refreshInterval is how often a live stats view re-reads its collector.
const refreshInterval = time.Second

type tickMsg time.Time

// StatsModel is a Bubble Tea model for session counters. With a collector it
// refreshes on a timer; with a snapshot it is static.
type StatsModel struct {
	collector *metrics.Collector
	snap      metrics.Snapshot
	width     int
	height    int
	quitting  bool
}

// NewStatsModel accepts a *metrics.Collector or a *metrics.Snapshot.
func NewStatsModel(data any) (StatsModel, error) {
	switch d := data.(type) {
	case *metrics.Collector:
		return StatsModel{collector: d, snap: d.Snapshot()}, nil
	case *metrics.Snapshot:
		return StatsModel{snap: *d}, nil
	default:
		return StatsModel{}, fmt.Errorf("invalid data type for %s: %T", ViewStatsSession, data)
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	if m.collector == nil {
		return nil
	}
	return tick()
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		if m.collector == nil {
			return m, nil
		}
		m.snap = m.collector.Snapshot()
		return m, tick()

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}
	s := m.snap

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Session " + s.SessionID))
	b.WriteString("\n")
	for _, row := range [][2]string{
		{"Protocol", s.Protocol},
		{"Transport", s.Transport},
		{"Capture", s.StorageBackend},
	} {
		if row[1] == "" {
			row[1] = "-"
		}
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render(row[0]+":"), ValueStyle.Render(row[1]))
	}
	b.WriteString("\n")

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		renderStatBox("Sent", s.FramesSent, highlightColor),
		renderStatBox("Received", s.FramesReceived, highlightColor),
		renderStatBox("Captured", s.RecordsCaptured, successColor),
	))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		renderStatBox("Decode errors", s.DecodeErrors, errorColor),
		renderStatBox("Unrecognized", s.UnrecognizedIDs, warningColor),
		renderStatBox("Dropped", s.RecordsDropped, errorColor),
	))

	if len(s.ReceivedByMessage) > 0 {
		b.WriteString("\n\n")
		b.WriteString(TitleStyle.Render("Received by message"))
		b.WriteString("\n")
		names := make([]string, 0, len(s.ReceivedByMessage))
		for name := range s.ReceivedByMessage {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render(name+":"),
				ValueStyle.Render(fmt.Sprintf("%d", s.ReceivedByMessage[name])))
		}
	}

	for _, row := range []struct {
		label string
		n     int64
	}{
		{"Framing errors", s.FramingErrors},
		{"Bad variants", s.UnknownDiscriminants},
		{"Send failures", s.TransportSendFailures},
		{"Write failures", s.CaptureWriteFailure},
	} {
		fmt.Fprintf(&b, "\n%s %s", LabelStyle.Render(row.label+":"),
			CountStyle(row.n).Render(fmt.Sprintf("%d", row.n)))
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return b.String() + "\n" + help
}

func renderStatBox(label string, value int64, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

// RunStatsTUI runs the stats TUI.
func RunStatsTUI(data any) error {
	model, err := NewStatsModel(data)
	if err != nil {
		return err
	}
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

// RenderStatsStatic renders a snapshot without the interactive program.
func RenderStatsStatic(snap metrics.Snapshot) string {
	model := StatsModel{snap: snap, width: 80, height: 24}
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
