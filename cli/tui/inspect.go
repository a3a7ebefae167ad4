package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/bitwire/shape"
)

// ShapeView is the payload of bitwire inspect for one named type.
type ShapeView struct {
	Name  string       `json:"name" yaml:"name"`
	Shape string       `json:"shape" yaml:"shape"`
	Kind  string       `json:"kind" yaml:"kind"`
	Bits  int          `json:"bits" yaml:"bits"`
	Size  int          `json:"size" yaml:"size"`
	Slots []shape.Slot `json:"slots" yaml:"slots"`
}

// NewShapeView describes s under name.
func NewShapeView(name string, s shape.Shape) *ShapeView {
	return &ShapeView{
		Name:  name,
		Shape: s.String(),
		Kind:  s.Kind().String(),
		Bits:  s.Bits(),
		Size:  shape.Size(s),
		Slots: shape.Layout(s),
	}
}

// InspectModel is a Bubble Tea model for a shape layout.
type InspectModel struct {
	view     *ShapeView
	table    table.Model
	width    int
	height   int
	quitting bool
}

var slotColumns = []table.Column{
	{Title: "Offset", Width: 8},
	{Title: "Width", Width: 6},
	{Title: "Kind", Width: 8},
	{Title: "Variant", Width: 12},
	{Title: "Path", Width: 32},
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(view *ShapeView) InspectModel {
	rows := make([]table.Row, 0, len(view.Slots))
	for _, s := range view.Slots {
		rows = append(rows, slotRow(s))
	}
	t := table.New(
		table.WithColumns(slotColumns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(min(len(rows)+3, 20)),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Foreground(primaryColor).Bold(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("#FFFFFF")).Background(highlightColor)
	t.SetStyles(styles)
	return InspectModel{view: view, table: t}
}

func slotRow(s shape.Slot) table.Row {
	width := strconv.Itoa(s.Width)
	if s.Signed {
		width = "s" + width
	}
	return table.Row{strconv.Itoa(s.Offset), width, string(s.Kind), s.Variant, s.Path}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if msg.Height > 10 {
			m.table.SetHeight(min(len(m.view.Slots)+3, msg.Height-10))
		}
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.view.Name))
	b.WriteString("\n")
	for _, row := range [][2]string{
		{"Shape", m.view.Shape},
		{"Kind", m.view.Kind},
		{"Bits", strconv.Itoa(m.view.Bits)},
		{"Bytes", strconv.Itoa(m.view.Size)},
	} {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render(row[0]+":"), ValueStyle.Render(row[1]))
	}
	b.WriteString("\n")
	b.WriteString(m.table.View())
	if sel := m.selected(); sel != nil {
		b.WriteString("\n")
		b.WriteString(SlotStyle(string(sel.Kind)).Render(
			fmt.Sprintf("%s: bits %d..%d", sel.Path, sel.Offset, sel.End()-1)))
	}

	help := HelpStyle.Render("↑/↓ to move, q or Ctrl+C to quit")
	return BoxStyle.Render(b.String()) + "\n" + help
}

func (m InspectModel) selected() *shape.Slot {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.view.Slots) {
		return nil
	}
	return &m.view.Slots[i]
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(data any) error {
	view, ok := data.(*ShapeView)
	if !ok {
		return fmt.Errorf("invalid data type for %s: %T", ViewInspectShape, data)
	}
	p := tea.NewProgram(NewInspectModel(view), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders a layout without the interactive program.
func RenderInspectStatic(view *ShapeView) string {
	model := NewInspectModel(view)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
