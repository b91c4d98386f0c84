// Package console is the operator console for the bench, built on bubbletea.
//
// The left pane shows live telemetry, the state of the current run and the
// script library; the right pane is a table of the points recorded by the
// current run. Status and point pushes arrive through channels from a
// bench.Client and are consumed via bubbletea Cmd subscriptions. Requests to
// the bench run as Cmds so the UI never blocks on the network.
//
// Keys: up/down pick a script, enter runs it, c cancels, t sets the throttle,
// z zeroes all load cells and sensors, e exports the points to CSV, q quits.
package console

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"thrustrig/bench"
	"thrustrig/controller"
	"thrustrig/datasheet"
	"thrustrig/rig"
)

// Bench is the part of bench.Client the console drives.
type Bench interface {
	Run(script string) (string, error)
	Cancel() error
	SetThrottle(percent int) error
	Zero(channel string) error
	Points() ([]datasheet.Point, error)
}

// --- Bubbletea messages ---

type statusMsg bench.StatusPayload

type pointMsg datasheet.Point

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

// resultMsg reports the outcome of a request made from the console.
type resultMsg struct {
	note string
	err  error
}

// promptKind says what the input box is asking for.
type promptKind int

const (
	promptNone promptKind = iota
	promptThrottle
	promptExport
)

// Model is the bubbletea model of the operator console.
type Model struct {
	bench    Bench
	statusCh <-chan bench.StatusPayload
	pointCh  <-chan datasheet.Point
	errCh    <-chan error

	status bench.StatusPayload
	ready  bool
	runKey time.Time // StartedAt of the run whose points are shown

	points []datasheet.Point
	table  table.Model

	cursor int // index into status.Scripts

	input  textinput.Model
	prompt promptKind

	note    string
	errText string

	width  int
	height int
}

// New creates a console over b. Pushes are read from the given channels.
func New(b Bench, statusCh <-chan bench.StatusPayload, pointCh <-chan datasheet.Point, errCh <-chan error) Model {
	in := textinput.New()
	in.CharLimit = 256

	cols := []table.Column{
		{Title: "Time", Width: 8},
		{Title: "Thr", Width: 4},
		{Title: "Thrust", Width: 9},
		{Title: "Torque", Width: 9},
		{Title: "Volts", Width: 7},
		{Title: "Amps", Width: 7},
	}
	t := table.New(table.WithColumns(cols), table.WithHeight(10))

	return Model{
		bench:    b,
		statusCh: statusCh,
		pointCh:  pointCh,
		errCh:    errCh,
		table:    t,
		input:    in,
	}
}

// ForClient creates a console driven by a subscribed bench client.
func ForClient(c *bench.Client) Model {
	return New(c, c.StatusCh, c.PointCh, c.ErrCh)
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForStatus(), m.waitForPoint(), m.waitForError())
}

func (m Model) waitForStatus() tea.Cmd {
	return func() tea.Msg {
		payload, ok := <-m.statusCh
		if !ok {
			return errMsg{err: fmt.Errorf("status channel closed")}
		}
		return statusMsg(payload)
	}
}

func (m Model) waitForPoint() tea.Cmd {
	return func() tea.Msg {
		p, ok := <-m.pointCh
		if !ok {
			return nil
		}
		return pointMsg(p)
	}
}

func (m Model) waitForError() tea.Cmd {
	return func() tea.Msg {
		err, ok := <-m.errCh
		if !ok {
			return nil
		}
		return errMsg{err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(3, m.height-6))
		return m, nil

	case statusMsg:
		m.applyStatus(bench.StatusPayload(msg))
		return m, m.waitForStatus()

	case pointMsg:
		m.points = append(m.points, datasheet.Point(msg))
		m.refreshTable()
		return m, m.waitForPoint()

	case errMsg:
		m.errText = msg.Error()
		return m, m.waitForError()

	case resultMsg:
		if msg.err != nil {
			m.errText = msg.err.Error()
		} else {
			m.errText = ""
			m.note = msg.note
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// applyStatus takes a new status push. A new run clears the point table.
func (m *Model) applyStatus(st bench.StatusPayload) {
	m.status = st
	m.ready = true
	if st.Run.State == controller.Running && !st.Run.StartedAt.Equal(m.runKey) {
		m.runKey = st.Run.StartedAt
		m.points = nil
		m.refreshTable()
	}
	if m.cursor >= len(st.Scripts) {
		m.cursor = max(0, len(st.Scripts)-1)
	}
}

func (m *Model) refreshTable() {
	rows := make([]table.Row, len(m.points))
	for i, p := range m.points {
		rows[i] = table.Row{
			fmt.Sprintf("%.2fs", float64(p.ElapsedMs)/1000),
			strconv.Itoa(p.Throttle),
			formatValue(p.Cell1),
			formatValue(p.Cell2),
			formatValue(p.Voltage),
			formatValue(p.Current),
		}
	}
	m.table.SetRows(rows)
	m.table.GotoBottom()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, tea.Quit
	}

	if m.prompt != promptNone {
		switch key {
		case "enter":
			value := strings.TrimSpace(m.input.Value())
			kind := m.prompt
			m.closePrompt()
			return m, m.submit(kind, value)
		case "esc":
			m.closePrompt()
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch key {
	case "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.status.Scripts)-1 {
			m.cursor++
		}
	case "enter", "r":
		if len(m.status.Scripts) == 0 {
			m.errText = "no scripts in the library"
			return m, nil
		}
		return m, m.runScript(m.status.Scripts[m.cursor])
	case "c", "esc":
		return m, m.request("cancel requested", m.bench.Cancel)
	case "z":
		return m, m.request("zeroed", func() error { return m.bench.Zero("") })
	case "t":
		return m, m.openPrompt(promptThrottle, "throttle 0-100", "")
	case "e":
		return m, m.openPrompt(promptExport, "export path", "points.csv")
	case "pgup", "pgdown", "home", "end":
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) openPrompt(kind promptKind, placeholder, value string) tea.Cmd {
	m.prompt = kind
	m.input.Placeholder = placeholder
	m.input.SetValue(value)
	m.input.Focus()
	return textinput.Blink
}

func (m *Model) closePrompt() {
	m.prompt = promptNone
	m.input.Reset()
	m.input.Blur()
}

func (m Model) submit(kind promptKind, value string) tea.Cmd {
	switch kind {
	case promptThrottle:
		n, err := strconv.Atoi(value)
		if err != nil {
			return func() tea.Msg { return resultMsg{err: fmt.Errorf("throttle %q is not a whole number", value)} }
		}
		return m.request(fmt.Sprintf("throttle set to %d%%", n), func() error { return m.bench.SetThrottle(n) })
	case promptExport:
		if value == "" {
			return nil
		}
		return m.export(value)
	}
	return nil
}

func (m Model) runScript(name string) tea.Cmd {
	b := m.bench
	return func() tea.Msg {
		id, err := b.Run(name)
		if err != nil {
			return resultMsg{err: fmt.Errorf("run %s: %w", name, err)}
		}
		return resultMsg{note: fmt.Sprintf("started %s (%s)", name, id)}
	}
}

func (m Model) request(note string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return resultMsg{err: err}
		}
		return resultMsg{note: note}
	}
}

// export fetches every point from the bench and writes them to path.
func (m Model) export(path string) tea.Cmd {
	b := m.bench
	return func() tea.Msg {
		points, err := b.Points()
		if err != nil {
			return resultMsg{err: fmt.Errorf("export: %w", err)}
		}
		sheet := datasheet.New()
		for _, p := range points {
			sheet.Add(p)
		}
		if err := sheet.ExportCSV(path); err != nil {
			return resultMsg{err: fmt.Errorf("export: %w", err)}
		}
		return resultMsg{note: fmt.Sprintf("exported %d points to %s", len(points), path)}
	}
}

// --- View ---

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Underline(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	selectedStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("230")).
			Bold(true)
)

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if !m.ready {
		msg := "Connecting to bench..."
		if m.errText != "" {
			msg = "Error: " + m.errText
		}
		return lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Render(msg)
	}

	leftWidth := max(32, m.width*2/5)
	rightWidth := max(20, m.width-leftWidth-3)
	contentHeight := max(5, m.height-3)

	left := lipgloss.NewStyle().
		Width(leftWidth).
		Height(contentHeight).
		BorderRight(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		Render(m.renderSide())

	right := lipgloss.NewStyle().
		Width(rightWidth).
		Height(contentHeight).
		Render(headerStyle.Render(fmt.Sprintf("Points (%d)", len(m.points))) + "\n" + m.table.View())

	main := lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	return lipgloss.JoinVertical(lipgloss.Left, main, m.renderFooter())
}

func (m Model) renderSide() string {
	var sb strings.Builder
	tel := m.status.Telemetry

	sb.WriteString(headerStyle.Render("Telemetry"))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("%-8s %9s %9s %9s\n", "", "raw", "value", "offset"))
	for _, ch := range rig.Channels {
		r := tel.Readings[ch]
		raw, cal := "n/a", "n/a"
		if r.Valid {
			raw = formatValue(r.Value)
			cal = formatValue(r.Value - tel.Offsets[ch])
		}
		sb.WriteString(fmt.Sprintf("%-8s %9s %9s %9s\n", ch, raw, cal, formatValue(tel.Offsets[ch])))
	}
	sb.WriteString(fmt.Sprintf("throttle %d%%\n\n", tel.Throttle))

	sb.WriteString(headerStyle.Render("Run"))
	sb.WriteString("\n")
	sb.WriteString(runLine(m.status.Run))
	sb.WriteString("\n\n")

	sb.WriteString(headerStyle.Render("Scripts"))
	sb.WriteString("\n")
	if len(m.status.Scripts) == 0 {
		sb.WriteString(dimStyle.Render("No scripts.\nAdd *.rig files to the scripts directory."))
		return sb.String()
	}
	for i, name := range m.status.Scripts {
		if i == m.cursor {
			sb.WriteString(selectedStyle.Render("> " + name))
		} else {
			sb.WriteString("  " + name)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func runLine(st controller.Status) string {
	name := st.Script
	if name == "" {
		name = "inline"
	}
	switch st.State {
	case controller.Idle:
		return dimStyle.Render("idle")
	case controller.Running:
		return fmt.Sprintf("running %s [%s] %d pts, %s", name, st.ScriptID, st.Points,
			time.Since(st.StartedAt).Truncate(100*time.Millisecond))
	case controller.Failed:
		return errStyle.Render(fmt.Sprintf("failed %s: %s", name, st.Reason))
	default:
		return fmt.Sprintf("%s %s [%s] %d pts in %s", st.State, name, st.ScriptID, st.Points,
			st.FinishedAt.Sub(st.StartedAt).Truncate(time.Millisecond))
	}
}

func (m Model) renderFooter() string {
	if m.prompt != promptNone {
		return "> " + m.input.View()
	}
	line := dimStyle.Render("enter run · c cancel · t throttle · z zero · e export · q quit")
	switch {
	case m.errText != "":
		line += "\n" + errStyle.Render("! "+m.errText)
	case m.note != "":
		line += "\n" + m.note
	}
	return line
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
