// Package tui implements the terminal user interface
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/satindergrewal/beatgrid/internal/command"
	"github.com/satindergrewal/beatgrid/internal/world"
)

const maxHistory = 200

// Model is the main TUI model: a live status panel over a command prompt.
type Model struct {
	ctrl command.Controller

	Width  int
	Height int

	Input   string
	History []string // command echoes and output, oldest first
	Status  world.Status
	Quit    bool
}

// NewModel creates a TUI model driving ctrl.
func NewModel(ctrl command.Controller) Model {
	return Model{
		ctrl:   ctrl,
		Width:  100,
		Height: 30,
		Status: ctrl.Status(),
		History: []string{
			"beatgrid, type h for help",
		},
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tea.EnterAltScreen,
		tickCmd(),
	)
}

// tickMsg refreshes the status panel.
type tickMsg struct{}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(_ time.Time) tea.Msg {
		return tickMsg{}
	})
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case tickMsg:
		m.Status = m.ctrl.Status()
		return m, tickCmd()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.Quit = true
		return m, tea.Quit
	case tea.KeyEnter:
		return m.submit()
	case tea.KeyBackspace:
		if r := []rune(m.Input); len(r) > 0 {
			m.Input = string(r[:len(r)-1])
		}
	case tea.KeyCtrlU, tea.KeyEsc:
		m.Input = ""
	case tea.KeySpace:
		m.Input += " "
	case tea.KeyRunes:
		m.Input += string(msg.Runes)
	}
	return m, nil
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.Input)
	m.Input = ""
	if line == "" {
		return m, nil
	}
	m.push("> " + line)
	res, err := command.Execute(m.ctrl, line)
	switch {
	case err != nil:
		m.push("error: " + err.Error())
	case res.Quit:
		m.Quit = true
		return m, tea.Quit
	case res.Output != "":
		for _, l := range strings.Split(res.Output, "\n") {
			m.push(l)
		}
	}
	m.Status = m.ctrl.Status()
	return m, nil
}

func (m *Model) push(line string) {
	m.History = append(m.History, line)
	if n := len(m.History); n > maxHistory {
		m.History = append(m.History[:0], m.History[n-maxHistory:]...)
	}
}

// View implements tea.Model
func (m Model) View() string {
	var b strings.Builder

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("14")).
		Render("beatgrid")
	tempo := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10")).
		Render(fmt.Sprintf("%.2f bpm", m.Status.BPM))
	fmt.Fprintf(&b, "%s  %s  %d songs\n\n", title, tempo, m.Status.Songs)

	b.WriteString(m.renderGrid())
	b.WriteString("\n\n")

	rows := m.Height - 10 - len(m.Status.Playheads)
	if rows < 3 {
		rows = 3
	}
	hist := m.History
	if len(hist) > rows {
		hist = hist[len(hist)-rows:]
	}
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	for _, l := range hist {
		switch {
		case strings.HasPrefix(l, "error: "):
			b.WriteString(errStyle.Render(l))
		case strings.HasPrefix(l, "> "):
			b.WriteString(dim.Render(l))
		default:
			b.WriteString(l)
		}
		b.WriteByte('\n')
	}

	prompt := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Render("> ")
	b.WriteString("\n" + prompt + m.Input + "_")
	return b.String()
}

// renderGrid draws one row per playhead, one cell per track.
func (m Model) renderGrid() string {
	var b strings.Builder
	head := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	b.WriteString(head.Render("             beat "))
	for t, on := range m.Status.Tracks {
		style := lipgloss.NewStyle().Width(10)
		if on {
			style = style.Foreground(lipgloss.Color("15"))
		} else {
			style = style.Foreground(lipgloss.Color("8")).Strikethrough(true)
		}
		b.WriteString(style.Render(fmt.Sprintf("track %d", t)))
	}
	for _, ph := range m.Status.Playheads {
		label := lipgloss.NewStyle().Width(10)
		if ph.Active {
			label = label.Foreground(lipgloss.Color("11")).Bold(true)
		} else {
			label = label.Foreground(lipgloss.Color("8"))
		}
		b.WriteByte('\n')
		b.WriteString(label.Render(fmt.Sprintf("playhead %d", ph.Index)))
		fmt.Fprintf(&b, "%8.2f ", ph.Beat)
		for _, pair := range ph.Tracks {
			cell := lipgloss.NewStyle().Width(10)
			text := "-"
			if pair.Clip >= 0 {
				text = fmt.Sprintf("c%d s%d", pair.Clip, pair.Song)
				cell = cell.Foreground(lipgloss.Color("13"))
			} else {
				cell = cell.Foreground(lipgloss.Color("8"))
			}
			b.WriteString(cell.Render(text))
		}
	}
	return b.String()
}
