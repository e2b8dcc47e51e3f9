// Command detentctl shows and adjusts a detent knob from the terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/w1xm/detent_knob/client"
	"github.com/w1xm/detent_knob/detent"
)

var addr = flag.String("addr", "ws://localhost:8765/ws", "detent daemon websocket URL")

// presets are selected with the number keys.
var presets = []int{4, 8, 16, 32}

var (
	markStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	helpStyle  = lipgloss.NewStyle().Faint(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type conn interface {
	GetState() error
	SetDetents(n int) error
	SetPos(p int) error
	Next() (detent.Snapshot, error)
}

type stateMsg detent.Snapshot

type errMsg struct{ err error }

type model struct {
	c       conn
	detents int
	pos     int
	known   bool
	err     error
}

func newModel(c conn) model {
	return model{c: c}
}

// remap converts between the daemon's position and the displayed one,
// which counts the other way around the ring.
func remap(pos, detents int) int {
	if detents < 1 {
		return 0
	}
	return (detents - pos%detents) % detents
}

func (m model) wait() tea.Msg {
	s, err := m.c.Next()
	if err != nil {
		return errMsg{err}
	}
	return stateMsg(s)
}

func (m model) send(f func() error) tea.Cmd {
	return func() tea.Msg {
		if err := f(); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.send(m.c.GetState), m.wait)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateMsg:
		if msg.Detents != nil {
			m.detents = *msg.Detents
			m.known = true
		}
		m.pos = msg.Pos
		return m, m.wait
	case errMsg:
		m.err = msg.err
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "left", "h":
			return m, m.step(-1)
		case "right", "l":
			return m, m.step(1)
		case "1", "2", "3", "4":
			n := presets[msg.String()[0]-'1']
			return m, m.send(func() error { return m.c.SetDetents(n) })
		}
	}
	return m, nil
}

// step moves the displayed position by delta detents.
func (m model) step(delta int) tea.Cmd {
	if !m.known {
		return nil
	}
	shown := (remap(m.pos, m.detents) + delta + m.detents) % m.detents
	p := remap(shown, m.detents)
	return m.send(func() error { return m.c.SetPos(p) })
}

func (m model) ring() string {
	var b strings.Builder
	shown := remap(m.pos, m.detents)
	for i := 0; i < m.detents; i++ {
		if i == shown {
			b.WriteString(markStyle.Render("●"))
		} else {
			b.WriteString("○")
		}
	}
	return b.String()
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString("Detent knob\n\n")
	if m.known {
		b.WriteString(m.ring())
		b.WriteString(fmt.Sprintf("\n\nposition %d of %d\n", remap(m.pos, m.detents), m.detents))
	} else {
		b.WriteString("waiting for state...\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render(m.err.Error()) + "\n")
	}
	b.WriteString(helpStyle.Render("\n←/→ move  1-4 detents 4/8/16/32  q quit"))
	return b.String()
}

func main() {
	flag.Parse()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	c, err := client.Dial(ctx, *addr)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer c.Close()

	final, err := tea.NewProgram(newModel(c)).Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
	if m, ok := final.(model); ok && m.err != nil {
		fmt.Fprintln(os.Stderr, m.err)
		os.Exit(1)
	}
}
