package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-threads/config"
	"github.com/wippyai/wasm-threads/runtime"
)

const maxLogLines = 15

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#87CEEB"))

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	signalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type monitorModel struct {
	err      error
	rt       *runtime.Runtime
	module   *runtime.Module
	cfg      *config.Config
	last     map[int]runtime.ThreadSignal
	filename string
	log      []string
	closures []uint32
	input    textinput.Model
	threads  int
	total    int
	spawning bool
}

func newMonitorModel(filename string, cfg *config.Config, threads int, closures []uint32) *monitorModel {
	ti := textinput.New()
	ti.Placeholder = "0x0"
	ti.Prompt = "closure pointer: "
	ti.Width = 20

	return &monitorModel{
		cfg:      cfg,
		last:     make(map[int]runtime.ThreadSignal),
		filename: filename,
		closures: closures,
		input:    ti,
		threads:  threads,
	}
}

type loadedMsg struct {
	err error
	rt  *runtime.Runtime
	mod *runtime.Module
}

type signalMsg runtime.ThreadSignal

type signalsClosedMsg struct{}

type tickMsg time.Time

func (m *monitorModel) Init() tea.Cmd {
	return tea.Batch(m.load, tick())
}

func (m *monitorModel) load() tea.Msg {
	ctx := context.Background()

	data, err := os.ReadFile(m.filename)
	if err != nil {
		return loadedMsg{err: err}
	}

	rt, err := runtime.New(ctx, m.cfg)
	if err != nil {
		return loadedMsg{err: err}
	}

	mod, err := rt.Load(ctx, data)
	if err != nil {
		rt.Close(ctx)
		return loadedMsg{err: err}
	}

	for i := 0; i < m.threads; i++ {
		if _, err := mod.Spawn(ctx, closureFor(m.closures, i)); err != nil {
			rt.Close(ctx)
			return loadedMsg{err: err}
		}
	}
	return loadedMsg{rt: rt, mod: mod}
}

func waitForSignal(ch <-chan runtime.ThreadSignal) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return signalsClosedMsg{}
		}
		return signalMsg(s)
	}
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.spawning {
			return m.updateSpawn(msg)
		}
		switch msg.String() {
		case "ctrl+c", "q":
			if m.rt != nil {
				m.rt.Close(context.Background())
			}
			return m, tea.Quit
		case "s":
			if m.module != nil {
				m.spawning = true
				m.input.SetValue("")
				m.input.Focus()
				return m, textinput.Blink
			}
		case "c":
			m.log = nil
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.rt = msg.rt
		m.module = msg.mod
		return m, waitForSignal(m.module.Signals())

	case signalMsg:
		s := runtime.ThreadSignal(msg)
		m.total++
		m.last[s.Thread] = s
		m.log = append(m.log, fmt.Sprintf("thread %d  hi=%#08x lo=%#08x  %d", s.Thread, s.Hi, s.Lo, s.Value()))
		if len(m.log) > maxLogLines {
			m.log = m.log[len(m.log)-maxLogLines:]
		}
		return m, waitForSignal(m.module.Signals())

	case signalsClosedMsg:
		return m, nil

	case tickMsg:
		return m, tick()
	}

	return m, nil
}

func (m *monitorModel) updateSpawn(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.spawning = false
		m.input.Blur()
		return m, nil
	case "enter":
		m.spawning = false
		m.input.Blur()
		ptr, err := strconv.ParseUint(strings.TrimSpace(m.input.Value()), 0, 32)
		if err != nil {
			m.err = fmt.Errorf("invalid closure pointer: %w", err)
			return m, nil
		}
		m.err = nil
		if _, err := m.module.Spawn(context.Background(), uint32(ptr)); err != nil {
			m.err = err
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *monitorModel) View() string {
	if m.module == nil {
		if m.err != nil {
			return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
		}
		return "Loading module..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Thread Monitor"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString(fmt.Sprintf("  %d signal(s)\n\n", m.total))

	b.WriteString(headerStyle.Render(fmt.Sprintf("%-6s %-16s %-9s %-22s %s", "id", "state", "signals", "region", "last")))
	b.WriteString("\n")
	for _, th := range m.module.Threads() {
		r := th.Region()
		state := th.State().String()
		switch {
		case th.Failed():
			state = errorStyle.Render(fmt.Sprintf("%-16s", state+" !"))
		default:
			state = runningStyle.Render(fmt.Sprintf("%-16s", state))
		}
		last := "-"
		if s, ok := m.last[th.ID()]; ok {
			last = fmt.Sprintf("(%d, %d)", s.Hi, s.Lo)
		}
		b.WriteString(fmt.Sprintf("%-6d %s %-9d %#08x-%#08x  %s\n", th.ID(), state, th.Signals(), r.Base, r.End, last))
		if th.Failed() {
			if err := th.Err(); err != nil {
				b.WriteString(errorStyle.Render("       " + err.Error()))
				b.WriteString("\n")
			}
		}
	}

	b.WriteString("\n")
	b.WriteString(headerStyle.Render("signals"))
	b.WriteString("\n")
	for _, line := range m.log {
		b.WriteString(signalStyle.Render(line))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	}
	if m.spawning {
		b.WriteString(m.input.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter spawn • esc cancel"))
	} else {
		b.WriteString(helpStyle.Render("s spawn thread • c clear log • q quit"))
	}

	return b.String()
}

func runInteractive(filename string, cfg *config.Config, threads int, closures []uint32) error {
	p := tea.NewProgram(newMonitorModel(filename, cfg, threads, closures), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
