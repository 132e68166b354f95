// Package tui provides a terminal monitor for the CV outputs
package tui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/james-see/midicv/pkg/cv"
	"github.com/james-see/midicv/pkg/midiin"
	"github.com/james-see/midicv/pkg/notestack"
	"github.com/james-see/midicv/pkg/patch"
)

// Eurorack panel colours
var (
	cvOrange   = lipgloss.Color("#FF8C1A")
	cvAmber    = lipgloss.Color("#FFC857")
	silverGray = lipgloss.Color("#C0C0C0")
	darkGray   = lipgloss.Color("#333333")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(cvOrange).
			Background(darkGray).
			Padding(0, 2).
			MarginBottom(1)

	rowStyle = lipgloss.NewStyle().
			Foreground(silverGray).
			PaddingLeft(2)

	selectedStyle = lipgloss.NewStyle().
			Foreground(cvOrange).
			Bold(true).
			PaddingLeft(2)

	statusStyle = lipgloss.NewStyle().
			Foreground(cvAmber).
			PaddingTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(cvOrange).
			Padding(1, 2)
)

// State represents the current TUI state
type State int

const (
	StateMonitor State = iota
	StateFilePicker
	StateLoading
)

// RefreshRate of the output display
const RefreshRate = 50 * time.Millisecond

const barWidth = 24

// sourceCycle is the order the source key steps through, as NRPN source
// selections. Note outputs keep their slot.
var sourceCycle = []cv.Mode{
	cv.ModeNote,
	cv.ModeVelocity,
	cv.ModePitchBend,
	cv.ModeAftertouch,
	cv.ModeController,
	cv.ModeTempo,
	cv.ModeTestVoltage,
	cv.ModeDisabled,
}

// Model represents the TUI model
type Model struct {
	engine    *cv.Engine
	stacks    *notestack.Bank
	router    *midiin.Router
	patchPath string

	state      State
	selected   int
	filePicker filepicker.Model
	spinner    spinner.Model
	loading    string
	status     string
	err        error
	width      int
	height     int
}

type tickMsg time.Time

// patchLoadedMsg signals that a patch file was loaded
type patchLoadedMsg struct {
	path string
	err  error
}

// New creates a monitor for engine. patchPath is where the save key writes.
func New(engine *cv.Engine, stacks *notestack.Bank, router *midiin.Router, patchPath string) Model {
	fp := filepicker.New()
	fp.AllowedTypes = []string{".syx"}
	fp.CurrentDirectory, _ = os.Getwd()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(cvOrange)

	return Model{
		engine:     engine,
		stacks:     stacks,
		router:     router,
		patchPath:  patchPath,
		state:      StateMonitor,
		filePicker: fp,
		spinner:    s,
	}
}

// Init initializes the TUI model
func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(RefreshRate, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles TUI updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// the file picker needs to receive all messages
	if m.state == StateFilePicker {
		if keyMsg, ok := msg.(tea.KeyMsg); ok {
			switch keyMsg.String() {
			case "esc":
				m.state = StateMonitor
				return m, nil
			case "ctrl+c":
				return m, tea.Quit
			}
		}
		if _, ok := msg.(tickMsg); ok {
			return m, tick()
		}

		var cmd tea.Cmd
		m.filePicker, cmd = m.filePicker.Update(msg)

		if didSelect, path := m.filePicker.DidSelectFile(msg); didSelect {
			m.loading = path
			m.state = StateLoading
			return m, tea.Batch(m.spinner.Tick, m.loadPatch(path))
		}
		return m, cmd
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.filePicker.Height = msg.Height - 10
		return m, nil

	case tickMsg:
		return m, tick()

	case spinner.TickMsg:
		if m.state != StateLoading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case patchLoadedMsg:
		m.state = StateMonitor
		m.err = msg.err
		if msg.err == nil {
			m.status = fmt.Sprintf("loaded %s", filepath.Base(msg.path))
		}
		return m, nil

	case tea.KeyMsg:
		if m.state == StateMonitor {
			return m.updateMonitor(msg)
		}
	}
	return m, nil
}

func (m Model) updateMonitor(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.err = nil
	switch msg.String() {
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < cv.NumOutputs-1 {
			m.selected++
		}
	case "s", "tab":
		m.cycleSource(1)
	case "S", "shift+tab":
		m.cycleSource(-1)
	case "+", "=":
		m.transpose(1)
	case "-":
		m.transpose(-1)
	case "]":
		m.volts(1)
	case "[":
		m.volts(-1)
	case "t":
		m.apply(cv.ParamSource, cv.SrcTestVoltage, 0, "test voltage")
	case "r":
		m.stacks.Reset()
		m.engine.ResetToSafeState()
		m.status = "reset to safe state"
	case "w":
		if m.patchPath == "" {
			m.status = "no patch path configured"
			break
		}
		if err := patch.Save(m.engine, m.patchPath); err != nil {
			m.err = err
			break
		}
		m.status = fmt.Sprintf("saved %s", m.patchPath)
	case "o":
		m.state = StateFilePicker
		return m, m.filePicker.Init()
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

// apply sends a reconfiguration request for the selected output through the
// router, as if it had arrived over NRPN.
func (m *Model) apply(param cv.Param, hi, lo uint8, what string) {
	req := midiin.Request{Output: m.selected, Param: param, Hi: hi, Lo: lo}
	if m.router.Apply(req) {
		m.status = fmt.Sprintf("output %d: %s", m.selected+1, what)
	} else {
		m.status = fmt.Sprintf("output %d: %s rejected", m.selected+1, what)
	}
}

// selection returns the NRPN source selection for a mode on output out.
func selection(mode cv.Mode, out int) (hi, lo uint8) {
	switch mode {
	case cv.ModeNote:
		return cv.SrcStack1, cv.SrcNote1 + uint8(out%cv.NumSlots)
	case cv.ModeVelocity:
		return cv.SrcStack1, cv.SrcVelocity
	case cv.ModePitchBend:
		return cv.SrcPitchBend, 0
	case cv.ModeAftertouch:
		return cv.SrcAftertouch, 0
	case cv.ModeController:
		return cv.SrcController, 1 // mod wheel
	case cv.ModeTempo:
		return cv.SrcTempo, 0
	case cv.ModeTestVoltage:
		return cv.SrcTestVoltage, 0
	}
	return cv.SrcDisable, 0
}

func (m *Model) cycleSource(step int) {
	current := m.engine.Source(m.selected).Mode()
	idx := 0
	for i, mode := range sourceCycle {
		if mode == current {
			idx = i
		}
	}
	idx = (idx + step + len(sourceCycle)) % len(sourceCycle)
	next := sourceCycle[idx]
	hi, lo := selection(next, m.selected)
	m.apply(cv.ParamSource, hi, lo, next.String())
}

func (m *Model) transpose(step int) {
	src, ok := m.engine.Source(m.selected).(cv.NoteSource)
	if !ok {
		m.status = "transpose applies to note outputs"
		return
	}
	lo := int(src.Transpose) + cv.TransposeCenter + step
	if lo < 0 || lo > 127 {
		return
	}
	m.apply(cv.ParamTranspose, 0, uint8(lo), fmt.Sprintf("transpose %+d", lo-cv.TransposeCenter))
}

func (m *Model) volts(step int) {
	v, ok := cv.FullScale(m.engine.Source(m.selected))
	if !ok {
		m.status = "output has no voltage range"
		return
	}
	next := int(v) + step
	if next < 0 || next > cv.MaxVolts {
		return
	}
	m.apply(cv.ParamVolts, 0, uint8(next), fmt.Sprintf("%dV", next))
}

func (m Model) loadPatch(path string) tea.Cmd {
	return func() tea.Msg {
		err := patch.Load(m.engine, path)
		if err == nil {
			m.engine.ResetToSafeState()
		}
		return patchLoadedMsg{path: path, err: err}
	}
}

// View renders the TUI
func (m Model) View() string {
	var s strings.Builder

	s.WriteString(asciiLogo())
	s.WriteString("\n")

	switch m.state {
	case StateMonitor:
		s.WriteString(m.viewMonitor())
		s.WriteString("\n")
		s.WriteString(helpStyle.Render("↑/↓: output • s/S: source • +/-: transpose • [/]: volts • t: test • r: reset • o: open • w: save • q: quit"))
	case StateFilePicker:
		s.WriteString(m.viewFilePicker())
	case StateLoading:
		s.WriteString(boxStyle.Render(fmt.Sprintf("%s Loading %s...", m.spinner.View(), filepath.Base(m.loading))))
	}
	return s.String()
}

func (m Model) viewMonitor() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" CV OUTPUTS "))
	s.WriteString("\n\n")

	codes := m.engine.Codes()
	for out := 0; out < cv.NumOutputs; out++ {
		src := m.engine.Source(out)
		pending := " "
		if m.engine.Dirty(out) {
			pending = "*"
		}
		mv := cv.Millivolts(codes[out])
		line := fmt.Sprintf("%d %-32s %4d %d.%03dV %s %s",
			out+1, cv.Describe(src), codes[out], mv/1000, mv%1000, bar(codes[out]), pending)
		if out == m.selected {
			s.WriteString(selectedStyle.Render("▸ " + line))
		} else {
			s.WriteString(rowStyle.Render("  " + line))
		}
		s.WriteString("\n")
	}

	held := make([]string, 0, cv.NumStacks)
	for id := 0; id < cv.NumStacks; id++ {
		held = append(held, fmt.Sprintf("%d:%d", id+1, m.stacks.Held(id)))
	}
	s.WriteString(statusStyle.Render("held " + strings.Join(held, " ")))

	if m.err != nil {
		s.WriteString("\n")
		s.WriteString(errorStyle.Render(fmt.Sprintf("✗ %s", m.err.Error())))
	} else if m.status != "" {
		s.WriteString("\n")
		s.WriteString(statusStyle.Render(m.status))
	}
	return boxStyle.Render(s.String())
}

func bar(code uint16) string {
	n := int(code) * barWidth / cv.MaxCode
	return strings.Repeat("█", n) + strings.Repeat("·", barWidth-n)
}

func (m Model) viewFilePicker() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" LOAD PATCH "))
	s.WriteString("\n\n")
	s.WriteString(m.filePicker.View())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("esc: back to monitor"))

	return s.String()
}

func asciiLogo() string {
	logo := `
  __  __ ___ ____ ___ ______     __
 |  \/  |_ _|  _ \_ _/ ___\ \   / /
 | |\/| || || | | | | |    \ \ / /
 | |  | || || |_| | | |___  \ V /
 |_|  |_|___|____/___\____|  \_/
`
	return lipgloss.NewStyle().Foreground(cvOrange).Render(logo)
}

// Run starts the TUI application
func Run(m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
