package tui

import (
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/james-see/midicv/pkg/cv"
	"github.com/james-see/midicv/pkg/midiin"
	"github.com/james-see/midicv/pkg/notestack"
)

func newTestModel(patchPath string) (Model, *cv.Engine) {
	stacks := notestack.NewBank()
	engine := cv.New(stacks)
	router := midiin.NewRouter(engine, stacks, cv.AnyChannel)
	return New(engine, stacks, router, patchPath), engine
}

func press(t *testing.T, m Model, keys ...tea.KeyMsg) Model {
	t.Helper()
	for _, k := range keys {
		next, _ := m.Update(k)
		m = next.(Model)
	}
	return m
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestCycleSource(t *testing.T) {
	m, e := newTestModel("")
	down := tea.KeyMsg{Type: tea.KeyDown}

	m = press(t, m, down, key("s"))
	want := cv.VelocitySource{Stack: 0, Volts: cv.DefaultVelocityVolts}
	if got := e.Source(1); got != want {
		t.Errorf("Source(1) = %#v, want %#v", got, want)
	}

	// backwards from note wraps to disabled
	m = press(t, m, down, key("S"))
	if got := e.Source(2); got != (cv.Disabled{}) {
		t.Errorf("Source(2) = %#v, want disabled", got)
	}

	// a full cycle returns to the same slot
	for range sourceCycle {
		m = press(t, m, key("s"))
	}
	if got := e.Source(2); got != (cv.Disabled{}) {
		t.Errorf("Source(2) after full cycle = %#v, want disabled", got)
	}
	m = press(t, m, key("s"))
	if got := e.Source(2); got != (cv.NoteSource{Stack: 0, Slot: 2}) {
		t.Errorf("Source(2) = %#v, want note slot 3", got)
	}
}

func TestTransposeAndVolts(t *testing.T) {
	m, e := newTestModel("")

	m = press(t, m, key("+"), key("+"), key("-"), key("+"))
	if src := e.Source(0).(cv.NoteSource); src.Transpose != 2 {
		t.Errorf("Transpose = %d, want 2", src.Transpose)
	}

	m = press(t, m, key("]"))
	if !strings.Contains(m.status, "no voltage range") {
		t.Errorf("status = %q, want a volts rejection", m.status)
	}

	m = press(t, m, key("t"), key("]"), key("]"))
	if got := e.Source(0); got != (cv.TestVoltage{Volts: 3}) {
		t.Errorf("Source(0) = %#v, want test 3V", got)
	}
	if got := e.Codes()[0]; got != 1500 {
		t.Errorf("code = %d, want 1500", got)
	}
	for i := 0; i < 10; i++ {
		m = press(t, m, key("]"))
	}
	if v, _ := cv.FullScale(e.Source(0)); v != cv.MaxVolts {
		t.Errorf("volts = %d, want capped at %d", v, cv.MaxVolts)
	}
}

func TestResetAndView(t *testing.T) {
	m, e := newTestModel("")
	m = press(t, m, key("t"), key("r"))

	if got := e.Codes()[0]; got != 500 {
		t.Errorf("code after reset = %d, want 500", got)
	}
	view := m.View()
	for _, s := range []string{"CV OUTPUTS", "test 1V", "1.000V"} {
		if !strings.Contains(view, s) {
			t.Errorf("View() missing %q", s)
		}
	}
}

func TestSavePatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.syx")
	m, _ := newTestModel(path)
	m = press(t, m, key("w"))
	if m.err != nil {
		t.Fatalf("save error = %v", m.err)
	}

	loaded, _ := newTestModel("")
	msg := loaded.loadPatch(path)()
	if res := msg.(patchLoadedMsg); res.err != nil {
		t.Errorf("loading saved patch: %v", res.err)
	}
}

func TestQuit(t *testing.T) {
	m, _ := newTestModel("")
	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}
