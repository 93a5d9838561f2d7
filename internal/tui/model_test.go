package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/satindergrewal/beatgrid/internal/library"
	"github.com/satindergrewal/beatgrid/internal/world"
)

type stubController struct {
	tempo float64
}

func (s *stubController) RegisterSong(string, float64, float64) (int, error) { return 0, nil }
func (s *stubController) InsertClip(int, float64, float64, float64, float64, float64, uint64, int) bool {
	return true
}
func (s *stubController) EraseRange(int, float64, float64) bool { return true }
func (s *stubController) TogglePlayhead(int) bool               { return true }
func (s *stubController) ToggleTrack(int) bool                  { return false }
func (s *stubController) JumpPlayhead(int, float64) bool        { return true }
func (s *stubController) SetTempo(bpm float64)                  { s.tempo = bpm }
func (s *stubController) Songs() []library.Song                 { return nil }
func (s *stubController) Status() world.Status {
	return world.Status{
		BPM:       s.tempo,
		Playheads: []world.PlayheadStatus{{Index: 0, Active: true, Tracks: []world.PairStatus{{Clip: 1, Song: 0}}}},
		Tracks:    []bool{true},
	}
}

func typeLine(m Model, line string) Model {
	for _, r := range line {
		var msg tea.KeyMsg
		if r == ' ' {
			msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
		} else {
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
		}
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model)
}

func TestSubmitRunsCommand(t *testing.T) {
	ctrl := &stubController{tempo: 120}
	m := typeLine(NewModel(ctrl), "b 90")
	if ctrl.tempo != 90 {
		t.Errorf("tempo = %v, want 90", ctrl.tempo)
	}
	if m.Input != "" {
		t.Errorf("Input = %q, want empty after enter", m.Input)
	}
	last := m.History[len(m.History)-1]
	if last != "tempo 90 bpm" {
		t.Errorf("last history line = %q, want tempo 90 bpm", last)
	}
	if m.Status.BPM != 90 {
		t.Errorf("Status.BPM = %v, want 90", m.Status.BPM)
	}
}

func TestSubmitShowsErrors(t *testing.T) {
	m := typeLine(NewModel(&stubController{}), "zz")
	last := m.History[len(m.History)-1]
	if !strings.HasPrefix(last, "error: ") {
		t.Errorf("last history line = %q, want an error", last)
	}
}

func TestBackspaceAndQuit(t *testing.T) {
	m := NewModel(&stubController{})
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("ab")})
	next, _ = next.Update(tea.KeyMsg{Type: tea.KeyBackspace})
	if got := next.(Model).Input; got != "a" {
		t.Errorf("Input = %q, want a", got)
	}

	m = typeLine(NewModel(&stubController{}), "q")
	if !m.Quit {
		t.Error("q did not quit")
	}
}

func TestViewShowsGrid(t *testing.T) {
	m := NewModel(&stubController{tempo: 128})
	v := m.View()
	for _, want := range []string{"beatgrid", "128.00 bpm", "playhead 0", "track 0", "c1 s0"} {
		if !strings.Contains(v, want) {
			t.Errorf("View missing %q", want)
		}
	}
}
