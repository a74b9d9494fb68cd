package tui

import (
	"bytes"
	"os"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/HendryAvila/solarcrm/internal/crm"
	"github.com/HendryAvila/solarcrm/internal/pipeline"
)

func press(t *testing.T, m confirmModel, keys ...tea.KeyMsg) (confirmModel, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(k)
		m = next.(confirmModel)
	}
	return m, cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestConfirmModel_Keys(t *testing.T) {
	tests := []struct {
		name      string
		keys      []tea.KeyMsg
		answer    bool
		cancelled bool
	}{
		{"y accepts", []tea.KeyMsg{runes("y")}, true, false},
		{"j accepts", []tea.KeyMsg{runes("j")}, true, false},
		{"n declines", []tea.KeyMsg{runes("n")}, false, false},
		{"enter takes default yes", []tea.KeyMsg{{Type: tea.KeyEnter}}, true, false},
		{"toggle then enter", []tea.KeyMsg{{Type: tea.KeyRight}, {Type: tea.KeyEnter}}, false, false},
		{"esc cancels", []tea.KeyMsg{{Type: tea.KeyEsc}}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, cmd := press(t, newConfirmModel("Dach", "Rechnung stellen?"), tt.keys...)
			if cmd == nil {
				t.Fatal("expected quit command")
			}
			if m.answer != tt.answer || m.cancelled != tt.cancelled {
				t.Errorf("answer=%v cancelled=%v, want %v %v", m.answer, m.cancelled, tt.answer, tt.cancelled)
			}
		})
	}
}

func TestConfirmModel_ViewShowsQuestion(t *testing.T) {
	m := newConfirmModel("Dach Müller", "Wurde die Netzanfrage bestätigt?")
	view := m.View()
	for _, want := range []string{"Dach Müller", "Wurde die Netzanfrage bestätigt?", "Ja", "Nein"} {
		if !strings.Contains(view, want) {
			t.Errorf("view should contain %q", want)
		}
	}

	m, _ = press(t, m, runes("y"))
	if m.View() != "" {
		t.Error("view should be cleared once answered")
	}
}

func TestNewConfirmer(t *testing.T) {
	c := NewConfirmer(nil, nil)
	if c.In != os.Stdin || c.Out != os.Stderr {
		t.Errorf("defaults = %v, %v; want stdin, stderr", c.In, c.Out)
	}

	in := strings.NewReader("y")
	var out bytes.Buffer
	c = NewConfirmer(in, &out)
	if c.In != in || c.Out != &out {
		t.Error("explicit reader and writer not kept")
	}
}

func TestRenderBoard(t *testing.T) {
	sum := &crm.Summary{
		Currency: "EUR",
		Pipelines: []crm.PipelineSummary{{
			Name:     "PV-Anlagen",
			Category: "Photovoltaik",
			Stages: []crm.StageSummary{
				{StageRef: crm.StageRef{Name: "Lead", Milestone: pipeline.MilestoneNone}, Deals: []pipeline.Deal{}},
				{
					StageRef: crm.StageRef{Name: "Netzanfrage", Milestone: pipeline.MilestoneGridRequest},
					Deals: []pipeline.Deal{{
						Name: "Dach Müller", Value: 1000000,
						PaymentStatus: pipeline.PaymentStatus{Invoiced: 100000},
					}},
					Value:    1000000,
					Invoiced: 100000,
				},
			},
		}},
		Deals: 1, Value: 1000000, Invoiced: 100000, Outstanding: 100000,
	}

	out := RenderBoard(sum)
	for _, want := range []string{"Photovoltaik / PV-Anlagen", "Lead", "Netzanfrage", "Dach Müller", "10.000,00 EUR", "1.000,00 EUR", "1 deals"} {
		if !strings.Contains(out, want) {
			t.Errorf("board should contain %q:\n%s", want, out)
		}
	}
}

func TestRenderBoard_Empty(t *testing.T) {
	if out := RenderBoard(&crm.Summary{}); !strings.Contains(out, "solarcrm seed") {
		t.Errorf("empty board should suggest seeding, got %q", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("Müller", 10); got != "Müller" {
		t.Errorf("got %q", got)
	}
	if got := truncate("Photovoltaikanlage", 6); got != "Photo…" {
		t.Errorf("got %q", got)
	}
}
