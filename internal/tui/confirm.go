// Package tui holds the terminal UI pieces of the CLI: an interactive
// yes/no confirmer for milestone prompts and a board renderer.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/HendryAvila/solarcrm/internal/pipeline"
)

// ErrCancelled is returned when the user aborts a prompt with esc or ctrl+c.
var ErrCancelled = errors.New("prompt cancelled")

var (
	questionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F7B801"))
	dealStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	choiceStyle   = lipgloss.NewStyle().Padding(0, 2).Foreground(lipgloss.Color("#CCCCCC"))
	selectedStyle = choiceStyle.Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#5B8DEF"))
	hintStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	boxStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

type confirmModel struct {
	deal     string
	question string

	yes       bool // highlighted choice
	answer    bool
	done      bool
	cancelled bool
}

func newConfirmModel(deal, question string) confirmModel {
	return confirmModel{deal: deal, question: question, yes: true}
}

func (m confirmModel) Init() tea.Cmd { return nil }

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "y", "j":
		m.answer, m.done = true, true
		return m, tea.Quit
	case "n":
		m.answer, m.done = false, true
		return m, tea.Quit
	case "left", "right", "h", "l", "tab", "shift+tab":
		m.yes = !m.yes
	case "enter":
		m.answer, m.done = m.yes, true
		return m, tea.Quit
	case "esc", "ctrl+c", "q":
		m.cancelled = true
		return m, tea.Quit
	}
	return m, nil
}

func (m confirmModel) View() string {
	if m.done || m.cancelled {
		return ""
	}
	yes, no := choiceStyle.Render("Ja"), choiceStyle.Render("Nein")
	if m.yes {
		yes = selectedStyle.Render("Ja")
	} else {
		no = selectedStyle.Render("Nein")
	}
	body := lipgloss.JoinVertical(lipgloss.Left,
		dealStyle.Render(m.deal),
		questionStyle.Render(m.question),
		"",
		lipgloss.JoinHorizontal(lipgloss.Top, yes, " ", no),
	)
	return lipgloss.JoinVertical(lipgloss.Left,
		boxStyle.Render(body),
		hintStyle.Render("y/n to answer, ←/→ and enter to choose, esc to cancel"),
	) + "\n"
}

// Confirmer asks milestone prompts interactively in the terminal.
type Confirmer struct {
	In  io.Reader
	Out io.Writer
}

// NewConfirmer returns a Confirmer reading in and drawing on out. Nil
// arguments fall back to stdin and stderr; stdout may carry other output.
func NewConfirmer(in io.Reader, out io.Writer) *Confirmer {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stderr
	}
	return &Confirmer{In: in, Out: out}
}

// Confirm shows p and waits for an answer. Cancelling returns ErrCancelled,
// which the milestone engine treats as a decline.
func (c *Confirmer) Confirm(ctx context.Context, deal *pipeline.Deal, p pipeline.Prompt) (bool, error) {
	name := ""
	if deal != nil {
		name = deal.Name
	}
	prog := tea.NewProgram(newConfirmModel(name, p.Question),
		tea.WithInput(c.In),
		tea.WithOutput(c.Out),
		tea.WithContext(ctx),
	)
	final, err := prog.Run()
	if err != nil {
		return false, fmt.Errorf("prompt %q: %w", p.Key, err)
	}
	m, ok := final.(confirmModel)
	if !ok {
		return false, fmt.Errorf("prompt %q: unexpected model %T", p.Key, final)
	}
	if m.cancelled {
		return false, ErrCancelled
	}
	return m.answer, nil
}
