package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/HendryAvila/solarcrm/internal/crm"
	"github.com/HendryAvila/solarcrm/internal/pipeline"
)

const columnWidth = 28

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	stageStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#CCCCCC"))
	// stages that trigger invoicing
	milestoneStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F7B801"))
	amountStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	paidStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	openStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	columnStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Width(columnWidth).
			Padding(0, 1)
)

// RenderBoard draws every pipeline of sum as a row of stage columns.
func RenderBoard(sum *crm.Summary) string {
	if sum == nil || len(sum.Pipelines) == 0 {
		return hintStyle.Render("The board is empty. Run `solarcrm seed` to create the default pipelines.") + "\n"
	}

	var sections []string
	for _, p := range sum.Pipelines {
		cols := make([]string, 0, len(p.Stages))
		for _, st := range p.Stages {
			cols = append(cols, renderStage(st, sum.Currency))
		}
		sections = append(sections,
			titleStyle.Render(fmt.Sprintf("%s / %s", p.Category, p.Name)),
			lipgloss.JoinHorizontal(lipgloss.Top, cols...),
			"",
		)
	}
	sections = append(sections, renderTotals(sum))
	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func renderStage(st crm.StageSummary, currency string) string {
	head := stageStyle.Render(st.Name)
	if st.Milestone != "" && st.Milestone != pipeline.MilestoneNone {
		head = milestoneStyle.Render("◆ " + st.Name)
	}
	lines := []string{
		head,
		amountStyle.Render(fmt.Sprintf("%d · %s", len(st.Deals), crm.FormatMoney(st.Value, currency))),
		"",
	}
	for _, d := range st.Deals {
		lines = append(lines, truncate(d.Name, columnWidth-2))
		lines = append(lines, renderPayment(d, currency))
	}
	return columnStyle.Render(strings.Join(lines, "\n"))
}

func renderPayment(d pipeline.Deal, currency string) string {
	ps := d.PaymentStatus
	style := paidStyle
	if ps.Invoiced > ps.Paid {
		style = openStyle
	}
	return style.Render(fmt.Sprintf("  %s / %s",
		crm.FormatMoney(ps.Paid, ""), crm.FormatMoney(ps.Invoiced, currency)))
}

func renderTotals(sum *crm.Summary) string {
	return amountStyle.Render(fmt.Sprintf(
		"%d deals · value %s · invoiced %s · paid %s · outstanding %s · %d reminders pending",
		sum.Deals,
		crm.FormatMoney(sum.Value, sum.Currency),
		crm.FormatMoney(sum.Invoiced, sum.Currency),
		crm.FormatMoney(sum.Paid, sum.Currency),
		crm.FormatMoney(sum.Outstanding, sum.Currency),
		sum.PendingReminders,
	))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
