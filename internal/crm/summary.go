package crm

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/HendryAvila/solarcrm/internal/pipeline"
)

// StageSummary is one column of the board with its totals.
type StageSummary struct {
	StageRef
	Deals    []pipeline.Deal `json:"deals"`
	Value    int64           `json:"value"`
	Invoiced int64           `json:"invoiced"`
	Paid     int64           `json:"paid"`
}

// PipelineSummary is a pipeline with its stages.
type PipelineSummary struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Category string         `json:"category"`
	Stages   []StageSummary `json:"stages"`
}

// Summary is a board snapshot with portfolio totals.
type Summary struct {
	Currency         string            `json:"currency"`
	Pipelines        []PipelineSummary `json:"pipelines"`
	Deals            int               `json:"deals"`
	Value            int64             `json:"value"`
	Invoiced         int64             `json:"invoiced"`
	Paid             int64             `json:"paid"`
	Outstanding      int64             `json:"outstanding"` // invoiced but not paid
	PendingReminders int               `json:"pending_reminders"`
}

// Summarize builds a Summary of the whole board.
func (s *Service) Summarize(ctx context.Context) (*Summary, error) {
	board, err := s.store.LoadBoard(ctx)
	if err != nil {
		return nil, fmt.Errorf("load board: %w", err)
	}
	pending, err := s.store.ListReminders(ctx, pipeline.ReminderPending, "")
	if err != nil {
		return nil, err
	}

	sum := &Summary{Currency: s.currency, PendingReminders: len(pending)}
	for _, cid := range board.CategoryIDs {
		cat := board.Categories[cid]
		for _, pid := range cat.PipelineIDs {
			stages, err := board.PipelineStages(pid)
			if err != nil {
				return nil, err
			}
			ps := PipelineSummary{ID: pid, Name: board.Pipelines[pid].Name, Category: cat.Name}
			for _, st := range stages {
				ss := StageSummary{StageRef: stageRef(st), Deals: []pipeline.Deal{}}
				for _, d := range board.StageDeals(st.ID) {
					ss.Deals = append(ss.Deals, *d)
					ss.Value += d.Value
					ss.Invoiced += d.PaymentStatus.Invoiced
					ss.Paid += d.PaymentStatus.Paid
				}
				sum.Deals += len(ss.Deals)
				sum.Value += ss.Value
				sum.Invoiced += ss.Invoiced
				sum.Paid += ss.Paid
				ps.Stages = append(ps.Stages, ss)
			}
			sum.Pipelines = append(sum.Pipelines, ps)
		}
	}
	if sum.Invoiced > sum.Paid {
		sum.Outstanding = sum.Invoiced - sum.Paid
	}
	return sum, nil
}

// ToCents converts a decimal amount such as 12.34 to minor units.
func ToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FormatMoney renders cents in German notation, e.g. "10.000,00 EUR".
func FormatMoney(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	whole := fmt.Sprint(cents / 100)
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	out := fmt.Sprintf("%s%s,%02d", sign, b.String(), cents%100)
	if currency != "" {
		out += " " + currency
	}
	return out
}
