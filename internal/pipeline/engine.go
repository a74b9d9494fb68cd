package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Answer records how the user responded to one prompt.
type Answer struct {
	Prompt   Prompt `json:"prompt"`
	Accepted bool   `json:"accepted"`
}

// Outcome is everything the engine decided for one move. The caller is
// responsible for persisting Deal, Invoices and Reminders and for
// publishing Events.
type Outcome struct {
	Deal           Deal       `json:"deal"`
	Milestone      Milestone  `json:"milestone"`
	Answers        []Answer   `json:"answers,omitempty"`
	Confirmed      bool       `json:"confirmed"`
	InvoicedBefore int64      `json:"invoiced_before"`
	InvoicedAfter  int64      `json:"invoiced_after"`
	Invoices       []Invoice  `json:"invoices,omitempty"`
	Reminders      []Reminder `json:"reminders,omitempty"`
	Events         []Event    `json:"events,omitempty"`
}

// Engine applies milestone rules to deals that have just been moved.
type Engine struct {
	// ReminderDelay is the delay for reminders scheduled by milestones.
	// Zero means DefaultReminderDelay.
	ReminderDelay time.Duration

	logger *slog.Logger
	newID  func() string
}

// NewEngine creates an engine. A nil logger uses slog.Default().
func NewEngine(reminderDelay time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		ReminderDelay: reminderDelay,
		logger:        logger,
		newID:         func() string { return uuid.New().String() },
	}
}

// Apply runs the milestone of the destination stage against deal. The deal
// has already been moved; nothing here can undo that. Declined prompts (or
// a Confirmer error, which counts as a decline) leave the payment status
// untouched.
func (e *Engine) Apply(ctx context.Context, deal Deal, dest Stage, c Confirmer) Outcome {
	out := Outcome{
		Deal:           deal,
		Milestone:      dest.Milestone,
		InvoicedBefore: deal.PaymentStatus.Invoiced,
		InvoicedAfter:  deal.PaymentStatus.Invoiced,
	}

	rule, ok := RuleFor(dest.Milestone)
	if !ok {
		return out
	}
	if c == nil {
		c = Always(false)
	}

	for _, p := range rule.Prompts {
		accepted, err := c.Confirm(ctx, &out.Deal, p)
		if err != nil {
			e.logger.Warn("confirmation failed, treating as declined",
				"deal_id", deal.ID, "prompt", p.Key, "error", err)
			accepted = false
		}
		out.Answers = append(out.Answers, Answer{Prompt: p, Accepted: accepted})
		if !accepted {
			e.logger.Info("milestone declined",
				"deal_id", deal.ID, "milestone", dest.Milestone, "prompt", p.Key)
			return out
		}
	}

	now := timeNow().UTC()
	newInvoiced, amount := rule.Apply(deal.Value, deal.PaymentStatus.Invoiced)
	if newInvoiced < deal.PaymentStatus.Invoiced {
		e.logger.Warn("milestone lowers invoiced amount",
			"deal_id", deal.ID, "milestone", dest.Milestone,
			"from", deal.PaymentStatus.Invoiced, "to", newInvoiced)
	}

	out.Confirmed = true
	out.Deal.PaymentStatus.Invoiced = newInvoiced
	out.Deal.UpdatedAt = now
	out.InvoicedAfter = newInvoiced

	out.Invoices = append(out.Invoices, Invoice{
		ID:        e.newID(),
		DealID:    deal.ID,
		Milestone: dest.Milestone,
		Percent:   rule.Percent,
		Amount:    amount,
		Kind:      rule.Kind,
		CreatedAt: now,
	})

	out.Events = append(out.Events, Event{
		Kind:      EventInvoiceIssued,
		DealID:    deal.ID,
		Milestone: dest.Milestone,
		Message:   fmt.Sprintf("%d%% Rechnung für %q erstellt", rule.Percent, deal.Name),
		Attributes: map[string]string{
			"percent":  fmt.Sprint(rule.Percent),
			"amount":   fmt.Sprint(amount),
			"invoiced": fmt.Sprint(newInvoiced),
			"kind":     string(rule.Kind),
		},
		At: now,
	})
	for _, kind := range rule.Events {
		out.Events = append(out.Events, Event{
			Kind:      kind,
			DealID:    deal.ID,
			Milestone: dest.Milestone,
			Message:   eventMessage(kind, deal),
			At:        now,
		})
	}

	if rule.Remind {
		delay := e.ReminderDelay
		if delay <= 0 {
			delay = DefaultReminderDelay
		}
		out.Reminders = append(out.Reminders, Reminder{
			ID:        e.newID(),
			DealID:    deal.ID,
			Milestone: dest.Milestone,
			Message:   fmt.Sprintf("Netzanfrage für %q nachfassen", deal.Name),
			DueAt:     now.Add(delay),
			Status:    ReminderPending,
			CreatedAt: now,
		})
	}

	e.logger.Info("milestone applied",
		"deal_id", deal.ID, "milestone", dest.Milestone,
		"invoiced_before", out.InvoicedBefore, "invoiced_after", out.InvoicedAfter)

	return out
}

func eventMessage(kind EventKind, d Deal) string {
	switch kind {
	case EventTechnicianHandoff:
		return fmt.Sprintf("Kundendaten für %q an Techniker gesendet", d.Name)
	case EventInvoiceEmail:
		return fmt.Sprintf("Rechnung für %q per E-Mail versendet", d.Name)
	case EventDocumentationEmail:
		return fmt.Sprintf("Abschlussdokumentation für %q versendet", d.Name)
	default:
		return string(kind)
	}
}
