package pipeline

import (
	"fmt"
	"time"
)

// DefaultReminderDelay is how long after a grid request the follow-up
// reminder becomes due.
const DefaultReminderDelay = 5 * 24 * time.Hour

// Rule describes what confirming a milestone does to a deal.
type Rule struct {
	// Prompts are asked in order. Each must be accepted for the next one to
	// be asked; the invoice is issued only when all are accepted.
	Prompts []Prompt

	// Percent of the deal value that is invoiced.
	Percent int

	// Kind is increment (add Percent of value) or set (invoiced = Percent of value).
	Kind InvoiceKind

	// Events are emitted after confirmation, in addition to invoice.issued.
	Events []EventKind

	// Remind schedules a follow-up reminder after the configured delay.
	Remind bool
}

// MilestoneRegistry defines the invoicing rule for every milestone.
// MilestoneNone has no entry: moving into such a stage has no side effect.
var MilestoneRegistry = map[Milestone]Rule{
	MilestoneGridRequest: {
		Prompts: []Prompt{{
			Key:      "handoff",
			Question: "Kundendaten an den Techniker senden und 10% Rechnung stellen?",
		}},
		Percent: 10,
		Kind:    InvoiceIncrement,
		Events:  []EventKind{EventTechnicianHandoff},
		Remind:  true,
	},
	MilestoneGridApproval: {
		Prompts: []Prompt{
			{
				Key:      "approved",
				Question: "Wurde die Netzanfrage bestätigt?",
			},
			{
				Key:      "invoice",
				Question: "50% Rechnung stellen und per E-Mail versenden?",
			},
		},
		Percent: 50,
		Kind:    InvoiceIncrement,
		Events:  []EventKind{EventInvoiceEmail},
	},
	MilestoneShipment: {
		Prompts: []Prompt{{
			Key:      "invoice",
			Question: "Rechnungsstand auf 90% erhöhen?",
		}},
		Percent: 90,
		Kind:    InvoiceSet,
	},
	MilestoneInstallationComplete: {
		Prompts: []Prompt{{
			Key:      "documentation",
			Question: "Abschlussdokumentation senden und 100% Rechnung stellen?",
		}},
		Percent: 100,
		Kind:    InvoiceSet,
		Events:  []EventKind{EventDocumentationEmail},
	},
}

// RuleFor returns the rule for a milestone and whether one exists.
func RuleFor(m Milestone) (Rule, bool) {
	r, ok := MilestoneRegistry[m]
	return r, ok
}

// Apply returns the new invoiced amount and the invoice amount recorded in
// the ledger for a deal of the given value.
func (r Rule) Apply(value, invoiced int64) (newInvoiced, amount int64) {
	amount = Percent(value, r.Percent)
	switch r.Kind {
	case InvoiceSet:
		return amount, amount
	default:
		return invoiced + amount, amount
	}
}

// Describe returns a one-line summary used in tool responses.
func (r Rule) Describe() string {
	if r.Kind == InvoiceSet {
		return fmt.Sprintf("invoiced set to %d%% of value", r.Percent)
	}
	return fmt.Sprintf("invoiced increased by %d%% of value", r.Percent)
}
