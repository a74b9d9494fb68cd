// Package pipeline models the deal board of the CRM and the stage-transition
// engine that raises invoicing milestones when a deal lands in certain stages.
//
// The package is pure: it owns the data model, the Move reducer and the
// milestone rules, but performs no I/O. Persistence lives in crmdb,
// orchestration in crm.
//
// Layout:
//   - types.go: entities and enums
//   - milestones.go: the milestone registry (what each milestone does)
//   - board.go: normalized board state and the Move reducer
//   - engine.go: applies a milestone to a moved deal
//   - confirm.go: confirmation prompts and Confirmer implementations
package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by board lookups and validation.
var (
	ErrDealNotFound     = errors.New("deal not found")
	ErrStageNotFound    = errors.New("stage not found")
	ErrPipelineNotFound = errors.New("pipeline not found")
	ErrCategoryNotFound = errors.New("category not found")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrOwnership        = errors.New("deal ownership invariant violated")
	ErrAmbiguousStage   = errors.New("ambiguous stage name")
	ErrInvalidMilestone = errors.New("invalid milestone")
)

// --- Milestone enum ---

// Milestone is the semantic identity of a stage. It is set when the stage is
// created (usually derived from its label) and is not affected by renames.
type Milestone string

const (
	MilestoneNone                 Milestone = "none"
	MilestoneGridRequest          Milestone = "grid_request"          // Netzanfrage
	MilestoneGridApproval         Milestone = "grid_approval"         // Netzbestätigung
	MilestoneShipment             Milestone = "shipment"              // Warenversand
	MilestoneInstallationComplete Milestone = "installation_complete" // Montage abgeschlossen
)

// validMilestones is the set of allowed milestone tags.
var validMilestones = map[Milestone]bool{
	MilestoneNone:                 true,
	MilestoneGridRequest:          true,
	MilestoneGridApproval:         true,
	MilestoneShipment:             true,
	MilestoneInstallationComplete: true,
}

// ValidateMilestone returns an error if the milestone is not recognized.
func ValidateMilestone(m Milestone) error {
	if !validMilestones[m] {
		return fmt.Errorf("%w %q: must be one of: none, grid_request, grid_approval, shipment, installation_complete", ErrInvalidMilestone, m)
	}
	return nil
}

// labelMilestones maps the stage display names used by the sales team to
// their milestone. Matching is exact and case-sensitive.
var labelMilestones = map[string]Milestone{
	"Netzanfrage":           MilestoneGridRequest,
	"Netzbestätigung":       MilestoneGridApproval,
	"Warenversand":          MilestoneShipment,
	"Montage abgeschlossen": MilestoneInstallationComplete,
}

// MilestoneForLabel returns the milestone a new stage with the given display
// name should carry. Unknown labels get MilestoneNone.
func MilestoneForLabel(label string) Milestone {
	if m, ok := labelMilestones[label]; ok {
		return m
	}
	return MilestoneNone
}

// --- Entities ---

// PaymentStatus tracks how much of a deal's value has been invoiced and paid.
// Amounts are in minor currency units (cents).
type PaymentStatus struct {
	Invoiced int64 `json:"invoiced"`
	Paid     int64 `json:"paid"`
}

// Deal is a sales opportunity sitting in exactly one stage.
type Deal struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Value           int64         `json:"value"` // cents
	ContactID       string        `json:"contact_id,omitempty"`
	Status          string        `json:"status,omitempty"` // free-text label
	StageID         string        `json:"stage_id"`
	Position        int           `json:"position"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	LastPaymentDate *time.Time    `json:"last_payment_date,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Stage is a column of the board.
type Stage struct {
	ID         string    `json:"id"`
	PipelineID string    `json:"pipeline_id"`
	Name       string    `json:"name"`
	Milestone  Milestone `json:"milestone"`
	Position   int       `json:"position"`
	DealIDs    []string  `json:"deal_ids"`
}

// StageSpec describes a stage to create. An empty Milestone means the one
// implied by the label.
type StageSpec struct {
	Name      string
	Milestone Milestone
}

// ResolvedMilestone returns the explicit milestone or the label default.
func (s StageSpec) ResolvedMilestone() Milestone {
	if s.Milestone != "" {
		return s.Milestone
	}
	return MilestoneForLabel(s.Name)
}

// SpecsFromNames returns specs whose milestones come from their labels.
func SpecsFromNames(names ...string) []StageSpec {
	out := make([]StageSpec, len(names))
	for i, n := range names {
		out[i] = StageSpec{Name: n}
	}
	return out
}

// Pipeline is an ordered, fixed set of stages.
type Pipeline struct {
	ID         string   `json:"id"`
	CategoryID string   `json:"category_id"`
	Name       string   `json:"name"`
	StageIDs   []string `json:"stage_ids"`
}

// Category groups pipelines. It has no behavior of its own.
type Category struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	PipelineIDs []string `json:"pipeline_ids"`
}

// Contact is the customer a deal belongs to.
type Contact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Company   string    `json:"company,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// --- Effects produced by the engine ---

// InvoiceKind says whether an invoice adds to the invoiced amount or
// replaces it.
type InvoiceKind string

const (
	InvoiceIncrement InvoiceKind = "increment"
	InvoiceSet       InvoiceKind = "set"
)

// Invoice is a ledger row written when an invoicing milestone is confirmed.
type Invoice struct {
	ID        string      `json:"id"`
	DealID    string      `json:"deal_id"`
	Milestone Milestone   `json:"milestone"`
	Percent   int         `json:"percent"`
	Amount    int64       `json:"amount"` // cents; the increment or the new total
	Kind      InvoiceKind `json:"kind"`
	CreatedAt time.Time   `json:"created_at"`
}

// ReminderStatus tracks delivery of a reminder.
type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderDelivered ReminderStatus = "delivered"
	ReminderCancelled ReminderStatus = "cancelled"
)

// Reminder is a durable follow-up, delivered by the reminder dispatcher once
// DueAt has passed.
type Reminder struct {
	ID          string         `json:"id"`
	DealID      string         `json:"deal_id"`
	Milestone   Milestone      `json:"milestone"`
	Message     string         `json:"message"`
	DueAt       time.Time      `json:"due_at"`
	Status      ReminderStatus `json:"status"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// EventKind names a simulated outbound action.
type EventKind string

const (
	EventDealMoved          EventKind = "deal.moved"
	EventInvoiceIssued      EventKind = "invoice.issued"
	EventTechnicianHandoff  EventKind = "handoff.technician"
	EventInvoiceEmail       EventKind = "email.invoice"
	EventDocumentationEmail EventKind = "email.documentation"
	EventReminderDue        EventKind = "reminder.due"
)

// Event is a notification about something that happened to a deal.
type Event struct {
	Kind       EventKind         `json:"kind"`
	DealID     string            `json:"deal_id"`
	Milestone  Milestone         `json:"milestone,omitempty"`
	Message    string            `json:"message"`
	Attributes map[string]string `json:"attributes,omitempty"`
	At         time.Time         `json:"at"`
}

// Percent returns pct percent of value using integer arithmetic.
func Percent(value int64, pct int) int64 {
	return value * int64(pct) / 100
}
