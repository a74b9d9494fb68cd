// Package crm orchestrates the CRM use cases on top of the pipeline model,
// the database, the event publisher and the metrics.
//
// Every deal move follows the same path: load the board, move the deal,
// let the milestone engine decide the side effects, persist everything in
// one transaction, then publish events on a best-effort basis.
package crm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HendryAvila/solarcrm/internal/crmdb"
	"github.com/HendryAvila/solarcrm/internal/events"
	"github.com/HendryAvila/solarcrm/internal/metrics"
	"github.com/HendryAvila/solarcrm/internal/pipeline"
	"github.com/HendryAvila/solarcrm/internal/reminders"
)

// Options configures a Service. Every field is optional.
type Options struct {
	Publisher     events.Publisher
	Metrics       *metrics.Metrics
	ReminderDelay time.Duration
	Currency      string
	Logger        *slog.Logger
}

// Service is the CRM application layer.
type Service struct {
	// moveMu serialises writes that reorder stages. MoveDeal persists the
	// order of whole stages computed from the board it loaded, so that board
	// must not go stale before the write.
	moveMu sync.Mutex

	store     *crmdb.Store
	engine    *pipeline.Engine
	publisher events.Publisher
	metrics   *metrics.Metrics
	scheduler *reminders.Scheduler
	currency  string
	logger    *slog.Logger
}

// New creates a service over store.
func New(store *crmdb.Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pub := opts.Publisher
	if pub == nil {
		pub = events.LogPublisher{Logger: logger}
	}
	currency := opts.Currency
	if currency == "" {
		currency = "EUR"
	}
	return &Service{
		store:     store,
		engine:    pipeline.NewEngine(opts.ReminderDelay, logger),
		publisher: pub,
		metrics:   opts.Metrics,
		scheduler: reminders.NewScheduler(store, opts.ReminderDelay),
		currency:  currency,
		logger:    logger,
	}
}

// Currency returns the ISO code used when formatting amounts.
func (s *Service) Currency() string { return s.currency }

// Board loads the full pipeline tree.
func (s *Service) Board(ctx context.Context) (*pipeline.Board, error) {
	return s.store.LoadBoard(ctx)
}

// ─── Moves ───────────────────────────────────────────────────────────────────

// MoveRequest asks to move a deal. The destination is StageID, or StageName
// looked up in PipelineID (default: the deal's current pipeline).
type MoveRequest struct {
	DealID     string
	StageID    string
	StageName  string
	PipelineID string
	// Index is the position in the destination stage; negative appends.
	Index     int
	Confirmer pipeline.Confirmer
}

// StageRef identifies a stage in a report.
type StageRef struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Milestone pipeline.Milestone `json:"milestone"`
}

func stageRef(s *pipeline.Stage) StageRef {
	return StageRef{ID: s.ID, Name: s.Name, Milestone: s.Milestone}
}

// MoveReport describes what a move did.
type MoveReport struct {
	Deal           pipeline.Deal       `json:"deal"`
	From           StageRef            `json:"from"`
	To             StageRef            `json:"to"`
	Index          int                 `json:"index"`
	Answers        []pipeline.Answer   `json:"answers,omitempty"`
	Confirmed      bool                `json:"confirmed"`
	InvoicedBefore int64               `json:"invoiced_before"`
	InvoicedAfter  int64               `json:"invoiced_after"`
	Invoices       []pipeline.Invoice  `json:"invoices,omitempty"`
	Reminders      []pipeline.Reminder `json:"reminders,omitempty"`
	Events         []pipeline.Event    `json:"events,omitempty"`
	PublishErrors  []string            `json:"publish_errors,omitempty"`
}

// MoveDeal moves a deal and runs the destination stage's milestone. The move
// itself is unconditional: declining a prompt only skips the invoicing.
func (s *Service) MoveDeal(ctx context.Context, req MoveRequest) (*MoveReport, error) {
	if req.DealID == "" {
		return nil, errors.New("deal ID is required")
	}
	board, next, res, out, err := s.move(ctx, req)
	if err != nil {
		return nil, err
	}
	deal := board.Deals[req.DealID]
	dest := next.Stages[res.ToStageID]

	from := board.Stages[res.FromStageID]
	report := &MoveReport{
		Deal:           out.Deal,
		From:           stageRef(from),
		To:             stageRef(dest),
		Index:          res.Index,
		Answers:        out.Answers,
		Confirmed:      out.Confirmed,
		InvoicedBefore: out.InvoicedBefore,
		InvoicedAfter:  out.InvoicedAfter,
		Invoices:       out.Invoices,
		Reminders:      out.Reminders,
	}

	moved := pipeline.Event{
		Kind:    pipeline.EventDealMoved,
		DealID:  deal.ID,
		Message: fmt.Sprintf("%q von %q nach %q verschoben", deal.Name, from.Name, dest.Name),
		Attributes: map[string]string{
			"from_stage_id": res.FromStageID,
			"to_stage_id":   res.ToStageID,
			"index":         fmt.Sprint(res.Index),
		},
		At: out.Deal.UpdatedAt,
	}
	if dest.Milestone != pipeline.MilestoneNone {
		moved.Milestone = dest.Milestone
	}
	report.Events = append([]pipeline.Event{moved}, out.Events...)
	report.PublishErrors = s.publishAll(ctx, report.Events)

	s.metrics.ObserveMove(out)
	s.logger.Info("deal moved",
		"deal_id", deal.ID,
		"from", from.Name,
		"to", dest.Name,
		"confirmed", out.Confirmed)

	return report, nil
}

// move loads the board, runs the reducer and the milestone, and persists
// the result. It returns the board as loaded and the board after the move.
func (s *Service) move(ctx context.Context, req MoveRequest) (board, next *pipeline.Board, res pipeline.MoveResult, out pipeline.Outcome, err error) {
	s.moveMu.Lock()
	defer s.moveMu.Unlock()

	board, err = s.store.LoadBoard(ctx)
	if err != nil {
		return nil, nil, res, out, fmt.Errorf("load board: %w", err)
	}
	deal, err := board.Deal(req.DealID)
	if err != nil {
		return nil, nil, res, out, err
	}
	dest, err := s.resolveStage(board, deal, req)
	if err != nil {
		return nil, nil, res, out, err
	}

	next, res, err = pipeline.Move(board, deal.ID, dest.ID, req.Index)
	if err != nil {
		return nil, nil, res, out, err
	}
	out = s.engine.Apply(ctx, *next.Deals[deal.ID], *next.Stages[dest.ID], req.Confirmer)

	if err := s.store.ApplyMove(ctx, next, res, out); err != nil {
		return nil, nil, res, out, fmt.Errorf("persist move: %w", err)
	}
	return board, next, res, out, nil
}

func (s *Service) resolveStage(b *pipeline.Board, deal *pipeline.Deal, req MoveRequest) (*pipeline.Stage, error) {
	if req.StageID != "" {
		return b.Stage(req.StageID)
	}
	if req.StageName == "" {
		return nil, errors.New("a destination stage ID or name is required")
	}
	pipelineID := req.PipelineID
	if pipelineID == "" {
		if cur, ok := b.Stages[deal.StageID]; ok {
			pipelineID = cur.PipelineID
		}
	}
	return b.StageByName(pipelineID, req.StageName)
}

// publishAll sends evs and returns the failures. A failure never undoes the
// move that produced the event.
func (s *Service) publishAll(ctx context.Context, evs []pipeline.Event) []string {
	var failed []string
	for _, ev := range evs {
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.logger.Warn("event publish failed",
				"kind", ev.Kind, "deal_id", ev.DealID, "error", err)
			s.metrics.ObservePublishFailure(ev.Kind)
			failed = append(failed, fmt.Sprintf("%s: %v", ev.Kind, err))
		}
	}
	return failed
}

// ─── Deals ───────────────────────────────────────────────────────────────────

// NewDeal describes a deal to create. The stage is StageID, or StageName
// looked up in PipelineID (or across all pipelines when PipelineID is empty).
type NewDeal struct {
	Name       string
	Value      int64 // cents
	ContactID  string
	Status     string
	StageID    string
	StageName  string
	PipelineID string
}

// CreateDeal adds a deal at the end of its stage. No milestone runs on
// creation.
func (s *Service) CreateDeal(ctx context.Context, nd NewDeal) (pipeline.Deal, error) {
	stageID := nd.StageID
	if stageID == "" {
		if nd.StageName == "" {
			return pipeline.Deal{}, errors.New("a stage ID or name is required")
		}
		board, err := s.store.LoadBoard(ctx)
		if err != nil {
			return pipeline.Deal{}, fmt.Errorf("load board: %w", err)
		}
		st, err := board.StageByName(nd.PipelineID, nd.StageName)
		if err != nil {
			return pipeline.Deal{}, err
		}
		stageID = st.ID
	}
	if nd.ContactID != "" {
		if _, err := s.store.GetContact(ctx, nd.ContactID); err != nil {
			return pipeline.Deal{}, err
		}
	}

	s.moveMu.Lock()
	d, err := s.store.CreateDeal(ctx, pipeline.Deal{
		Name:      nd.Name,
		Value:     nd.Value,
		ContactID: nd.ContactID,
		Status:    nd.Status,
		StageID:   stageID,
	})
	s.moveMu.Unlock()
	if err != nil {
		return pipeline.Deal{}, err
	}
	s.logger.Info("deal created", "deal_id", d.ID, "stage_id", d.StageID, "value", d.Value)
	return d, nil
}

// DealDetail is a deal with everything attached to it.
type DealDetail struct {
	Deal      pipeline.Deal       `json:"deal"`
	Stage     StageRef            `json:"stage"`
	Contact   *pipeline.Contact   `json:"contact,omitempty"`
	Invoices  []pipeline.Invoice  `json:"invoices"`
	Payments  []crmdb.Payment     `json:"payments"`
	Reminders []pipeline.Reminder `json:"reminders"`
	Notes     []crmdb.Note        `json:"notes"`
}

// GetDeal returns a deal with its ledger, reminders and notes.
func (s *Service) GetDeal(ctx context.Context, id string) (*DealDetail, error) {
	board, err := s.store.LoadBoard(ctx)
	if err != nil {
		return nil, fmt.Errorf("load board: %w", err)
	}
	d, err := board.Deal(id)
	if err != nil {
		return nil, err
	}
	detail := &DealDetail{Deal: *d}
	if st, ok := board.Stages[d.StageID]; ok {
		detail.Stage = stageRef(st)
	}
	if d.ContactID != "" {
		c, err := s.store.GetContact(ctx, d.ContactID)
		if err != nil && !errors.Is(err, crmdb.ErrNotFound) {
			return nil, err
		}
		if err == nil {
			detail.Contact = &c
		}
	}
	if detail.Invoices, err = s.store.ListInvoices(ctx, id); err != nil {
		return nil, err
	}
	if detail.Payments, err = s.store.ListPayments(ctx, id); err != nil {
		return nil, err
	}
	if detail.Reminders, err = s.store.ListReminders(ctx, "", id); err != nil {
		return nil, err
	}
	if detail.Notes, err = s.store.ListNotes(ctx, id); err != nil {
		return nil, err
	}
	return detail, nil
}

// RecordPayment books a payment against a deal.
func (s *Service) RecordPayment(ctx context.Context, dealID string, amount int64, note string) (pipeline.Deal, crmdb.Payment, error) {
	d, p, err := s.store.RecordPayment(ctx, dealID, amount, note)
	if err != nil {
		return d, p, err
	}
	s.metrics.ObservePayment(amount)
	s.logger.Info("payment recorded", "deal_id", dealID, "amount", amount, "paid", d.PaymentStatus.Paid)
	if d.PaymentStatus.Paid > d.PaymentStatus.Invoiced {
		s.logger.Warn("deal paid beyond invoiced amount",
			"deal_id", dealID, "paid", d.PaymentStatus.Paid, "invoiced", d.PaymentStatus.Invoiced)
	}
	return d, p, nil
}

// ListInvoices returns invoices for a deal, or all invoices when dealID is
// empty.
func (s *Service) ListInvoices(ctx context.Context, dealID string) ([]pipeline.Invoice, error) {
	return s.store.ListInvoices(ctx, dealID)
}

// ─── Reminders ───────────────────────────────────────────────────────────────

// ListReminders returns reminders filtered by status and deal.
func (s *Service) ListReminders(ctx context.Context, status pipeline.ReminderStatus, dealID string) ([]pipeline.Reminder, error) {
	if status != "" {
		switch status {
		case pipeline.ReminderPending, pipeline.ReminderDelivered, pipeline.ReminderCancelled:
		default:
			return nil, fmt.Errorf("invalid reminder status %q: must be pending, delivered or cancelled", status)
		}
	}
	return s.store.ListReminders(ctx, status, dealID)
}

// ScheduleReminder stores a manual follow-up for a deal.
func (s *Service) ScheduleReminder(ctx context.Context, dealID, message string, after time.Duration) (pipeline.Reminder, error) {
	if _, err := s.store.GetDeal(ctx, dealID); err != nil {
		return pipeline.Reminder{}, err
	}
	return s.scheduler.Schedule(ctx, dealID, message, after)
}

// CancelReminder cancels a pending reminder.
func (s *Service) CancelReminder(ctx context.Context, id string) error {
	return s.scheduler.Cancel(ctx, id)
}

// ─── Contacts & notes ────────────────────────────────────────────────────────

// CreateContact stores a contact.
func (s *Service) CreateContact(ctx context.Context, c pipeline.Contact) (pipeline.Contact, error) {
	return s.store.CreateContact(ctx, c)
}

// ListContacts lists contacts, optionally filtered.
func (s *Service) ListContacts(ctx context.Context, filter string) ([]pipeline.Contact, error) {
	return s.store.ListContacts(ctx, filter)
}

// DeleteContact removes a contact.
func (s *Service) DeleteContact(ctx context.Context, id string) error {
	return s.store.DeleteContact(ctx, id)
}

// AddNote attaches a note to a deal or a contact.
func (s *Service) AddNote(ctx context.Context, dealID, contactID, body string) (crmdb.Note, error) {
	if dealID != "" {
		if _, err := s.store.GetDeal(ctx, dealID); err != nil {
			return crmdb.Note{}, err
		}
	}
	if contactID != "" {
		if _, err := s.store.GetContact(ctx, contactID); err != nil {
			return crmdb.Note{}, err
		}
	}
	return s.store.AddNote(ctx, dealID, contactID, body)
}

// SearchNotes runs a full-text search over notes.
func (s *Service) SearchNotes(ctx context.Context, query, dealID string, limit int) ([]crmdb.Note, error) {
	return s.store.SearchNotes(ctx, query, dealID, limit)
}
