// Package reminders delivers durable follow-up reminders once they fall due.
//
// Reminders are rows in the CRM database, written in the same transaction
// as the move that scheduled them. The Dispatcher polls for due rows, claims
// each one by marking it delivered, then publishes a reminder.due event. A
// row claimed by another dispatcher on the same database is skipped. A
// failed publish releases the claim so the next check retries it.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HendryAvila/solarcrm/internal/events"
	"github.com/HendryAvila/solarcrm/internal/metrics"
	"github.com/HendryAvila/solarcrm/internal/pipeline"
)

// DefaultPollInterval is how often the dispatcher looks for due reminders.
const DefaultPollInterval = time.Minute

// batchSize caps how many reminders one check delivers.
const batchSize = 100

// Store is the subset of the CRM database the dispatcher needs.
type Store interface {
	DueReminders(ctx context.Context, now time.Time, limit int) ([]pipeline.Reminder, error)
	// ClaimReminder marks a pending reminder delivered and reports whether
	// this call changed it.
	ClaimReminder(ctx context.Context, id string, at time.Time) (bool, error)
	ReleaseReminder(ctx context.Context, id string) error
}

// errClaimed means another dispatcher delivered or someone cancelled the
// reminder after it was listed.
var errClaimed = errors.New("reminder no longer pending")

// timeNow is the dispatcher clock. Tests freeze it.
var timeNow = time.Now

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Checks    int64     `json:"checks"`
	Delivered int64     `json:"delivered"`
	Failed    int64     `json:"failed"`
	LastCheck time.Time `json:"last_check"`
}

// Dispatcher delivers due reminders.
type Dispatcher struct {
	store     Store
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	interval  time.Duration

	mu      sync.Mutex
	running bool

	checks    atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64

	lastCheckMu sync.RWMutex
	lastCheck   time.Time
}

// NewDispatcher creates a dispatcher. A zero interval means
// DefaultPollInterval; m may be nil.
func NewDispatcher(store Store, pub events.Publisher, m *metrics.Metrics, interval time.Duration, logger *slog.Logger) *Dispatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = events.LogPublisher{Logger: logger}
	}
	return &Dispatcher{
		store:     store,
		publisher: pub,
		metrics:   m,
		logger:    logger,
		interval:  interval,
	}
}

// Run checks for due reminders immediately and then on every tick until ctx
// is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already running")
	}
	d.running = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		d.logger.Info("reminder dispatcher stopped",
			"checks", d.checks.Load(),
			"delivered", d.delivered.Load(),
			"failed", d.failed.Load())
	}()

	d.logger.Info("reminder dispatcher started", "interval", d.interval)
	d.checkLoop(ctx)
	return nil
}

func (d *Dispatcher) checkLoop(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.CheckOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.CheckOnce(ctx)
		}
	}
}

// CheckOnce delivers every reminder due now and returns how many were
// delivered.
func (d *Dispatcher) CheckOnce(ctx context.Context) int {
	d.checks.Add(1)
	now := timeNow().UTC()
	d.lastCheckMu.Lock()
	d.lastCheck = now
	d.lastCheckMu.Unlock()

	due, err := d.store.DueReminders(ctx, now, batchSize)
	if err != nil {
		d.logger.Error("failed to list due reminders", "error", err)
		return 0
	}
	if len(due) > 0 {
		d.logger.Debug("delivering reminders", "due", len(due))
	}

	n := 0
	for _, r := range due {
		if ctx.Err() != nil {
			break
		}
		err := d.deliver(ctx, r, now)
		if errors.Is(err, errClaimed) {
			d.logger.Debug("reminder already handled", "reminder_id", r.ID)
			continue
		}
		if err != nil {
			d.failed.Add(1)
			d.metrics.ObserveReminder(false)
			d.logger.Warn("reminder delivery failed, will retry",
				"reminder_id", r.ID, "deal_id", r.DealID, "error", err)
			continue
		}
		d.delivered.Add(1)
		d.metrics.ObserveReminder(true)
		n++
	}
	return n
}

func (d *Dispatcher) deliver(ctx context.Context, r pipeline.Reminder, now time.Time) error {
	ev := pipeline.Event{
		Kind:      pipeline.EventReminderDue,
		DealID:    r.DealID,
		Milestone: r.Milestone,
		Message:   r.Message,
		Attributes: map[string]string{
			"reminder_id": r.ID,
			"due_at":      r.DueAt.Format(time.RFC3339),
		},
		At: now,
	}
	claimed, err := d.store.ClaimReminder(ctx, r.ID, now)
	if err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		return errClaimed
	}
	if err := d.publisher.Publish(ctx, ev); err != nil {
		if rerr := d.store.ReleaseReminder(context.WithoutCancel(ctx), r.ID); rerr != nil {
			d.logger.Error("reminder claimed but not published",
				"reminder_id", r.ID, "deal_id", r.DealID, "error", rerr)
		}
		return fmt.Errorf("publish: %w", err)
	}
	d.logger.Info("reminder delivered", "reminder_id", r.ID, "deal_id", r.DealID)
	return nil
}

// Stats returns the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	d.lastCheckMu.RLock()
	last := d.lastCheck
	d.lastCheckMu.RUnlock()
	return Stats{
		Checks:    d.checks.Load(),
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		LastCheck: last,
	}
}
