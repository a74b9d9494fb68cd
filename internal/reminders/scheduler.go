package reminders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/HendryAvila/solarcrm/internal/pipeline"
)

// Writer is the subset of the CRM database the scheduler needs.
type Writer interface {
	InsertReminder(ctx context.Context, r pipeline.Reminder) error
	CancelReminder(ctx context.Context, id string) error
}

// Scheduler persists reminders that are not produced by a milestone, such
// as a follow-up the user asks for by hand.
type Scheduler struct {
	store Writer
	delay time.Duration
}

// NewScheduler creates a scheduler. A zero delay means
// pipeline.DefaultReminderDelay.
func NewScheduler(store Writer, delay time.Duration) *Scheduler {
	if delay <= 0 {
		delay = pipeline.DefaultReminderDelay
	}
	return &Scheduler{store: store, delay: delay}
}

// Schedule stores a reminder for dealID. A zero after uses the scheduler's
// default delay.
func (s *Scheduler) Schedule(ctx context.Context, dealID, message string, after time.Duration) (pipeline.Reminder, error) {
	if dealID == "" {
		return pipeline.Reminder{}, errors.New("deal ID is required")
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return pipeline.Reminder{}, errors.New("reminder message is required")
	}
	if after < 0 {
		return pipeline.Reminder{}, fmt.Errorf("reminder delay %s is negative", after)
	}
	if after == 0 {
		after = s.delay
	}
	now := timeNow().UTC().Truncate(time.Second)
	r := pipeline.Reminder{
		ID:        uuid.New().String(),
		DealID:    dealID,
		Milestone: pipeline.MilestoneNone,
		Message:   message,
		DueAt:     now.Add(after),
		Status:    pipeline.ReminderPending,
		CreatedAt: now,
	}
	if err := s.store.InsertReminder(ctx, r); err != nil {
		return pipeline.Reminder{}, fmt.Errorf("schedule reminder: %w", err)
	}
	return r, nil
}

// Cancel cancels a pending reminder.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	return s.store.CancelReminder(ctx, id)
}
