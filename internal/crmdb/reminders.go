package crmdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/HendryAvila/solarcrm/internal/pipeline"
)

const reminderColumns = `id, deal_id, milestone, message, due_at, status, delivered_at, created_at`

func (s *Store) insertReminder(ctx context.Context, db execer, r pipeline.Reminder) error {
	if r.ID == "" {
		r.ID = newID()
	}
	if r.Status == "" {
		r.Status = pipeline.ReminderPending
	}
	_, err := s.execHook(ctx, db,
		`INSERT INTO reminders (`+reminderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.DealID, string(r.Milestone), r.Message, formatTime(r.DueAt), string(r.Status),
		formatTimePtr(r.DeliveredAt), formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("crmdb: insert reminder: %w", err)
	}
	return nil
}

// InsertReminder stores a reminder outside of a move.
func (s *Store) InsertReminder(ctx context.Context, r pipeline.Reminder) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = timeNow()
	}
	return s.insertReminder(ctx, s.db, r)
}

func (s *Store) queryReminders(ctx context.Context, query string, args ...any) ([]pipeline.Reminder, error) {
	var out []pipeline.Reminder
	err := s.eachRow(ctx, query, func(rows *sql.Rows) error {
		var (
			r                                   pipeline.Reminder
			milestone, status, dueAt, createdAt string
			deliveredAt                         *string
		)
		if err := rows.Scan(&r.ID, &r.DealID, &milestone, &r.Message, &dueAt, &status, &deliveredAt, &createdAt); err != nil {
			return err
		}
		r.Milestone = pipeline.Milestone(milestone)
		r.Status = pipeline.ReminderStatus(status)
		r.DueAt = parseTime(dueAt)
		r.DeliveredAt = parseTimePtr(deliveredAt)
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
		return nil
	}, args...)
	if err != nil {
		return nil, fmt.Errorf("crmdb: query reminders: %w", err)
	}
	return out, nil
}

// DueReminders returns pending reminders whose due time is at or before now,
// oldest first. limit <= 0 means no limit.
func (s *Store) DueReminders(ctx context.Context, now time.Time, limit int) ([]pipeline.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders
		WHERE status = ? AND due_at <= ? ORDER BY due_at, rowid`
	args := []any{string(pipeline.ReminderPending), formatTime(now)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryReminders(ctx, query, args...)
}

// ListReminders returns reminders filtered by status and deal. Empty values
// match everything.
func (s *Store) ListReminders(ctx context.Context, status pipeline.ReminderStatus, dealID string) ([]pipeline.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE 1=1`
	var args []any
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	if dealID != "" {
		query += ` AND deal_id = ?`
		args = append(args, dealID)
	}
	query += ` ORDER BY due_at, rowid`
	return s.queryReminders(ctx, query, args...)
}

// MarkReminderDelivered flags a pending reminder as delivered. Reminders that
// are no longer pending are left alone and reported as not found.
func (s *Store) MarkReminderDelivered(ctx context.Context, id string, at time.Time) error {
	return s.transitionReminder(ctx, id, pipeline.ReminderDelivered, &at)
}

// ClaimReminder marks a pending reminder delivered and reports whether this
// call did it. A reminder already delivered or cancelled, by this process or
// another one on the same database, is not claimed.
func (s *Store) ClaimReminder(ctx context.Context, id string, at time.Time) (bool, error) {
	err := s.MarkReminderDelivered(ctx, id, at)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseReminder returns a claimed reminder to pending so the next check
// retries it.
func (s *Store) ReleaseReminder(ctx context.Context, id string) error {
	res, err := s.execHook(ctx, s.db,
		`UPDATE reminders SET status = ?, delivered_at = NULL WHERE id = ? AND status = ?`,
		string(pipeline.ReminderPending), id, string(pipeline.ReminderDelivered),
	)
	if err != nil {
		return fmt.Errorf("crmdb: release reminder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("delivered reminder", id)
	}
	return nil
}

// CancelReminder cancels a pending reminder.
func (s *Store) CancelReminder(ctx context.Context, id string) error {
	return s.transitionReminder(ctx, id, pipeline.ReminderCancelled, nil)
}

func (s *Store) transitionReminder(ctx context.Context, id string, to pipeline.ReminderStatus, at *time.Time) error {
	res, err := s.execHook(ctx, s.db,
		`UPDATE reminders SET status = ?, delivered_at = ? WHERE id = ? AND status = ?`,
		string(to), formatTimePtr(at), id, string(pipeline.ReminderPending),
	)
	if err != nil {
		return fmt.Errorf("crmdb: update reminder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("pending reminder", id)
	}
	return nil
}
