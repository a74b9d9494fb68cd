package crmdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/HendryAvila/solarcrm/internal/pipeline"
)

// Payment is a money receipt against a deal.
type Payment struct {
	ID     string    `json:"id"`
	DealID string    `json:"deal_id"`
	Amount int64     `json:"amount"` // cents
	PaidAt time.Time `json:"paid_at"`
	Note   string    `json:"note,omitempty"`
}

func (s *Store) insertInvoice(ctx context.Context, db execer, inv pipeline.Invoice) error {
	if inv.ID == "" {
		inv.ID = newID()
	}
	_, err := s.execHook(ctx, db,
		`INSERT INTO invoices (id, deal_id, milestone, percent, amount, kind, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.DealID, string(inv.Milestone), inv.Percent, inv.Amount, string(inv.Kind),
		formatTime(inv.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("crmdb: insert invoice: %w", err)
	}
	return nil
}

// ListInvoices returns a deal's invoices, oldest first. An empty dealID
// lists every invoice.
func (s *Store) ListInvoices(ctx context.Context, dealID string) ([]pipeline.Invoice, error) {
	query := `SELECT id, deal_id, milestone, percent, amount, kind, created_at FROM invoices`
	var args []any
	if dealID != "" {
		query += ` WHERE deal_id = ?`
		args = append(args, dealID)
	}
	query += ` ORDER BY created_at, rowid`

	var out []pipeline.Invoice
	err := s.eachRow(ctx, query, func(r *sql.Rows) error {
		var (
			inv                        pipeline.Invoice
			milestone, kind, createdAt string
		)
		if err := r.Scan(&inv.ID, &inv.DealID, &milestone, &inv.Percent, &inv.Amount, &kind, &createdAt); err != nil {
			return err
		}
		inv.Milestone = pipeline.Milestone(milestone)
		inv.Kind = pipeline.InvoiceKind(kind)
		inv.CreatedAt = parseTime(createdAt)
		out = append(out, inv)
		return nil
	}, args...)
	if err != nil {
		return nil, fmt.Errorf("crmdb: list invoices: %w", err)
	}
	return out, nil
}

// RecordPayment adds amount to the deal's paid total and stamps the last
// payment date. Payments may exceed the invoiced amount (prepayments).
func (s *Store) RecordPayment(ctx context.Context, dealID string, amount int64, note string) (pipeline.Deal, Payment, error) {
	if amount <= 0 {
		return pipeline.Deal{}, Payment{}, fmt.Errorf("crmdb: payment of %d: %w", amount, pipeline.ErrInvalidAmount)
	}
	now := timeNow().UTC().Truncate(time.Second)
	p := Payment{ID: newID(), DealID: dealID, Amount: amount, PaidAt: now, Note: note}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := s.execHook(ctx, tx,
			`UPDATE deals SET paid = paid + ?, last_payment_at = ?, updated_at = ? WHERE id = ?`,
			amount, formatTime(now), formatTime(now), dealID,
		)
		if err != nil {
			return fmt.Errorf("crmdb: update paid: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("crmdb: %w: %s", pipeline.ErrDealNotFound, dealID)
		}
		if _, err := s.execHook(ctx, tx,
			`INSERT INTO payments (id, deal_id, amount, paid_at, note) VALUES (?, ?, ?, ?, ?)`,
			p.ID, p.DealID, p.Amount, formatTime(p.PaidAt), p.Note,
		); err != nil {
			return fmt.Errorf("crmdb: insert payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return pipeline.Deal{}, Payment{}, err
	}

	d, err := s.GetDeal(ctx, dealID)
	if err != nil {
		return pipeline.Deal{}, Payment{}, err
	}
	return d, p, nil
}

// ListPayments returns a deal's payments, oldest first.
func (s *Store) ListPayments(ctx context.Context, dealID string) ([]Payment, error) {
	var out []Payment
	err := s.eachRow(ctx,
		`SELECT id, deal_id, amount, paid_at, note FROM payments WHERE deal_id = ? ORDER BY paid_at, rowid`,
		func(r *sql.Rows) error {
			var (
				p      Payment
				paidAt string
			)
			if err := r.Scan(&p.ID, &p.DealID, &p.Amount, &paidAt, &p.Note); err != nil {
				return err
			}
			p.PaidAt = parseTime(paidAt)
			out = append(out, p)
			return nil
		}, dealID)
	if err != nil {
		return nil, fmt.Errorf("crmdb: list payments: %w", err)
	}
	return out, nil
}
