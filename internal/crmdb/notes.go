package crmdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Note is free text attached to a deal or a contact.
type Note struct {
	ID        int64     `json:"id"`
	DealID    string    `json:"deal_id,omitempty"`
	ContactID string    `json:"contact_id,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// AddNote stores a note. At least one of dealID and contactID is required.
func (s *Store) AddNote(ctx context.Context, dealID, contactID, body string) (Note, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Note{}, errors.New("crmdb: note body is required")
	}
	if dealID == "" && contactID == "" {
		return Note{}, errors.New("crmdb: a note needs a deal or a contact")
	}
	n := Note{
		DealID:    dealID,
		ContactID: contactID,
		Body:      body,
		CreatedAt: timeNow().UTC().Truncate(time.Second),
	}
	res, err := s.execHook(ctx, s.db,
		`INSERT INTO notes (deal_id, contact_id, body, created_at) VALUES (?, ?, ?, ?)`,
		nullableString(dealID), nullableString(contactID), body, formatTime(n.CreatedAt),
	)
	if err != nil {
		return Note{}, fmt.Errorf("crmdb: add note: %w", err)
	}
	n.ID, err = res.LastInsertId()
	if err != nil {
		return Note{}, fmt.Errorf("crmdb: note id: %w", err)
	}
	return n, nil
}

// SearchNotes runs a full-text search over note bodies, best match first.
// A non-empty dealID restricts the search to that deal.
func (s *Store) SearchNotes(ctx context.Context, query, dealID string, limit int) ([]Note, error) {
	q := sanitizeFTS(query)
	if q == "" {
		return nil, errors.New("crmdb: search query is required")
	}
	if limit <= 0 || limit > s.cfg.MaxSearchResults {
		limit = s.cfg.MaxSearchResults
	}

	sqlQuery := `SELECT n.id, n.deal_id, n.contact_id, n.body, n.created_at
		FROM notes_fts f JOIN notes n ON n.id = f.rowid
		WHERE notes_fts MATCH ?`
	args := []any{q}
	if dealID != "" {
		sqlQuery += ` AND n.deal_id = ?`
		args = append(args, dealID)
	}
	sqlQuery += ` ORDER BY rank LIMIT ?`
	args = append(args, limit)

	var out []Note
	err := s.eachRow(ctx, sqlQuery, func(r *sql.Rows) error {
		var (
			n         Note
			dID, cID  *string
			createdAt string
		)
		if err := r.Scan(&n.ID, &dID, &cID, &n.Body, &createdAt); err != nil {
			return err
		}
		n.DealID = derefString(dID)
		n.ContactID = derefString(cID)
		n.CreatedAt = parseTime(createdAt)
		out = append(out, n)
		return nil
	}, args...)
	if err != nil {
		return nil, fmt.Errorf("crmdb: search notes: %w", err)
	}
	return out, nil
}

// ListNotes returns the notes of a deal, newest first.
func (s *Store) ListNotes(ctx context.Context, dealID string) ([]Note, error) {
	var out []Note
	err := s.eachRow(ctx,
		`SELECT id, deal_id, contact_id, body, created_at FROM notes WHERE deal_id = ? ORDER BY id DESC`,
		func(r *sql.Rows) error {
			var (
				n         Note
				dID, cID  *string
				createdAt string
			)
			if err := r.Scan(&n.ID, &dID, &cID, &n.Body, &createdAt); err != nil {
				return err
			}
			n.DealID = derefString(dID)
			n.ContactID = derefString(cID)
			n.CreatedAt = parseTime(createdAt)
			out = append(out, n)
			return nil
		}, dealID)
	if err != nil {
		return nil, fmt.Errorf("crmdb: list notes: %w", err)
	}
	return out, nil
}
