package crmdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HendryAvila/solarcrm/internal/pipeline"
)

// CreateContact inserts a contact. Name is required.
func (s *Store) CreateContact(ctx context.Context, c pipeline.Contact) (pipeline.Contact, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return c, errors.New("crmdb: contact name is required")
	}
	if c.ID == "" {
		c.ID = newID()
	}
	c.CreatedAt = timeNow().UTC().Truncate(time.Second)

	_, err := s.execHook(ctx, s.db,
		`INSERT INTO contacts (id, name, email, phone, company, address, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Email, c.Phone, c.Company, c.Address, formatTime(c.CreatedAt),
	)
	if err != nil {
		return c, fmt.Errorf("crmdb: create contact: %w", err)
	}
	return c, nil
}

const contactColumns = `id, name, email, phone, company, address, created_at`

func scanContact(r rowScanner) (pipeline.Contact, error) {
	var (
		c         pipeline.Contact
		createdAt string
	)
	if err := r.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Company, &c.Address, &createdAt); err != nil {
		return c, err
	}
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

// GetContact returns a contact by ID.
func (s *Store) GetContact(ctx context.Context, id string) (pipeline.Contact, error) {
	c, err := scanContact(s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return c, notFound("contact", id)
	}
	if err != nil {
		return c, fmt.Errorf("crmdb: get contact: %w", err)
	}
	return c, nil
}

// ListContacts returns contacts sorted by name. A non-empty filter matches
// name, email or company case-insensitively.
func (s *Store) ListContacts(ctx context.Context, filter string) ([]pipeline.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts`
	var args []any
	if f := strings.TrimSpace(filter); f != "" {
		like := "%" + strings.ToLower(f) + "%"
		query += ` WHERE lower(name) LIKE ? OR lower(email) LIKE ? OR lower(company) LIKE ?`
		args = append(args, like, like, like)
	}
	query += ` ORDER BY name COLLATE NOCASE`

	var out []pipeline.Contact
	err := s.eachRow(ctx, query, func(r *sql.Rows) error {
		c, err := scanContact(r)
		if err != nil {
			return err
		}
		out = append(out, c)
		return nil
	}, args...)
	if err != nil {
		return nil, fmt.Errorf("crmdb: list contacts: %w", err)
	}
	return out, nil
}

// DeleteContact removes a contact. Deals keep existing with no contact.
func (s *Store) DeleteContact(ctx context.Context, id string) error {
	res, err := s.execHook(ctx, s.db, `DELETE FROM contacts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("crmdb: delete contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("contact", id)
	}
	return nil
}
