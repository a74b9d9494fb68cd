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

// ─── Categories & pipelines ──────────────────────────────────────────────────

// CreateCategory appends a new category.
func (s *Store) CreateCategory(ctx context.Context, name string) (pipeline.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return pipeline.Category{}, errors.New("crmdb: category name is required")
	}
	c := pipeline.Category{ID: newID(), Name: name}
	_, err := s.execHook(ctx, s.db,
		`INSERT INTO categories (id, name, position, created_at)
		 VALUES (?, ?, (SELECT COUNT(*) FROM categories), ?)`,
		c.ID, c.Name, formatTime(timeNow()),
	)
	if err != nil {
		return pipeline.Category{}, fmt.Errorf("crmdb: create category: %w", err)
	}
	return c, nil
}

// CategoryByName returns the category with the exact name.
func (s *Store) CategoryByName(ctx context.Context, name string) (pipeline.Category, error) {
	var c pipeline.Category
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM categories WHERE name = ? ORDER BY position LIMIT 1`, name,
	).Scan(&c.ID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return c, notFound("category", name)
	}
	if err != nil {
		return c, fmt.Errorf("crmdb: category by name: %w", err)
	}
	return c, nil
}

// CreatePipeline creates a pipeline with its stages in one transaction.
// Stage IDs are generated; a stage without a milestone gets the one its
// label implies.
func (s *Store) CreatePipeline(ctx context.Context, categoryID, name string, specs []pipeline.StageSpec) (pipeline.Pipeline, []pipeline.Stage, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return pipeline.Pipeline{}, nil, errors.New("crmdb: pipeline name is required")
	}
	if len(specs) == 0 {
		return pipeline.Pipeline{}, nil, errors.New("crmdb: a pipeline needs at least one stage")
	}
	for _, sp := range specs {
		if err := pipeline.ValidateMilestone(sp.ResolvedMilestone()); err != nil {
			return pipeline.Pipeline{}, nil, fmt.Errorf("crmdb: stage %q: %w", sp.Name, err)
		}
	}

	p := pipeline.Pipeline{ID: newID(), CategoryID: categoryID, Name: name}
	stages := make([]pipeline.Stage, 0, len(specs))
	now := formatTime(timeNow())

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM categories WHERE id = ?`, categoryID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("crmdb: check category: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("crmdb: %w: %s", pipeline.ErrCategoryNotFound, categoryID)
		}

		if _, err := s.execHook(ctx, tx,
			`INSERT INTO pipelines (id, category_id, name, position, created_at)
			 VALUES (?, ?, ?, (SELECT COUNT(*) FROM pipelines WHERE category_id = ?), ?)`,
			p.ID, categoryID, p.Name, categoryID, now,
		); err != nil {
			return fmt.Errorf("crmdb: insert pipeline: %w", err)
		}

		for i, sp := range specs {
			sn := strings.TrimSpace(sp.Name)
			if sn == "" {
				return fmt.Errorf("crmdb: stage %d of pipeline %q has no name", i+1, name)
			}
			sp.Name = sn
			st := pipeline.Stage{
				ID:         newID(),
				PipelineID: p.ID,
				Name:       sn,
				Milestone:  sp.ResolvedMilestone(),
				Position:   i,
			}
			if _, err := s.execHook(ctx, tx,
				`INSERT INTO stages (id, pipeline_id, name, milestone, position) VALUES (?, ?, ?, ?, ?)`,
				st.ID, st.PipelineID, st.Name, string(st.Milestone), st.Position,
			); err != nil {
				return fmt.Errorf("crmdb: insert stage %q: %w", sn, err)
			}
			stages = append(stages, st)
			p.StageIDs = append(p.StageIDs, st.ID)
		}
		return nil
	})
	if err != nil {
		return pipeline.Pipeline{}, nil, err
	}
	return p, stages, nil
}

// RenameStage changes a stage's display name. The milestone is kept.
func (s *Store) RenameStage(ctx context.Context, stageID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("crmdb: stage name is required")
	}
	res, err := s.execHook(ctx, s.db, `UPDATE stages SET name = ? WHERE id = ?`, name, stageID)
	if err != nil {
		return fmt.Errorf("crmdb: rename stage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("crmdb: %w: %s", pipeline.ErrStageNotFound, stageID)
	}
	return nil
}

// SetStageMilestone retags a stage. The display name is kept.
func (s *Store) SetStageMilestone(ctx context.Context, stageID string, m pipeline.Milestone) error {
	if err := pipeline.ValidateMilestone(m); err != nil {
		return fmt.Errorf("crmdb: %w", err)
	}
	res, err := s.execHook(ctx, s.db, `UPDATE stages SET milestone = ? WHERE id = ?`, string(m), stageID)
	if err != nil {
		return fmt.Errorf("crmdb: set stage milestone: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("crmdb: %w: %s", pipeline.ErrStageNotFound, stageID)
	}
	return nil
}

// ─── Deals ───────────────────────────────────────────────────────────────────

const dealColumns = `id, name, value, contact_id, status, stage_id, position,
	invoiced, paid, last_payment_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeal(r rowScanner) (pipeline.Deal, error) {
	var (
		d                    pipeline.Deal
		contactID, lastPaid  *string
		createdAt, updatedAt string
	)
	err := r.Scan(&d.ID, &d.Name, &d.Value, &contactID, &d.Status, &d.StageID, &d.Position,
		&d.PaymentStatus.Invoiced, &d.PaymentStatus.Paid, &lastPaid, &createdAt, &updatedAt)
	if err != nil {
		return d, err
	}
	d.ContactID = derefString(contactID)
	d.LastPaymentDate = parseTimePtr(lastPaid)
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return d, nil
}

// CreateDeal inserts a deal at the end of its stage. ID, position and
// timestamps are assigned here.
func (s *Store) CreateDeal(ctx context.Context, d pipeline.Deal) (pipeline.Deal, error) {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return d, errors.New("crmdb: deal name is required")
	}
	if d.Value < 0 {
		return d, fmt.Errorf("crmdb: deal value: %w", pipeline.ErrInvalidAmount)
	}
	if d.ID == "" {
		d.ID = newID()
	}
	now := timeNow().UTC().Truncate(time.Second)
	d.CreatedAt, d.UpdatedAt = now, now

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM stages WHERE id = ?`, d.StageID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("crmdb: check stage: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("crmdb: %w: %s", pipeline.ErrStageNotFound, d.StageID)
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM deals WHERE stage_id = ?`, d.StageID,
		).Scan(&d.Position); err != nil {
			return fmt.Errorf("crmdb: count stage deals: %w", err)
		}
		_, err := s.execHook(ctx, tx,
			`INSERT INTO deals (`+dealColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.Name, d.Value, nullableString(d.ContactID), d.Status, d.StageID, d.Position,
			d.PaymentStatus.Invoiced, d.PaymentStatus.Paid, formatTimePtr(d.LastPaymentDate),
			formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("crmdb: insert deal: %w", err)
		}
		return nil
	})
	if err != nil {
		return pipeline.Deal{}, err
	}
	return d, nil
}

// GetDeal returns a deal by ID.
func (s *Store) GetDeal(ctx context.Context, id string) (pipeline.Deal, error) {
	d, err := scanDeal(s.db.QueryRowContext(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return d, fmt.Errorf("crmdb: %w: %s", pipeline.ErrDealNotFound, id)
	}
	if err != nil {
		return d, fmt.Errorf("crmdb: get deal: %w", err)
	}
	return d, nil
}

// ListDeals returns deals in board order. An empty stageID lists all deals.
func (s *Store) ListDeals(ctx context.Context, stageID string) ([]pipeline.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals`
	var args []any
	if stageID != "" {
		query += ` WHERE stage_id = ?`
		args = append(args, stageID)
	}
	query += ` ORDER BY stage_id, position`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("crmdb: list deals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []pipeline.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("crmdb: scan deal: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ─── Board ───────────────────────────────────────────────────────────────────

// LoadBoard reads the whole pipeline tree into a Board.
func (s *Store) LoadBoard(ctx context.Context) (*pipeline.Board, error) {
	b := pipeline.NewBoard()

	if err := s.eachRow(ctx, `SELECT id, name FROM categories ORDER BY position, created_at`,
		func(r *sql.Rows) error {
			var c pipeline.Category
			if err := r.Scan(&c.ID, &c.Name); err != nil {
				return err
			}
			b.AddCategory(c)
			return nil
		}); err != nil {
		return nil, fmt.Errorf("crmdb: load categories: %w", err)
	}

	if err := s.eachRow(ctx, `SELECT id, category_id, name FROM pipelines ORDER BY position, created_at`,
		func(r *sql.Rows) error {
			var p pipeline.Pipeline
			if err := r.Scan(&p.ID, &p.CategoryID, &p.Name); err != nil {
				return err
			}
			return b.AddPipeline(p)
		}); err != nil {
		return nil, fmt.Errorf("crmdb: load pipelines: %w", err)
	}

	if err := s.eachRow(ctx, `SELECT id, pipeline_id, name, milestone, position FROM stages ORDER BY pipeline_id, position`,
		func(r *sql.Rows) error {
			var (
				st        pipeline.Stage
				milestone string
			)
			if err := r.Scan(&st.ID, &st.PipelineID, &st.Name, &milestone, &st.Position); err != nil {
				return err
			}
			st.Milestone = pipeline.Milestone(milestone)
			return b.AddStage(st)
		}); err != nil {
		return nil, fmt.Errorf("crmdb: load stages: %w", err)
	}

	deals, err := s.ListDeals(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, d := range deals {
		if err := b.AddDeal(d); err != nil {
			return nil, fmt.Errorf("crmdb: load deals: %w", err)
		}
	}
	return b, nil
}

func (s *Store) eachRow(ctx context.Context, query string, fn func(*sql.Rows) error, args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ApplyMove persists a move and whatever the milestone engine decided for
// it, atomically: the new order of the source and destination stages, the
// moved deal's payment status, invoices and reminders.
func (s *Store) ApplyMove(ctx context.Context, next *pipeline.Board, res pipeline.MoveResult, out pipeline.Outcome) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stageIDs := []string{res.FromStageID}
		if res.ToStageID != res.FromStageID {
			stageIDs = append(stageIDs, res.ToStageID)
		}
		for _, sid := range stageIDs {
			for i, did := range next.Stages[sid].DealIDs {
				if _, err := s.execHook(ctx, tx,
					`UPDATE deals SET stage_id = ?, position = ? WHERE id = ?`, sid, i, did,
				); err != nil {
					return fmt.Errorf("crmdb: reorder deal %s: %w", did, err)
				}
			}
		}

		d := out.Deal
		r, err := s.execHook(ctx, tx,
			`UPDATE deals SET invoiced = ?, updated_at = ? WHERE id = ?`,
			d.PaymentStatus.Invoiced, formatTime(d.UpdatedAt), d.ID,
		)
		if err != nil {
			return fmt.Errorf("crmdb: update deal: %w", err)
		}
		if n, _ := r.RowsAffected(); n == 0 {
			return fmt.Errorf("crmdb: %w: %s", pipeline.ErrDealNotFound, d.ID)
		}

		for _, inv := range out.Invoices {
			if err := s.insertInvoice(ctx, tx, inv); err != nil {
				return err
			}
		}
		for _, rem := range out.Reminders {
			if err := s.insertReminder(ctx, tx, rem); err != nil {
				return err
			}
		}
		return nil
	})
}
