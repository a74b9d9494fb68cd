package crm

import (
	"context"
	"errors"
	"fmt"

	"github.com/HendryAvila/solarcrm/internal/config"
	"github.com/HendryAvila/solarcrm/internal/crmdb"
	"github.com/HendryAvila/solarcrm/internal/pipeline"
)

// SeedReport counts what SeedFromTemplates created and skipped.
type SeedReport struct {
	CategoriesCreated int `json:"categories_created"`
	PipelinesCreated  int `json:"pipelines_created"`
	PipelinesSkipped  int `json:"pipelines_skipped"`
}

// CreatePipelineFromTemplate creates a pipeline in the named category,
// creating the category if it does not exist yet.
func (s *Service) CreatePipelineFromTemplate(ctx context.Context, categoryName string, tmpl config.PipelineTemplate) (pipeline.Pipeline, []pipeline.Stage, error) {
	cat, _, err := s.ensureCategory(ctx, categoryName)
	if err != nil {
		return pipeline.Pipeline{}, nil, err
	}
	p, stages, err := s.store.CreatePipeline(ctx, cat.ID, tmpl.Name, tmpl.Specs())
	if err != nil {
		return pipeline.Pipeline{}, nil, err
	}
	s.logger.Info("pipeline created", "pipeline_id", p.ID, "category", cat.Name, "stages", len(stages))
	return p, stages, nil
}

func (s *Service) ensureCategory(ctx context.Context, name string) (pipeline.Category, bool, error) {
	cat, err := s.store.CategoryByName(ctx, name)
	if err == nil {
		return cat, false, nil
	}
	if !errors.Is(err, crmdb.ErrNotFound) {
		return pipeline.Category{}, false, err
	}
	cat, err = s.store.CreateCategory(ctx, name)
	if err != nil {
		return pipeline.Category{}, false, err
	}
	return cat, true, nil
}

// SeedFromTemplates creates every category and pipeline in t. Pipelines that
// already exist by name in their category are skipped, so seeding twice is
// harmless.
func (s *Service) SeedFromTemplates(ctx context.Context, t *config.Templates) (SeedReport, error) {
	var rep SeedReport
	if t == nil {
		return rep, errors.New("no templates given")
	}
	if err := t.Validate(); err != nil {
		return rep, err
	}

	board, err := s.store.LoadBoard(ctx)
	if err != nil {
		return rep, fmt.Errorf("load board: %w", err)
	}

	for _, ct := range t.Categories {
		cat, created, err := s.ensureCategory(ctx, ct.Name)
		if err != nil {
			return rep, err
		}
		if created {
			rep.CategoriesCreated++
		}

		existing := make(map[string]bool)
		if bc, ok := board.Categories[cat.ID]; ok {
			for _, pid := range bc.PipelineIDs {
				existing[board.Pipelines[pid].Name] = true
			}
		}
		for _, pt := range ct.Pipelines {
			if existing[pt.Name] {
				rep.PipelinesSkipped++
				continue
			}
			if _, _, err := s.store.CreatePipeline(ctx, cat.ID, pt.Name, pt.Specs()); err != nil {
				return rep, fmt.Errorf("seed pipeline %q: %w", pt.Name, err)
			}
			existing[pt.Name] = true
			rep.PipelinesCreated++
		}
	}

	s.logger.Info("seeded pipelines",
		"categories_created", rep.CategoriesCreated,
		"pipelines_created", rep.PipelinesCreated,
		"pipelines_skipped", rep.PipelinesSkipped)
	return rep, nil
}

// RenameStage changes a stage's label. Its milestone is kept.
func (s *Service) RenameStage(ctx context.Context, stageID, name string) error {
	if err := s.store.RenameStage(ctx, stageID, name); err != nil {
		return err
	}
	s.logger.Info("stage renamed", "stage_id", stageID, "name", name)
	return nil
}

// SetStageMilestone retags a stage. Deals already past the stage are not
// touched; the new milestone runs on the next move into it.
func (s *Service) SetStageMilestone(ctx context.Context, stageID string, m pipeline.Milestone) error {
	if err := s.store.SetStageMilestone(ctx, stageID, m); err != nil {
		return err
	}
	s.logger.Info("stage milestone set", "stage_id", stageID, "milestone", m)
	return nil
}
