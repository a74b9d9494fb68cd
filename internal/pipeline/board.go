package pipeline

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Board is the normalized pipeline tree. Entities are addressed by ID and
// ordering is carried by the ID slices on their parents.
type Board struct {
	Categories map[string]*Category `json:"categories"`
	Pipelines  map[string]*Pipeline `json:"pipelines"`
	Stages     map[string]*Stage    `json:"stages"`
	Deals      map[string]*Deal     `json:"deals"`

	// CategoryIDs keeps categories in display order.
	CategoryIDs []string `json:"category_ids"`
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{
		Categories: make(map[string]*Category),
		Pipelines:  make(map[string]*Pipeline),
		Stages:     make(map[string]*Stage),
		Deals:      make(map[string]*Deal),
	}
}

// AddCategory registers a category at the end of the board.
func (b *Board) AddCategory(c Category) {
	cc := c
	cc.PipelineIDs = slices.Clone(c.PipelineIDs)
	if _, exists := b.Categories[c.ID]; !exists {
		b.CategoryIDs = append(b.CategoryIDs, c.ID)
	}
	b.Categories[c.ID] = &cc
}

// AddPipeline registers a pipeline and appends it to its category.
func (b *Board) AddPipeline(p Pipeline) error {
	cat, ok := b.Categories[p.CategoryID]
	if !ok {
		return fmt.Errorf("pipeline %q: %w: %s", p.ID, ErrCategoryNotFound, p.CategoryID)
	}
	pp := p
	pp.StageIDs = slices.Clone(p.StageIDs)
	if !slices.Contains(cat.PipelineIDs, p.ID) {
		cat.PipelineIDs = append(cat.PipelineIDs, p.ID)
	}
	b.Pipelines[p.ID] = &pp
	return nil
}

// AddStage registers a stage and appends it to its pipeline.
func (b *Board) AddStage(s Stage) error {
	pl, ok := b.Pipelines[s.PipelineID]
	if !ok {
		return fmt.Errorf("stage %q: %w: %s", s.ID, ErrPipelineNotFound, s.PipelineID)
	}
	ss := s
	ss.DealIDs = slices.Clone(s.DealIDs)
	if ss.Milestone == "" {
		ss.Milestone = MilestoneForLabel(ss.Name)
	}
	if !slices.Contains(pl.StageIDs, s.ID) {
		pl.StageIDs = append(pl.StageIDs, s.ID)
	}
	b.Stages[s.ID] = &ss
	return nil
}

// AddDeal places a deal at the end of its stage.
func (b *Board) AddDeal(d Deal) error {
	st, ok := b.Stages[d.StageID]
	if !ok {
		return fmt.Errorf("deal %q: %w: %s", d.ID, ErrStageNotFound, d.StageID)
	}
	if _, exists := b.Deals[d.ID]; exists {
		return fmt.Errorf("deal %q already on the board", d.ID)
	}
	dd := d
	dd.Position = len(st.DealIDs)
	st.DealIDs = append(st.DealIDs, d.ID)
	b.Deals[d.ID] = &dd
	return nil
}

// Clone returns a deep copy of the board.
func (b *Board) Clone() *Board {
	out := NewBoard()
	out.CategoryIDs = slices.Clone(b.CategoryIDs)
	for id, c := range b.Categories {
		cc := *c
		cc.PipelineIDs = slices.Clone(c.PipelineIDs)
		out.Categories[id] = &cc
	}
	for id, p := range b.Pipelines {
		pp := *p
		pp.StageIDs = slices.Clone(p.StageIDs)
		out.Pipelines[id] = &pp
	}
	for id, s := range b.Stages {
		ss := *s
		ss.DealIDs = slices.Clone(s.DealIDs)
		out.Stages[id] = &ss
	}
	for id, d := range b.Deals {
		dd := *d
		if d.LastPaymentDate != nil {
			t := *d.LastPaymentDate
			dd.LastPaymentDate = &t
		}
		out.Deals[id] = &dd
	}
	return out
}

// Deal returns the deal with the given ID.
func (b *Board) Deal(id string) (*Deal, error) {
	d, ok := b.Deals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDealNotFound, id)
	}
	return d, nil
}

// Stage returns the stage with the given ID.
func (b *Board) Stage(id string) (*Stage, error) {
	s, ok := b.Stages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStageNotFound, id)
	}
	return s, nil
}

// StageByName finds a stage by its exact display name. When pipelineID is
// non-empty the search is limited to that pipeline. If the name is not found
// the error carries the closest existing stage name as a hint.
func (b *Board) StageByName(pipelineID, name string) (*Stage, error) {
	var matches []*Stage
	var names []string
	for _, s := range b.Stages {
		if pipelineID != "" && s.PipelineID != pipelineID {
			continue
		}
		names = append(names, s.Name)
		if s.Name == name {
			matches = append(matches, s)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		if hint := closestName(name, names); hint != "" {
			return nil, fmt.Errorf("%w: %q (did you mean %q?)", ErrStageNotFound, name, hint)
		}
		return nil, fmt.Errorf("%w: %q", ErrStageNotFound, name)
	default:
		return nil, fmt.Errorf("%w: %q matches %d stages; pass a pipeline or stage ID", ErrAmbiguousStage, name, len(matches))
	}
}

// closestName returns the candidate with the smallest edit distance to name,
// or "" when nothing is reasonably close.
func closestName(name string, candidates []string) string {
	best := ""
	bestDist := -1
	sort.Strings(candidates)
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(c))
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	if best == "" {
		return ""
	}
	maxLen := len(name)
	if len(best) > maxLen {
		maxLen = len(best)
	}
	if maxLen == 0 || float64(bestDist)/float64(maxLen) >= 0.5 {
		return ""
	}
	return best
}

// PipelineStages returns the stages of a pipeline in order.
func (b *Board) PipelineStages(pipelineID string) ([]*Stage, error) {
	p, ok := b.Pipelines[pipelineID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, pipelineID)
	}
	out := make([]*Stage, 0, len(p.StageIDs))
	for _, id := range p.StageIDs {
		if s, ok := b.Stages[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// StageDeals returns the deals of a stage in order.
func (b *Board) StageDeals(stageID string) []*Deal {
	s, ok := b.Stages[stageID]
	if !ok {
		return nil
	}
	out := make([]*Deal, 0, len(s.DealIDs))
	for _, id := range s.DealIDs {
		if d, ok := b.Deals[id]; ok {
			out = append(out, d)
		}
	}
	return out
}

// MoveResult describes a completed move.
type MoveResult struct {
	DealID      string `json:"deal_id"`
	FromStageID string `json:"from_stage_id"`
	ToStageID   string `json:"to_stage_id"`
	Index       int    `json:"index"`
}

// Move relocates a deal into destStageID at index and returns the new board.
// The input board is not modified. A negative index, or one past the end,
// appends. Moving within the same stage reorders it.
func Move(b *Board, dealID, destStageID string, index int) (*Board, MoveResult, error) {
	if _, err := b.Deal(dealID); err != nil {
		return nil, MoveResult{}, err
	}
	if _, err := b.Stage(destStageID); err != nil {
		return nil, MoveResult{}, err
	}

	next := b.Clone()
	deal := next.Deals[dealID]
	src, ok := next.Stages[deal.StageID]
	if !ok {
		return nil, MoveResult{}, fmt.Errorf("%w: deal %q points at missing stage %q", ErrOwnership, dealID, deal.StageID)
	}
	dst := next.Stages[destStageID]

	at := slices.Index(src.DealIDs, dealID)
	if at < 0 {
		return nil, MoveResult{}, fmt.Errorf("%w: deal %q not listed in stage %q", ErrOwnership, dealID, src.ID)
	}
	src.DealIDs = slices.Delete(src.DealIDs, at, at+1)

	if index < 0 || index > len(dst.DealIDs) {
		index = len(dst.DealIDs)
	}
	dst.DealIDs = slices.Insert(dst.DealIDs, index, dealID)

	deal.StageID = dst.ID
	deal.UpdatedAt = timeNow().UTC()
	renumber(next, src)
	if dst != src {
		renumber(next, dst)
	}

	return next, MoveResult{
		DealID:      dealID,
		FromStageID: src.ID,
		ToStageID:   dst.ID,
		Index:       index,
	}, nil
}

// renumber rewrites deal positions to match the stage's order.
func renumber(b *Board, s *Stage) {
	for i, id := range s.DealIDs {
		if d, ok := b.Deals[id]; ok {
			d.Position = i
		}
	}
}

// Validate checks that every deal is listed in exactly one stage and that
// the deal's StageID agrees with that listing.
func (b *Board) Validate() error {
	owners := make(map[string]string, len(b.Deals))
	for _, s := range b.Stages {
		for _, id := range s.DealIDs {
			if prev, dup := owners[id]; dup {
				return fmt.Errorf("%w: deal %q listed in stages %q and %q", ErrOwnership, id, prev, s.ID)
			}
			owners[id] = s.ID
		}
	}
	for id, d := range b.Deals {
		owner, ok := owners[id]
		if !ok {
			return fmt.Errorf("%w: deal %q is not listed in any stage", ErrOwnership, id)
		}
		if owner != d.StageID {
			return fmt.Errorf("%w: deal %q listed in %q but points at %q", ErrOwnership, id, owner, d.StageID)
		}
	}
	for id := range owners {
		if _, ok := b.Deals[id]; !ok {
			return fmt.Errorf("%w: stage lists unknown deal %q", ErrOwnership, id)
		}
	}
	return nil
}
