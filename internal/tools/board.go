package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/solarcrm/internal/config"
	"github.com/HendryAvila/solarcrm/internal/crm"
	"github.com/HendryAvila/solarcrm/internal/pipeline"
	"github.com/mark3labs/mcp-go/mcp"
)

// BoardTool handles the crm_board MCP tool.
type BoardTool struct {
	svc *crm.Service
}

// NewBoardTool creates a BoardTool.
func NewBoardTool(svc *crm.Service) *BoardTool {
	return &BoardTool{svc: svc}
}

// Definition returns the MCP tool definition for crm_board.
func (t *BoardTool) Definition() mcp.Tool {
	return mcp.NewTool("crm_board",
		mcp.WithDescription(
			"Show the deal board: every pipeline with its stages, the deals in each stage "+
				"and the invoiced/paid totals. Call this first to find deal and stage IDs.",
		),
		mcp.WithString("pipeline_id",
			mcp.Description("Only show this pipeline"),
		),
	)
}

// Handle processes the crm_board tool call.
func (t *BoardTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	only := req.GetString("pipeline_id", "")

	sum, err := t.svc.Summarize(ctx)
	if err != nil {
		return nil, fmt.Errorf("summarizing board: %w", err)
	}
	if len(sum.Pipelines) == 0 {
		return mcp.NewToolResultText("The board is empty. Create a pipeline with crm_create_pipeline."), nil
	}

	m := money{currency: sum.Currency}
	var b strings.Builder
	shown := 0
	for _, p := range sum.Pipelines {
		if only != "" && p.ID != only {
			continue
		}
		shown++
		fmt.Fprintf(&b, "## %s / %s (id: %s)\n\n", p.Category, p.Name, p.ID)
		for _, st := range p.Stages {
			fmt.Fprintf(&b, "### %s (id: %s) | %d deals | %s\n",
				stageLabel(st.StageRef), st.ID, len(st.Deals), m.format(st.Value))
			for _, d := range st.Deals {
				fmt.Fprintf(&b, "- %s (id: %s) | value %s | invoiced %s | paid %s\n",
					d.Name, d.ID, m.format(d.Value),
					m.format(d.PaymentStatus.Invoiced), m.format(d.PaymentStatus.Paid))
			}
			b.WriteString("\n")
		}
	}
	if shown == 0 {
		return mcp.NewToolResultError(fmt.Sprintf("pipeline %q not found", only)), nil
	}

	fmt.Fprintf(&b, "**Total**: %d deals | value %s | invoiced %s | paid %s | outstanding %s | %d pending reminders\n",
		sum.Deals, m.format(sum.Value), m.format(sum.Invoiced), m.format(sum.Paid),
		m.format(sum.Outstanding), sum.PendingReminders)

	return mcp.NewToolResultText(b.String()), nil
}

// ─── CreatePipelineTool ─────────────────────────────────────────────────────

// CreatePipelineTool handles the crm_create_pipeline MCP tool.
type CreatePipelineTool struct {
	svc *crm.Service
}

// NewCreatePipelineTool creates a CreatePipelineTool.
func NewCreatePipelineTool(svc *crm.Service) *CreatePipelineTool {
	return &CreatePipelineTool{svc: svc}
}

// Definition returns the MCP tool definition for crm_create_pipeline.
func (t *CreatePipelineTool) Definition() mcp.Tool {
	return mcp.NewTool("crm_create_pipeline",
		mcp.WithDescription(
			"Create a pipeline with ordered stages in a category (the category is created if needed). "+
				"Stages named Netzanfrage, Netzbestätigung, Warenversand or Montage abgeschlossen "+
				"trigger invoicing milestones when a deal is moved into them.",
		),
		mcp.WithString("category",
			mcp.Required(),
			mcp.Description("Category name, e.g. 'Photovoltaik'"),
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Pipeline name, e.g. 'PV-Anlagen'"),
		),
		mcp.WithArray("stages",
			mcp.Required(),
			mcp.Description("Stage names in board order"),
			mcp.WithStringItems(),
		),
		mcp.WithObject("milestones",
			mcp.Description("Optional map of stage name to milestone tag ("+milestoneTags+") "+
				"for stages whose name does not imply the milestone, e.g. {\"Lieferung\": \"shipment\"}"),
		),
	)
}

// Handle processes the crm_create_pipeline tool call.
func (t *CreatePipelineTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category := strings.TrimSpace(req.GetString("category", ""))
	name := strings.TrimSpace(req.GetString("name", ""))
	if category == "" {
		return mcp.NewToolResultError("'category' is required"), nil
	}
	if name == "" {
		return mcp.NewToolResultError("'name' is required"), nil
	}
	stages := stringList(req, "stages")
	if len(stages) == 0 {
		return mcp.NewToolResultError("'stages' must list at least one stage"), nil
	}

	tags, ok := milestoneMap(req, "milestones")
	if !ok {
		return mcp.NewToolResultError("'milestones' must map stage names to milestone tags"), nil
	}
	tmpl := config.PipelineTemplate{Name: name, Stages: config.Stages(stages...)}
	for i := range tmpl.Stages {
		if m, ok := tags[tmpl.Stages[i].Name]; ok {
			tmpl.Stages[i].Milestone = m
			delete(tags, tmpl.Stages[i].Name)
		}
	}
	for stage := range tags {
		return mcp.NewToolResultError(fmt.Sprintf("'milestones' names stage %q, which is not in 'stages'", stage)), nil
	}
	check := config.Templates{Categories: []config.CategoryTemplate{{
		Name: category, Pipelines: []config.PipelineTemplate{tmpl},
	}}}
	if err := check.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	p, created, err := t.svc.CreatePipelineFromTemplate(ctx, category, tmpl)
	if err != nil {
		return result("creating pipeline", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Pipeline %q created in %q (id: %s)\n\n", p.Name, category, p.ID)
	for i, st := range created {
		fmt.Fprintf(&b, "%d. %s (id: %s)", i+1, st.Name, st.ID)
		if rule, ok := pipeline.RuleFor(st.Milestone); ok {
			fmt.Fprintf(&b, " | milestone %s: %s", st.Milestone, rule.Describe())
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

// stringList reads an array argument, or a comma-separated string.
func stringList(req mcp.CallToolRequest, key string) []string {
	switch v := req.GetArguments()[key].(type) {
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case []string:
		return v
	case string:
		return splitList(v)
	default:
		return nil
	}
}

const milestoneTags = "none, grid_request, grid_approval, shipment, installation_complete"

// milestoneMap reads an object argument of string values. A missing
// argument is an empty map.
func milestoneMap(req mcp.CallToolRequest, key string) (map[string]string, bool) {
	raw, present := req.GetArguments()[key]
	if !present || raw == nil {
		return map[string]string{}, true
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		str, ok := v.(string)
		if !ok {
			return nil, false
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(str)
	}
	return out, true
}

// ─── UpdateStageTool ────────────────────────────────────────────────────────

// UpdateStageTool handles the crm_update_stage MCP tool.
type UpdateStageTool struct {
	svc *crm.Service
}

// NewUpdateStageTool creates an UpdateStageTool.
func NewUpdateStageTool(svc *crm.Service) *UpdateStageTool {
	return &UpdateStageTool{svc: svc}
}

// Definition returns the MCP tool definition for crm_update_stage.
func (t *UpdateStageTool) Definition() mcp.Tool {
	return mcp.NewTool("crm_update_stage",
		mcp.WithDescription(
			"Rename a stage and/or change its milestone. Renaming keeps the milestone, so a "+
				"stage renamed from Netzanfrage still invoices 10%. Deals already in or past the "+
				"stage are not re-invoiced.",
		),
		mcp.WithString("stage_id",
			mcp.Required(),
			mcp.Description("Stage ID (see crm_board)"),
		),
		mcp.WithString("name",
			mcp.Description("New display name"),
		),
		mcp.WithString("milestone",
			mcp.Description("New milestone tag: "+milestoneTags),
		),
	)
}

// Handle processes the crm_update_stage tool call.
func (t *UpdateStageTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stageID := strings.TrimSpace(req.GetString("stage_id", ""))
	name := strings.TrimSpace(req.GetString("name", ""))
	milestone := strings.TrimSpace(req.GetString("milestone", ""))
	if stageID == "" {
		return mcp.NewToolResultError("'stage_id' is required"), nil
	}
	if name == "" && milestone == "" {
		return mcp.NewToolResultError("give a new 'name', a 'milestone', or both"), nil
	}
	if milestone != "" {
		if err := pipeline.ValidateMilestone(pipeline.Milestone(milestone)); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	if name != "" {
		if err := t.svc.RenameStage(ctx, stageID, name); err != nil {
			return result("renaming stage", err)
		}
	}
	if milestone != "" {
		if err := t.svc.SetStageMilestone(ctx, stageID, pipeline.Milestone(milestone)); err != nil {
			return result("setting milestone", err)
		}
	}

	b, err := t.svc.Board(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading board: %w", err)
	}
	st, err := b.Stage(stageID)
	if err != nil {
		return result("loading stage", err)
	}
	msg := fmt.Sprintf("Stage %s updated: %s", st.ID, stageLabel(crm.StageRef{ID: st.ID, Name: st.Name, Milestone: st.Milestone}))
	if rule, ok := pipeline.RuleFor(st.Milestone); ok {
		msg += "\n" + rule.Describe()
	}
	return mcp.NewToolResultText(msg), nil
}
