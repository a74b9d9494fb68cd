package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/solarcrm/internal/crm"
	"github.com/HendryAvila/solarcrm/internal/pipeline"
	"github.com/mark3labs/mcp-go/mcp"
)

// CreateDealTool handles the crm_create_deal MCP tool.
type CreateDealTool struct {
	svc *crm.Service
}

// NewCreateDealTool creates a CreateDealTool.
func NewCreateDealTool(svc *crm.Service) *CreateDealTool {
	return &CreateDealTool{svc: svc}
}

// Definition returns the MCP tool definition for crm_create_deal.
func (t *CreateDealTool) Definition() mcp.Tool {
	return mcp.NewTool("crm_create_deal",
		mcp.WithDescription(
			"Create a deal at the end of a stage. Creating a deal never triggers a milestone; "+
				"use crm_move_deal for that.",
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Deal name, e.g. 'PV Dach Müller 12 kWp'"),
		),
		mcp.WithNumber("value",
			mcp.Required(),
			mcp.Description("Deal value in currency units, e.g. 18500.00"),
		),
		mcp.WithString("stage_id",
			mcp.Description("Stage ID (preferred)"),
		),
		mcp.WithString("stage_name",
			mcp.Description("Stage name, used when stage_id is empty"),
		),
		mcp.WithString("pipeline_id",
			mcp.Description("Pipeline to look stage_name up in (required when the name exists in several pipelines)"),
		),
		mcp.WithString("contact_id",
			mcp.Description("Contact this deal belongs to"),
		),
		mcp.WithString("status",
			mcp.Description("Free-form status label"),
		),
	)
}

// Handle processes the crm_create_deal tool call.
func (t *CreateDealTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := strings.TrimSpace(req.GetString("name", ""))
	if name == "" {
		return mcp.NewToolResultError("'name' is required"), nil
	}
	value, ok := moneyArg(req, "value")
	if !ok {
		return mcp.NewToolResultError("'value' is required and must be a number"), nil
	}
	if value < 0 {
		return mcp.NewToolResultError("'value' must not be negative"), nil
	}
	nd := crm.NewDeal{
		Name:       name,
		Value:      value,
		ContactID:  req.GetString("contact_id", ""),
		Status:     req.GetString("status", ""),
		StageID:    req.GetString("stage_id", ""),
		StageName:  req.GetString("stage_name", ""),
		PipelineID: req.GetString("pipeline_id", ""),
	}
	if nd.StageID == "" && nd.StageName == "" {
		return mcp.NewToolResultError("'stage_id' or 'stage_name' is required"), nil
	}

	d, err := t.svc.CreateDeal(ctx, nd)
	if err != nil {
		return result("creating deal", err)
	}

	m := money{currency: t.svc.Currency()}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Deal %q created (id: %s)\nValue: %s\nStage: %s, position %d",
		d.Name, d.ID, m.format(d.Value), d.StageID, d.Position,
	)), nil
}

// ─── GetDealTool ────────────────────────────────────────────────────────────

// GetDealTool handles the crm_get_deal MCP tool.
type GetDealTool struct {
	svc *crm.Service
}

// NewGetDealTool creates a GetDealTool.
func NewGetDealTool(svc *crm.Service) *GetDealTool {
	return &GetDealTool{svc: svc}
}

// Definition returns the MCP tool definition for crm_get_deal.
func (t *GetDealTool) Definition() mcp.Tool {
	return mcp.NewTool("crm_get_deal",
		mcp.WithDescription("Show a deal with its contact, invoices, payments, reminders and notes."),
		mcp.WithString("deal_id",
			mcp.Required(),
			mcp.Description("Deal ID"),
		),
	)
}

// Handle processes the crm_get_deal tool call.
func (t *GetDealTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("deal_id", "")
	if id == "" {
		return mcp.NewToolResultError("'deal_id' is required"), nil
	}

	detail, err := t.svc.GetDeal(ctx, id)
	if err != nil {
		return result("loading deal", err)
	}

	m := money{currency: t.svc.Currency()}
	d := detail.Deal
	var b strings.Builder
	fmt.Fprintf(&b, "## %s (id: %s)\n\n", d.Name, d.ID)
	fmt.Fprintf(&b, "- **Stage**: %s, position %d\n", stageLabel(detail.Stage), d.Position)
	fmt.Fprintf(&b, "- **Value**: %s\n", m.format(d.Value))
	fmt.Fprintf(&b, "- **Invoiced**: %s\n", m.format(d.PaymentStatus.Invoiced))
	fmt.Fprintf(&b, "- **Paid**: %s (last payment %s)\n", m.format(d.PaymentStatus.Paid), shortDate(d))
	if d.Status != "" {
		fmt.Fprintf(&b, "- **Status**: %s\n", d.Status)
	}
	if c := detail.Contact; c != nil {
		fmt.Fprintf(&b, "- **Contact**: %s", c.Name)
		if c.Email != "" {
			fmt.Fprintf(&b, " <%s>", c.Email)
		}
		if c.Phone != "" {
			fmt.Fprintf(&b, ", %s", c.Phone)
		}
		b.WriteString("\n")
	}

	if len(detail.Invoices) > 0 {
		b.WriteString("\n### Invoices\n")
		for _, inv := range detail.Invoices {
			fmt.Fprintf(&b, "- %s %s: %d%% (%s) = %s\n",
				inv.CreatedAt.Format("2006-01-02"), inv.Milestone, inv.Percent, inv.Kind, m.format(inv.Amount))
		}
	}
	if len(detail.Payments) > 0 {
		b.WriteString("\n### Payments\n")
		for _, p := range detail.Payments {
			fmt.Fprintf(&b, "- %s: %s", p.PaidAt.Format("2006-01-02"), m.format(p.Amount))
			if p.Note != "" {
				fmt.Fprintf(&b, " (%s)", p.Note)
			}
			b.WriteString("\n")
		}
	}
	if len(detail.Reminders) > 0 {
		b.WriteString("\n### Reminders\n")
		for _, r := range detail.Reminders {
			fmt.Fprintf(&b, "- [%s] due %s: %s\n", r.Status, r.DueAt.Format("2006-01-02 15:04"), r.Message)
		}
	}
	if len(detail.Notes) > 0 {
		b.WriteString("\n### Notes\n")
		for _, n := range detail.Notes {
			fmt.Fprintf(&b, "- #%d %s: %s\n", n.ID, n.CreatedAt.Format("2006-01-02"), n.Body)
		}
	}

	return mcp.NewToolResultText(b.String()), nil
}

// ─── MoveDealTool ───────────────────────────────────────────────────────────

// MoveDealTool handles the crm_move_deal MCP tool.
type MoveDealTool struct {
	svc *crm.Service
}

// NewMoveDealTool creates a MoveDealTool.
func NewMoveDealTool(svc *crm.Service) *MoveDealTool {
	return &MoveDealTool{svc: svc}
}

// Definition returns the MCP tool definition for crm_move_deal.
func (t *MoveDealTool) Definition() mcp.Tool {
	return mcp.NewTool("crm_move_deal",
		mcp.WithDescription(
			"Move a deal to a stage. The move always happens. If the destination is a milestone stage, "+
				"its questions must be answered by the USER before calling: ask them, then pass their "+
				"answers in order via 'answers' (or 'confirm' for all). Unanswered questions count as 'no' "+
				"and nothing is invoiced.\n\n"+milestoneHelp(),
		),
		mcp.WithString("deal_id",
			mcp.Required(),
			mcp.Description("Deal ID"),
		),
		mcp.WithString("stage_id",
			mcp.Description("Destination stage ID (preferred)"),
		),
		mcp.WithString("stage_name",
			mcp.Description("Destination stage name, looked up in the deal's pipeline unless pipeline_id is set"),
		),
		mcp.WithString("pipeline_id",
			mcp.Description("Pipeline to look stage_name up in"),
		),
		mcp.WithNumber("index",
			mcp.Description("Position in the destination stage, 0 = top (default: append)"),
		),
		mcp.WithBoolean("confirm",
			mcp.Description("Answer to every milestone question, and the default for questions not covered by 'answers'"),
		),
		mcp.WithString("answers",
			mcp.Description("The user's answers in question order, comma-separated, e.g. 'yes,no'"),
		),
	)
}

// milestoneHelp lists the questions asked per milestone stage.
func milestoneHelp() string {
	var b strings.Builder
	b.WriteString("Milestone questions:\n")
	for _, ms := range []pipeline.Milestone{
		pipeline.MilestoneGridRequest,
		pipeline.MilestoneGridApproval,
		pipeline.MilestoneShipment,
		pipeline.MilestoneInstallationComplete,
	} {
		rule, _ := pipeline.RuleFor(ms)
		qs := make([]string, len(rule.Prompts))
		for i, p := range rule.Prompts {
			qs[i] = fmt.Sprintf("(%d) %s", i+1, p.Question)
		}
		fmt.Fprintf(&b, "- %s: %s -> %s\n", ms, strings.Join(qs, " "), rule.Describe())
	}
	return b.String()
}

// confirmerFor builds the confirmer from the call arguments. It reports
// false when the caller gave no answers at all.
func confirmerFor(req mcp.CallToolRequest) (pipeline.Confirmer, bool) {
	confirm, hasConfirm := boolArg(req, "confirm")
	answers := req.GetString("answers", "")
	if answers != "" {
		return &pipeline.AnswerSet{Sequence: pipeline.ParseAnswers(answers), Default: confirm}, true
	}
	if hasConfirm {
		return pipeline.Always(confirm), true
	}
	return pipeline.Always(false), false
}

// Handle processes the crm_move_deal tool call.
func (t *MoveDealTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dealID := req.GetString("deal_id", "")
	if dealID == "" {
		return mcp.NewToolResultError("'deal_id' is required"), nil
	}
	stageID := req.GetString("stage_id", "")
	stageName := req.GetString("stage_name", "")
	if stageID == "" && stageName == "" {
		return mcp.NewToolResultError("'stage_id' or 'stage_name' is required"), nil
	}

	confirmer, answered := confirmerFor(req)
	rep, err := t.svc.MoveDeal(ctx, crm.MoveRequest{
		DealID:     dealID,
		StageID:    stageID,
		StageName:  stageName,
		PipelineID: req.GetString("pipeline_id", ""),
		Index:      intArg(req, "index", -1),
		Confirmer:  confirmer,
	})
	if err != nil {
		return result("moving deal", err)
	}

	return mcp.NewToolResultText(formatMoveReport(rep, money{currency: t.svc.Currency()}, answered)), nil
}

func formatMoveReport(rep *crm.MoveReport, m money, answered bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Deal %q moved: %s -> %s (position %d)\n",
		rep.Deal.Name, stageLabel(rep.From), stageLabel(rep.To), rep.Index)

	if len(rep.Answers) == 0 {
		b.WriteString("No milestone on this stage; payment status unchanged.\n")
		return b.String()
	}

	b.WriteString("\n### Milestone\n")
	for _, a := range rep.Answers {
		mark := "no"
		if a.Accepted {
			mark = "yes"
		}
		fmt.Fprintf(&b, "- %s -> %s\n", a.Prompt.Question, mark)
	}
	if !rep.Confirmed {
		b.WriteString("\nDeclined: the deal was moved but nothing was invoiced.\n")
		if !answered {
			b.WriteString("No answers were given. Ask the user the questions above before moving deals into milestone stages.\n")
		}
		return b.String()
	}

	fmt.Fprintf(&b, "\nInvoiced: %s -> %s (value %s)\n",
		m.format(rep.InvoicedBefore), m.format(rep.InvoicedAfter), m.format(rep.Deal.Value))
	for _, inv := range rep.Invoices {
		fmt.Fprintf(&b, "- Invoice %s: %d%% (%s) = %s\n", inv.ID, inv.Percent, inv.Kind, m.format(inv.Amount))
	}
	for _, r := range rep.Reminders {
		fmt.Fprintf(&b, "- Reminder due %s: %s\n", r.DueAt.Format("2006-01-02 15:04"), r.Message)
	}
	for _, ev := range rep.Events {
		if ev.Kind == pipeline.EventDealMoved || ev.Kind == pipeline.EventInvoiceIssued {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", ev.Message)
	}
	if len(rep.PublishErrors) > 0 {
		b.WriteString("\nWARNING: some notifications could not be published:\n")
		for _, e := range rep.PublishErrors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	return b.String()
}
