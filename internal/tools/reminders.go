package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/HendryAvila/solarcrm/internal/crm"
	"github.com/HendryAvila/solarcrm/internal/pipeline"
	"github.com/mark3labs/mcp-go/mcp"
)

// ListRemindersTool handles the crm_list_reminders MCP tool.
type ListRemindersTool struct {
	svc *crm.Service
}

// NewListRemindersTool creates a ListRemindersTool.
func NewListRemindersTool(svc *crm.Service) *ListRemindersTool {
	return &ListRemindersTool{svc: svc}
}

// Definition returns the MCP tool definition for crm_list_reminders.
func (t *ListRemindersTool) Definition() mcp.Tool {
	return mcp.NewTool("crm_list_reminders",
		mcp.WithDescription("List follow-up reminders, e.g. the 5-day check after a grid request."),
		mcp.WithString("status",
			mcp.Description("Filter by status: pending, delivered, cancelled (default: all)"),
		),
		mcp.WithString("deal_id",
			mcp.Description("Only reminders of this deal"),
		),
	)
}

// Handle processes the crm_list_reminders tool call.
func (t *ListRemindersTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := pipeline.ReminderStatus(req.GetString("status", ""))
	switch status {
	case "", pipeline.ReminderPending, pipeline.ReminderDelivered, pipeline.ReminderCancelled:
	default:
		return mcp.NewToolResultError(fmt.Sprintf(
			"invalid status %q: must be pending, delivered or cancelled", status)), nil
	}

	list, err := t.svc.ListReminders(ctx, status, req.GetString("deal_id", ""))
	if err != nil {
		return result("listing reminders", err)
	}
	if len(list) == 0 {
		return mcp.NewToolResultText("No reminders found."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d reminders:\n\n", len(list))
	for _, r := range list {
		fmt.Fprintf(&b, "- [%s] due %s | deal %s | %s (id: %s)\n",
			r.Status, r.DueAt.Format("2006-01-02 15:04"), r.DealID, r.Message, r.ID)
	}
	return mcp.NewToolResultText(b.String()), nil
}

// ─── ScheduleReminderTool ───────────────────────────────────────────────────

// ScheduleReminderTool handles the crm_schedule_reminder MCP tool.
type ScheduleReminderTool struct {
	svc *crm.Service
}

// NewScheduleReminderTool creates a ScheduleReminderTool.
func NewScheduleReminderTool(svc *crm.Service) *ScheduleReminderTool {
	return &ScheduleReminderTool{svc: svc}
}

// Definition returns the MCP tool definition for crm_schedule_reminder.
func (t *ScheduleReminderTool) Definition() mcp.Tool {
	return mcp.NewTool("crm_schedule_reminder",
		mcp.WithDescription("Schedule a manual follow-up reminder for a deal, or cancel a pending one."),
		mcp.WithString("deal_id",
			mcp.Description("Deal ID (required when scheduling)"),
		),
		mcp.WithString("message",
			mcp.Description("What to follow up on (required when scheduling)"),
		),
		mcp.WithString("after",
			mcp.Description("Delay as a Go duration, e.g. '48h' or '30m' (default: the configured reminder delay)"),
		),
		mcp.WithString("cancel_id",
			mcp.Description("Cancel this pending reminder instead of scheduling"),
		),
	)
}

// Handle processes the crm_schedule_reminder tool call.
func (t *ScheduleReminderTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if id := req.GetString("cancel_id", ""); id != "" {
		if err := t.svc.CancelReminder(ctx, id); err != nil {
			return result("cancelling reminder", err)
		}
		return mcp.NewToolResultText(fmt.Sprintf("Reminder %s cancelled.", id)), nil
	}

	dealID := req.GetString("deal_id", "")
	if dealID == "" {
		return mcp.NewToolResultError("'deal_id' is required"), nil
	}
	message := strings.TrimSpace(req.GetString("message", ""))
	if message == "" {
		return mcp.NewToolResultError("'message' is required"), nil
	}
	var after time.Duration
	if s := req.GetString("after", ""); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return mcp.NewToolResultError(fmt.Sprintf("'after' must be a positive duration like '48h', got %q", s)), nil
		}
		after = d
	}

	r, err := t.svc.ScheduleReminder(ctx, dealID, message, after)
	if err != nil {
		return result("scheduling reminder", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Reminder scheduled for %s (id: %s)",
		r.DueAt.Format("2006-01-02 15:04"), r.ID)), nil
}
