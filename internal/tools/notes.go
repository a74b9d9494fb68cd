package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/solarcrm/internal/crm"
	"github.com/mark3labs/mcp-go/mcp"
)

// AddNoteTool handles the crm_add_note MCP tool.
type AddNoteTool struct {
	svc *crm.Service
}

// NewAddNoteTool creates an AddNoteTool.
func NewAddNoteTool(svc *crm.Service) *AddNoteTool {
	return &AddNoteTool{svc: svc}
}

// Definition returns the MCP tool definition for crm_add_note.
func (t *AddNoteTool) Definition() mcp.Tool {
	return mcp.NewTool("crm_add_note",
		mcp.WithDescription("Attach a free-text note to a deal or a contact, e.g. site visit findings."),
		mcp.WithString("body",
			mcp.Required(),
			mcp.Description("Note text"),
		),
		mcp.WithString("deal_id", mcp.Description("Deal the note belongs to")),
		mcp.WithString("contact_id", mcp.Description("Contact the note belongs to")),
	)
}

// Handle processes the crm_add_note tool call.
func (t *AddNoteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	body := strings.TrimSpace(req.GetString("body", ""))
	if body == "" {
		return mcp.NewToolResultError("'body' is required"), nil
	}
	dealID := req.GetString("deal_id", "")
	contactID := req.GetString("contact_id", "")
	if dealID == "" && contactID == "" {
		return mcp.NewToolResultError("'deal_id' or 'contact_id' is required"), nil
	}

	n, err := t.svc.AddNote(ctx, dealID, contactID, body)
	if err != nil {
		return result("adding note", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Note saved (ID: %d)", n.ID)), nil
}

// ─── SearchNotesTool ────────────────────────────────────────────────────────

// SearchNotesTool handles the crm_search_notes MCP tool.
type SearchNotesTool struct {
	svc *crm.Service
}

// NewSearchNotesTool creates a SearchNotesTool.
func NewSearchNotesTool(svc *crm.Service) *SearchNotesTool {
	return &SearchNotesTool{svc: svc}
}

// Definition returns the MCP tool definition for crm_search_notes.
func (t *SearchNotesTool) Definition() mcp.Tool {
	return mcp.NewTool("crm_search_notes",
		mcp.WithDescription("Full-text search over notes."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search words"),
		),
		mcp.WithString("deal_id", mcp.Description("Only notes of this deal")),
		mcp.WithNumber("limit", mcp.Description("Max results (default: 10, max: 20)")),
	)
}

// Handle processes the crm_search_notes tool call.
func (t *SearchNotesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if strings.Trim(query, "\" \t\n") == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}

	notes, err := t.svc.SearchNotes(ctx, query, req.GetString("deal_id", ""), intArg(req, "limit", 10))
	if err != nil {
		return result("searching notes", err)
	}
	if len(notes) == 0 {
		return mcp.NewToolResultText("No notes found matching your query."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d notes:\n\n", len(notes))
	for i, n := range notes {
		owner := "deal " + n.DealID
		if n.DealID == "" {
			owner = "contact " + n.ContactID
		}
		fmt.Fprintf(&b, "[%d] #%d %s (%s)\n    %s\n\n", i+1, n.ID, n.CreatedAt.Format("2006-01-02"), owner, n.Body)
	}
	return mcp.NewToolResultText(b.String()), nil
}
