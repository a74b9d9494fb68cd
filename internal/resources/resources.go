// Package resources implements MCP resource handlers for the CRM.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (crm://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/HendryAvila/solarcrm/internal/crm"
	"github.com/HendryAvila/solarcrm/internal/pipeline"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	// BoardURI addresses the board snapshot.
	BoardURI = "crm://board"
	// RemindersURI addresses the pending reminders.
	RemindersURI = "crm://reminders/pending"
)

// Handler manages CRM resource endpoints.
type Handler struct {
	svc *crm.Service
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(svc *crm.Service) *Handler {
	return &Handler{svc: svc}
}

// BoardResource returns the MCP resource definition for the board.
func (h *Handler) BoardResource() mcp.Resource {
	return mcp.NewResource(
		BoardURI,
		"Deal board",
		mcp.WithResourceDescription("Pipelines, stages and deals with invoiced and paid totals (amounts in cents)"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleBoard returns the board summary as JSON.
func (h *Handler) HandleBoard(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	sum, err := h.svc.Summarize(ctx)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	return jsonResource(req.Params.URI, sum)
}

// RemindersResource returns the MCP resource definition for pending reminders.
func (h *Handler) RemindersResource() mcp.Resource {
	return mcp.NewResource(
		RemindersURI,
		"Pending reminders",
		mcp.WithResourceDescription("Follow-up reminders that have not been delivered yet"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleReminders returns the pending reminders as JSON.
func (h *Handler) HandleReminders(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	list, err := h.svc.ListReminders(ctx, pipeline.ReminderPending, "")
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	if list == nil {
		list = []pipeline.Reminder{}
	}
	return jsonResource(req.Params.URI, list)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
