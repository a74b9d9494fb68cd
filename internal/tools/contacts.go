package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/solarcrm/internal/crm"
	"github.com/HendryAvila/solarcrm/internal/pipeline"
	"github.com/mark3labs/mcp-go/mcp"
)

// CreateContactTool handles the crm_create_contact MCP tool.
type CreateContactTool struct {
	svc *crm.Service
}

// NewCreateContactTool creates a CreateContactTool.
func NewCreateContactTool(svc *crm.Service) *CreateContactTool {
	return &CreateContactTool{svc: svc}
}

// Definition returns the MCP tool definition for crm_create_contact.
func (t *CreateContactTool) Definition() mcp.Tool {
	return mcp.NewTool("crm_create_contact",
		mcp.WithDescription("Create a customer contact. Link it to deals with contact_id in crm_create_deal."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Full name"),
		),
		mcp.WithString("email", mcp.Description("Email address")),
		mcp.WithString("phone", mcp.Description("Phone number")),
		mcp.WithString("company", mcp.Description("Company")),
		mcp.WithString("address", mcp.Description("Installation address")),
	)
}

// Handle processes the crm_create_contact tool call.
func (t *CreateContactTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := strings.TrimSpace(req.GetString("name", ""))
	if name == "" {
		return mcp.NewToolResultError("'name' is required"), nil
	}
	email := strings.TrimSpace(req.GetString("email", ""))
	if email != "" && !strings.Contains(email, "@") {
		return mcp.NewToolResultError(fmt.Sprintf("'email' %q is not an email address", email)), nil
	}

	c, err := t.svc.CreateContact(ctx, pipeline.Contact{
		Name:    name,
		Email:   email,
		Phone:   req.GetString("phone", ""),
		Company: req.GetString("company", ""),
		Address: req.GetString("address", ""),
	})
	if err != nil {
		return result("creating contact", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Contact %q created (id: %s)", c.Name, c.ID)), nil
}

// ─── ListContactsTool ───────────────────────────────────────────────────────

// ListContactsTool handles the crm_list_contacts MCP tool.
type ListContactsTool struct {
	svc *crm.Service
}

// NewListContactsTool creates a ListContactsTool.
func NewListContactsTool(svc *crm.Service) *ListContactsTool {
	return &ListContactsTool{svc: svc}
}

// Definition returns the MCP tool definition for crm_list_contacts.
func (t *ListContactsTool) Definition() mcp.Tool {
	return mcp.NewTool("crm_list_contacts",
		mcp.WithDescription("List contacts, optionally filtered by name, email or company."),
		mcp.WithString("filter",
			mcp.Description("Substring to match"),
		),
	)
}

// Handle processes the crm_list_contacts tool call.
func (t *ListContactsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := t.svc.ListContacts(ctx, req.GetString("filter", ""))
	if err != nil {
		return result("listing contacts", err)
	}
	if len(list) == 0 {
		return mcp.NewToolResultText("No contacts found."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d contacts:\n\n", len(list))
	for _, c := range list {
		fmt.Fprintf(&b, "- %s (id: %s)", c.Name, c.ID)
		for _, extra := range []string{c.Company, c.Email, c.Phone} {
			if extra != "" {
				fmt.Fprintf(&b, " | %s", extra)
			}
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}
