// Package prompts implements MCP prompt handlers for the CRM.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StartPrompt handles the crm-start MCP prompt.
// It walks the user through setting up a first customer and deal.
type StartPrompt struct{}

// NewStartPrompt creates a StartPrompt.
func NewStartPrompt() *StartPrompt {
	return &StartPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StartPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("crm-start",
		mcp.WithPromptDescription(
			"Start working with the solar CRM: review the pipelines, "+
				"add a customer and put their first deal on the board.",
		),
		mcp.WithArgument("customer",
			mcp.ArgumentDescription("Name of the customer to add first"),
		),
	)
}

// Handle processes the crm-start prompt request.
func (p *StartPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	customer := ""
	if args := req.Params.Arguments; args != nil {
		customer = args["customer"]
	}

	ask := "ask me for the customer's name, email, phone and installation address"
	if customer != "" {
		ask = fmt.Sprintf("ask me for the email, phone and installation address of '%s'", customer)
	}

	return &mcp.GetPromptResult{
		Description: "Start the solar CRM",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want to track a new solar customer.\n\n"+
						"Please:\n"+
						"1. Run `crm_board` and show me the pipelines and their stages\n"+
						"2. If the board is empty, offer to create a pipeline with `crm_create_pipeline`\n"+
						"3. %s, then run `crm_create_contact`\n"+
						"4. Ask me for the deal name and value and create it with `crm_create_deal` in the first stage of the chosen pipeline (pass its `pipeline_id`)\n"+
						"5. Explain which stages trigger invoices (Netzanfrage, Netzbestätigung, Warenversand, "+
						"Montage abgeschlossen) and that you will ask me before invoicing",
					ask,
				)),
			},
		},
	}, nil
}
