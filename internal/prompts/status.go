package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the crm-status MCP prompt.
// It instructs the AI to summarize the board and what needs attention.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("crm-status",
		mcp.WithPromptDescription(
			"Check the state of the deal board: deals per stage, "+
				"open amounts and follow-ups that are due.",
		),
	)
}

// Handle processes the crm-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "CRM status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please run `crm_board` and `crm_list_reminders` with status=pending.\n\n" +
						"Then:\n" +
						"1. Show me how many deals are in each stage and their value\n" +
						"2. List the deals with outstanding amounts (invoiced but not paid)\n" +
						"3. List reminders that are due or overdue\n" +
						"4. Suggest which deal I should move forward next",
				),
			},
		},
	}, nil
}
