package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/solarcrm/internal/crm"
	"github.com/mark3labs/mcp-go/mcp"
)

// RecordPaymentTool handles the crm_record_payment MCP tool.
type RecordPaymentTool struct {
	svc *crm.Service
}

// NewRecordPaymentTool creates a RecordPaymentTool.
func NewRecordPaymentTool(svc *crm.Service) *RecordPaymentTool {
	return &RecordPaymentTool{svc: svc}
}

// Definition returns the MCP tool definition for crm_record_payment.
func (t *RecordPaymentTool) Definition() mcp.Tool {
	return mcp.NewTool("crm_record_payment",
		mcp.WithDescription("Record a payment received for a deal. Increases the paid amount and sets the last payment date."),
		mcp.WithString("deal_id",
			mcp.Required(),
			mcp.Description("Deal ID"),
		),
		mcp.WithNumber("amount",
			mcp.Required(),
			mcp.Description("Amount received in currency units, e.g. 1850.00"),
		),
		mcp.WithString("note",
			mcp.Description("Optional reference, e.g. bank transfer ID"),
		),
	)
}

// Handle processes the crm_record_payment tool call.
func (t *RecordPaymentTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dealID := req.GetString("deal_id", "")
	if dealID == "" {
		return mcp.NewToolResultError("'deal_id' is required"), nil
	}
	amount, ok := moneyArg(req, "amount")
	if !ok {
		return mcp.NewToolResultError("'amount' is required and must be a number"), nil
	}

	d, _, err := t.svc.RecordPayment(ctx, dealID, amount, req.GetString("note", ""))
	if err != nil {
		return result("recording payment", err)
	}

	m := money{currency: t.svc.Currency()}
	response := fmt.Sprintf("Payment of %s recorded for %q.\nPaid: %s of %s invoiced (value %s)",
		m.format(amount), d.Name,
		m.format(d.PaymentStatus.Paid), m.format(d.PaymentStatus.Invoiced), m.format(d.Value))
	if d.PaymentStatus.Paid > d.PaymentStatus.Invoiced {
		response += "\nNote: the deal is now paid beyond its invoiced amount."
	}
	return mcp.NewToolResultText(response), nil
}

// ─── ListInvoicesTool ───────────────────────────────────────────────────────

// ListInvoicesTool handles the crm_list_invoices MCP tool.
type ListInvoicesTool struct {
	svc *crm.Service
}

// NewListInvoicesTool creates a ListInvoicesTool.
func NewListInvoicesTool(svc *crm.Service) *ListInvoicesTool {
	return &ListInvoicesTool{svc: svc}
}

// Definition returns the MCP tool definition for crm_list_invoices.
func (t *ListInvoicesTool) Definition() mcp.Tool {
	return mcp.NewTool("crm_list_invoices",
		mcp.WithDescription("List invoices issued by milestones, for one deal or for all deals."),
		mcp.WithString("deal_id",
			mcp.Description("Only invoices of this deal"),
		),
	)
}

// Handle processes the crm_list_invoices tool call.
func (t *ListInvoicesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	invoices, err := t.svc.ListInvoices(ctx, req.GetString("deal_id", ""))
	if err != nil {
		return result("listing invoices", err)
	}
	if len(invoices) == 0 {
		return mcp.NewToolResultText("No invoices found."), nil
	}

	m := money{currency: t.svc.Currency()}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d invoices:\n\n", len(invoices))
	for _, inv := range invoices {
		fmt.Fprintf(&b, "- %s | deal %s | %s %d%% (%s) | %s\n",
			inv.CreatedAt.Format("2006-01-02"), inv.DealID, inv.Milestone, inv.Percent, inv.Kind, m.format(inv.Amount))
	}
	return mcp.NewToolResultText(b.String()), nil
}
