// Package tools implements the MCP tool handlers of the CRM.
//
// Each tool is a struct holding its dependencies, with Definition()
// returning the mcp.Tool schema and Handle() processing a call. Bad input
// and unknown IDs come back as tool errors the model can read and correct;
// anything else is returned as a Go error.
package tools

import (
	"errors"
	"fmt"
	"strings"

	"github.com/HendryAvila/solarcrm/internal/crm"
	"github.com/HendryAvila/solarcrm/internal/crmdb"
	"github.com/HendryAvila/solarcrm/internal/pipeline"
	"github.com/mark3labs/mcp-go/mcp"
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// boolArg extracts a boolean argument from a tool request.
func boolArg(req mcp.CallToolRequest, key string) (value, present bool) {
	v, ok := req.GetArguments()[key].(bool)
	return v, ok
}

// moneyArg reads an amount in currency units (e.g. 12500.50) and returns
// cents.
func moneyArg(req mcp.CallToolRequest, key string) (int64, bool) {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return 0, false
	}
	return crm.ToCents(v), true
}

// userError reports whether err is caused by the caller's input.
func userError(err error) bool {
	for _, target := range []error{
		pipeline.ErrDealNotFound,
		pipeline.ErrStageNotFound,
		pipeline.ErrPipelineNotFound,
		pipeline.ErrCategoryNotFound,
		pipeline.ErrInvalidAmount,
		pipeline.ErrOwnership,
		pipeline.ErrAmbiguousStage,
		pipeline.ErrInvalidMilestone,
		crmdb.ErrNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// result maps a service error to a tool result. User errors become tool
// errors; the rest propagate.
func result(action string, err error) (*mcp.CallToolResult, error) {
	if userError(err) {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", action, err)), nil
	}
	return nil, fmt.Errorf("%s: %w", action, err)
}

type money struct {
	currency string
}

func (m money) format(cents int64) string {
	return crm.FormatMoney(cents, m.currency)
}

func stageLabel(r crm.StageRef) string {
	if r.Milestone == "" || r.Milestone == pipeline.MilestoneNone {
		return r.Name
	}
	return fmt.Sprintf("%s [%s]", r.Name, r.Milestone)
}

func shortDate(d pipeline.Deal) string {
	if d.LastPaymentDate == nil {
		return "-"
	}
	return d.LastPaymentDate.Format("2006-01-02")
}

// splitList splits a comma-separated argument, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
