package resources

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/HendryAvila/solarcrm/internal/config"
	"github.com/HendryAvila/solarcrm/internal/crm"
	"github.com/HendryAvila/solarcrm/internal/crmdb"
	"github.com/HendryAvila/solarcrm/internal/pipeline"
	"github.com/mark3labs/mcp-go/mcp"
)

func newHandler(t *testing.T) (*Handler, *crm.Service) {
	t.Helper()
	store, err := crmdb.New(crmdb.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	svc := crm.New(store, crm.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	tmpl, err := config.DefaultTemplates()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SeedFromTemplates(context.Background(), tmpl); err != nil {
		t.Fatal(err)
	}
	return NewHandler(svc), svc
}

func readReq(uri string) mcp.ReadResourceRequest {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	return req
}

func text(t *testing.T, contents []mcp.ResourceContents) string {
	t.Helper()
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("content is %T, want TextResourceContents", contents[0])
	}
	return tc.Text
}

func TestBoardResource_Definition(t *testing.T) {
	h, _ := newHandler(t)
	r := h.BoardResource()
	if r.URI != BoardURI {
		t.Errorf("URI = %q, want %q", r.URI, BoardURI)
	}
	if r.MIMEType != "application/json" {
		t.Errorf("MIMEType = %q", r.MIMEType)
	}
}

func TestHandleBoard_ReturnsSummaryJSON(t *testing.T) {
	h, svc := newHandler(t)
	ctx := context.Background()
	b, err := svc.Board(ctx)
	if err != nil {
		t.Fatal(err)
	}
	pv := b.Pipelines[b.Categories[b.CategoryIDs[0]].PipelineIDs[0]]
	if _, err := svc.CreateDeal(ctx, crm.NewDeal{Name: "Dach", Value: 10000, StageID: pv.StageIDs[0]}); err != nil {
		t.Fatal(err)
	}

	contents, err := h.HandleBoard(ctx, readReq(BoardURI))
	if err != nil {
		t.Fatalf("HandleBoard: %v", err)
	}
	var sum crm.Summary
	if err := json.Unmarshal([]byte(text(t, contents)), &sum); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(sum.Pipelines) != 2 {
		t.Errorf("pipelines = %d, want 2", len(sum.Pipelines))
	}
	if sum.Deals != 1 || sum.Value != 10000 {
		t.Errorf("totals = %d deals, %d value", sum.Deals, sum.Value)
	}
	if sum.Currency != "EUR" {
		t.Errorf("currency = %q", sum.Currency)
	}
}

func TestHandleReminders_EmptyIsArray(t *testing.T) {
	h, _ := newHandler(t)
	contents, err := h.HandleReminders(context.Background(), readReq(RemindersURI))
	if err != nil {
		t.Fatal(err)
	}
	var list []pipeline.Reminder
	if err := json.Unmarshal([]byte(text(t, contents)), &list); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("list = %v, want empty array", list)
	}
}
