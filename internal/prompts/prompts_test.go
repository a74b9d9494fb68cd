package prompts

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func promptText(t *testing.T, r *mcp.GetPromptResult) string {
	t.Helper()
	if len(r.Messages) == 0 {
		t.Fatal("no messages")
	}
	tc, ok := r.Messages[0].Content.(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T", r.Messages[0].Content)
	}
	return tc.Text
}

func TestStartPrompt(t *testing.T) {
	p := NewStartPrompt()
	if p.Definition().Name != "crm-start" {
		t.Errorf("name = %q", p.Definition().Name)
	}

	req := mcp.GetPromptRequest{}
	req.Params.Arguments = map[string]string{"customer": "Anna Müller"}
	r, err := p.Handle(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	text := promptText(t, r)
	for _, want := range []string{"crm_create_contact", "'Anna Müller'", "Montage abgeschlossen"} {
		if !strings.Contains(text, want) {
			t.Errorf("prompt should mention %q", want)
		}
	}

	r, err = p.Handle(context.Background(), mcp.GetPromptRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(promptText(t, r), "customer's name") {
		t.Error("without a customer the prompt should ask for the name")
	}
}

func TestStatusPrompt(t *testing.T) {
	p := NewStatusPrompt()
	if p.Definition().Name != "crm-status" {
		t.Errorf("name = %q", p.Definition().Name)
	}
	r, err := p.Handle(context.Background(), mcp.GetPromptRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(promptText(t, r), "crm_board") {
		t.Error("status prompt should use crm_board")
	}
}
