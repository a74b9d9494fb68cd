package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/HendryAvila/solarcrm/internal/pipeline"
)

func TestDefaultTemplates_ContainsMilestoneStages(t *testing.T) {
	tmpl, err := DefaultTemplates()
	if err != nil {
		t.Fatalf("DefaultTemplates: %v", err)
	}
	if len(tmpl.Categories) != 1 || tmpl.Categories[0].Name != "Photovoltaik" {
		t.Fatalf("categories = %+v", tmpl.Categories)
	}
	pv := tmpl.Categories[0].Pipelines[0]
	var names []string
	for _, st := range pv.Stages {
		names = append(names, st.Name)
	}
	stages := strings.Join(names, "|")
	for _, want := range []string{"Netzanfrage", "Netzbestätigung", "Warenversand", "Montage abgeschlossen"} {
		if !strings.Contains(stages, want) {
			t.Errorf("default pipeline lacks stage %q", want)
		}
	}
}

func TestLoadTemplates_EmptyPathUsesDefault(t *testing.T) {
	tmpl, err := LoadTemplates("")
	if err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}
	if len(tmpl.Categories) == 0 {
		t.Error("no categories")
	}
}

func TestLoadTemplates_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipelines.yaml")
	body := `
categories:
  - name: Wärmepumpen
    pipelines:
      - name: WP
        stages: [Lead, Warenversand, Montage abgeschlossen]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	tmpl, err := LoadTemplates(path)
	if err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}
	p := tmpl.Categories[0].Pipelines[0]
	if p.Name != "WP" || len(p.Stages) != 3 {
		t.Errorf("pipeline = %+v", p)
	}
}

func TestParseTemplates_Invalid(t *testing.T) {
	tests := map[string]string{
		"not yaml":         "categories: [",
		"no categories":    "categories: []",
		"unnamed category": "categories:\n  - pipelines: []\n",
		"no stages":        "categories:\n  - name: A\n    pipelines:\n      - name: P\n",
		"duplicate stage":  "categories:\n  - name: A\n    pipelines:\n      - name: P\n        stages: [Lead, Lead]\n",
		"blank stage":      "categories:\n  - name: A\n    pipelines:\n      - name: P\n        stages: [\" \"]\n",
		"bad milestone":    "categories:\n  - name: A\n    pipelines:\n      - name: P\n        stages: [{name: X, milestone: bogus}]\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseTemplates([]byte(body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseTemplates_MixedStageForms(t *testing.T) {
	body := `
categories:
  - name: Speicher
    pipelines:
      - name: Nachrüstung
        stages:
          - Lead
          - name: Lieferung
            milestone: shipment
          - {name: Montage abgeschlossen}
`
	tmpl, err := ParseTemplates([]byte(body))
	if err != nil {
		t.Fatalf("ParseTemplates: %v", err)
	}
	specs := tmpl.Categories[0].Pipelines[0].Specs()
	want := []pipeline.Milestone{pipeline.MilestoneNone, pipeline.MilestoneShipment, pipeline.MilestoneInstallationComplete}
	if len(specs) != len(want) {
		t.Fatalf("specs = %+v", specs)
	}
	for i, sp := range specs {
		if got := sp.ResolvedMilestone(); got != want[i] {
			t.Errorf("stage %q milestone = %s, want %s", sp.Name, got, want[i])
		}
	}
}
