package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/solarcrm/internal/pipeline"
)

//go:embed default_pipelines.yaml
var defaultPipelines []byte

// Templates describes categories and pipelines to create on seeding.
type Templates struct {
	Categories []CategoryTemplate `yaml:"categories"`
}

// CategoryTemplate is one category with its pipelines.
type CategoryTemplate struct {
	Name      string             `yaml:"name"`
	Pipelines []PipelineTemplate `yaml:"pipelines"`
}

// PipelineTemplate is a pipeline with its ordered stages.
type PipelineTemplate struct {
	Name   string          `yaml:"name"`
	Stages []StageTemplate `yaml:"stages"`
}

// StageTemplate is a stage name with an optional milestone tag. In YAML it
// is either a plain string or a {name, milestone} mapping.
type StageTemplate struct {
	Name      string `yaml:"name"`
	Milestone string `yaml:"milestone,omitempty"`
}

// UnmarshalYAML accepts both stage forms.
func (s *StageTemplate) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		s.Name = value.Value
		s.Milestone = ""
		return nil
	}
	type plain StageTemplate
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*s = StageTemplate(p)
	return nil
}

// Stages builds stage templates whose milestones come from their labels.
func Stages(names ...string) []StageTemplate {
	out := make([]StageTemplate, len(names))
	for i, n := range names {
		out[i] = StageTemplate{Name: n}
	}
	return out
}

// Specs converts the stages for the store.
func (p PipelineTemplate) Specs() []pipeline.StageSpec {
	out := make([]pipeline.StageSpec, len(p.Stages))
	for i, st := range p.Stages {
		out[i] = pipeline.StageSpec{
			Name:      strings.TrimSpace(st.Name),
			Milestone: pipeline.Milestone(strings.TrimSpace(st.Milestone)),
		}
	}
	return out
}

// DefaultTemplates returns the built-in photovoltaic pipeline.
func DefaultTemplates() (*Templates, error) {
	return ParseTemplates(defaultPipelines)
}

// LoadTemplates reads templates from path. An empty path returns the
// built-in templates.
func LoadTemplates(path string) (*Templates, error) {
	if path == "" {
		return DefaultTemplates()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	return ParseTemplates(data)
}

// ParseTemplates decodes and validates a YAML template document.
func ParseTemplates(data []byte) (*Templates, error) {
	var t Templates
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks names are present, stage names are unique per pipeline
// and explicit milestones are known.
func (t *Templates) Validate() error {
	if len(t.Categories) == 0 {
		return fmt.Errorf("templates: no categories defined")
	}
	for ci, c := range t.Categories {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("templates: category %d has no name", ci+1)
		}
		for pi, p := range c.Pipelines {
			if strings.TrimSpace(p.Name) == "" {
				return fmt.Errorf("templates: pipeline %d of %q has no name", pi+1, c.Name)
			}
			if len(p.Stages) == 0 {
				return fmt.Errorf("templates: pipeline %q has no stages", p.Name)
			}
			seen := make(map[string]bool, len(p.Stages))
			for _, sp := range p.Specs() {
				if sp.Name == "" {
					return fmt.Errorf("templates: pipeline %q has an empty stage name", p.Name)
				}
				if seen[sp.Name] {
					return fmt.Errorf("templates: pipeline %q lists stage %q twice", p.Name, sp.Name)
				}
				seen[sp.Name] = true
				if err := pipeline.ValidateMilestone(sp.ResolvedMilestone()); err != nil {
					return fmt.Errorf("templates: pipeline %q stage %q: %w", p.Name, sp.Name, err)
				}
			}
		}
	}
	return nil
}
