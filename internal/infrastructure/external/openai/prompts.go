package openai

import (
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// PromptConfig holds the prompt and model parameters used by the recommender
type PromptConfig struct {
	Recommend RecommendPrompt `yaml:"recommend"`

	user *template.Template
}

// RecommendPrompt configures the next-transition prompt
type RecommendPrompt struct {
	Temperature  float32 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	System       string  `yaml:"system"`
	UserTemplate string  `yaml:"user_template"`
}

const defaultPrompts = `
recommend:
  temperature: 0.2
  max_tokens: 512
  system: >-
    You advise operators of a business workflow engine. Given the current state of a
    workflow instance and the transitions it may take next, pick the most sensible next
    steps. Only choose from the listed candidates. Respond with a JSON object of the form
    {"suggestions":[{"toState":"<state>","reason":"<one sentence>"}]} ordered best first.
  user_template: |-
    Workflow: {{.Definition}} (entity type {{.EntityType}})
    Current state: {{.CurrentState}}
    Instance context: {{.Context}}
    Entity snapshot: {{.Entity}}
    Recent history:
    {{- range .History}}
    - {{.}}
    {{- else}}
    - (none)
    {{- end}}
    Candidate transitions:
    {{- range .Candidates}}
    - {{.}}
    {{- end}}
    Return at most {{.Limit}} suggestions.
`

// DefaultPrompts returns the built-in prompt set
func DefaultPrompts() *PromptConfig {
	var prompts PromptConfig
	if err := yaml.Unmarshal([]byte(defaultPrompts), &prompts); err != nil {
		panic(fmt.Sprintf("openai: built-in prompts are malformed: %v", err))
	}
	if err := prompts.compile(); err != nil {
		panic(fmt.Sprintf("openai: built-in prompts are malformed: %v", err))
	}
	return &prompts
}

// LoadPrompts overlays a YAML file on the built-in prompts; keys the file
// omits keep their built-in values.
func LoadPrompts(path string) (*PromptConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}

	prompts := DefaultPrompts()
	if err := yaml.Unmarshal(data, prompts); err != nil {
		return nil, fmt.Errorf("decode prompts %s: %w", path, err)
	}
	if err := prompts.compile(); err != nil {
		return nil, fmt.Errorf("prompts %s: %w", path, err)
	}
	return prompts, nil
}

func (p *PromptConfig) compile() error {
	tmpl, err := template.New("recommend").Option("missingkey=error").Parse(p.Recommend.UserTemplate)
	if err != nil {
		return fmt.Errorf("recommend.user_template: %w", err)
	}
	p.user = tmpl
	return nil
}

// renderUser fills the user template with the instance view
func (p *PromptConfig) renderUser(data any) (string, error) {
	if p.user == nil {
		if err := p.compile(); err != nil {
			return "", err
		}
	}
	var sb strings.Builder
	if err := p.user.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render recommend prompt: %w", err)
	}
	return sb.String(), nil
}
