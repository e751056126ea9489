package skills

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var promptsYAML []byte

type promptCatalog struct {
	Persona     string            `yaml:"persona"`
	Weather     string            `yaml:"weather"`
	News        string            `yaml:"news"`
	Search      string            `yaml:"search"`
	TaskCreated string            `yaml:"task_created"`
	TaskFailed  string            `yaml:"task_failed"`
	Fallback    map[string]string `yaml:"fallback"`
}

// Prompts holds the parsed prompt catalog.
type Prompts struct {
	persona   string
	templates map[string]*template.Template
	fallback  map[string]string
}

type promptData struct {
	Utterance string
	Subject   string
	Data      string
}

// DefaultPrompts parses the embedded catalog.
func DefaultPrompts() (*Prompts, error) {
	return ParsePrompts(promptsYAML)
}

// ParsePrompts parses a YAML catalog with the same shape as prompts.yaml.
func ParsePrompts(raw []byte) (*Prompts, error) {
	var cat promptCatalog
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	p := &Prompts{
		persona:   strings.TrimSpace(cat.Persona),
		templates: map[string]*template.Template{},
		fallback:  cat.Fallback,
	}
	for name, body := range map[string]string{
		"weather":      cat.Weather,
		"news":         cat.News,
		"search":       cat.Search,
		"task_created": cat.TaskCreated,
		"task_failed":  cat.TaskFailed,
	} {
		if strings.TrimSpace(body) == "" {
			return nil, fmt.Errorf("parse prompts: %s template is empty", name)
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(body)
		if err != nil {
			return nil, fmt.Errorf("parse prompts: %s: %w", name, err)
		}
		p.templates[name] = tmpl
	}
	for _, c := range []Capability{Weather, News, Search, Tasks} {
		if strings.TrimSpace(p.fallback[c.String()]) == "" {
			return nil, fmt.Errorf("parse prompts: fallback.%s is empty", c)
		}
	}
	return p, nil
}

// Persona is the system instruction for every chat.
func (p *Prompts) Persona() string {
	return p.persona
}

// Fallback is the fixed text used when a capability fails.
func (p *Prompts) Fallback(c Capability) string {
	return p.fallback[c.String()]
}

func (p *Prompts) render(name, utterance, subject, data string) string {
	tmpl, ok := p.templates[name]
	if !ok {
		return utterance
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, promptData{Utterance: utterance, Subject: subject, Data: data}); err != nil {
		return utterance
	}
	return strings.TrimSpace(b.String())
}
