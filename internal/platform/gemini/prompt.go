package gemini

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/phrazzld/contentq/internal/domain"
	"github.com/phrazzld/contentq/internal/generation"
)

//go:embed prompts/*.tmpl
var promptFiles embed.FS

var templateFuncs = template.FuncMap{
	"join": strings.Join,
}

// prompts renders a generation.Request into prompt text.
type prompts struct {
	byType   map[domain.TaskType]*template.Template
	override *template.Template
}

// loadPrompts parses the built-in templates and, when overridePath is set,
// a single template used for every task type.
func loadPrompts(overridePath string) (*prompts, error) {
	p := &prompts{byType: make(map[domain.TaskType]*template.Template)}
	for _, tt := range []domain.TaskType{domain.TaskTypeArticle, domain.TaskTypeSocial} {
		name := string(tt) + ".tmpl"
		tmpl, err := template.New(name).Funcs(templateFuncs).ParseFS(promptFiles, "prompts/"+name)
		if err != nil {
			return nil, fmt.Errorf("%w: parse built-in prompt %s: %v", generation.ErrInvalidConfig, name, err)
		}
		p.byType[tt] = tmpl
	}

	if overridePath == "" {
		return p, nil
	}
	content, err := os.ReadFile(overridePath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read prompt template from %s: %v",
			generation.ErrInvalidConfig, overridePath, err)
	}
	p.override, err = template.New("override").Funcs(templateFuncs).Option("missingkey=error").Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt template: %v", generation.ErrInvalidConfig, err)
	}
	return p, nil
}

// render returns the prompt for req.
func (p *prompts) render(req generation.Request) (string, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return "", generation.ErrEmptyTopic
	}

	tmpl := p.override
	if tmpl == nil {
		tmpl = p.byType[req.Type]
	}
	if tmpl == nil {
		tmpl = p.byType[domain.TaskTypeArticle]
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, req); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
