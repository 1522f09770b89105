// Package generator produces the subject and body of an outreach email.
// Variants are interchangeable and picked by name through a Registry.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/outreachpro/outreach/internal/config"
	"github.com/outreachpro/outreach/internal/logger"
)

// Generator kinds
const (
	KindTemplate = "template"
	KindLLM      = "llm"
)

// ErrUnknownGenerator is returned for a kind with no registered generator
var ErrUnknownGenerator = errors.New("unknown generator")

// ContactFields are the recipient details exposed to generators
type ContactFields struct {
	Name        string
	Email       string
	Company     string
	Role        string
	CompanyType string
	Notes       string
}

// FirstName returns the first word of the name, or "there"
func (c ContactFields) FirstName() string {
	if fields := strings.Fields(c.Name); len(fields) > 0 {
		return fields[0]
	}
	return "there"
}

// CompanyOrDefault returns the company, or "your company"
func (c ContactFields) CompanyOrDefault() string {
	if strings.TrimSpace(c.Company) == "" {
		return "your company"
	}
	return c.Company
}

// Content is a generated email
type Content struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Generator produces content for one contact
type Generator interface {
	Generate(ctx context.Context, contact ContactFields, hasAttachments bool) (Content, error)
}

// Registry resolves generators by kind
type Registry struct {
	generators  map[string]Generator
	defaultKind string
}

// NewRegistry creates a registry. defaultKind must be registered.
func NewRegistry(defaultKind string, generators map[string]Generator) (*Registry, error) {
	if _, ok := generators[defaultKind]; !ok {
		return nil, fmt.Errorf("%w: default %q", ErrUnknownGenerator, defaultKind)
	}
	return &Registry{generators: generators, defaultKind: defaultKind}, nil
}

// New builds the registry from configuration. The template generator is
// always available; the llm generator only when an API key is configured.
func New(cfg config.GeneratorConfig, log *logger.Logger) (*Registry, error) {
	tmpl, err := NewTemplateGenerator(cfg.Template, cfg.Profile)
	if err != nil {
		return nil, err
	}
	generators := map[string]Generator{KindTemplate: tmpl}
	if cfg.LLM.APIKey != "" {
		generators[KindLLM] = NewLLMGenerator(cfg.LLM, cfg.Profile, cfg.Template.AttachmentNote, log)
	}

	defaultKind := cfg.Default
	if defaultKind == "" {
		defaultKind = KindTemplate
	}
	return NewRegistry(defaultKind, generators)
}

// Get returns the generator for kind; an empty kind selects the default
func (r *Registry) Get(kind string) (Generator, error) {
	if kind == "" {
		kind = r.defaultKind
	}
	g, ok := r.generators[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGenerator, kind)
	}
	return g, nil
}

// Kinds lists the registered kinds
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.generators))
	for k := range r.generators {
		kinds = append(kinds, k)
	}
	return kinds
}

// splitSubject pulls the first "Subject:" line out of rendered text.
// Everything after it is the body.
func splitSubject(text string) (subject, body string) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) >= 8 && strings.EqualFold(trimmed[:8], "subject:") {
			return strings.TrimSpace(trimmed[8:]), strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
		}
	}
	return "", strings.TrimSpace(text)
}

func withAttachmentNote(body, note string, hasAttachments bool) string {
	if !hasAttachments || note == "" {
		return body
	}
	return body + "\n\n" + note
}
