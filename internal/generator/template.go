package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/outreachpro/outreach/internal/config"
)

const defaultTemplate = `Subject: {{with .Contact.Role}}{{.}} opportunities{{else}}Opportunities{{end}} at {{.Company}}
Hi {{.FirstName}},

{{if .Profile.Name}}I'm {{.Profile.Name}}{{with .Profile.Headline}}, {{.}}{{end}}. {{end}}I'm reaching out about {{with .Contact.Role}}{{.}} roles{{else}}open roles{{end}} at {{.Company}}.
{{with .Profile.Summary}}
{{.}}
{{end}}
Would you be open to a short conversation?

{{with .Profile.Signature}}{{.}}{{else}}Best regards{{end}}`

// TemplateGenerator renders a text/template. Deterministic and offline.
type TemplateGenerator struct {
	tmpl           *template.Template
	profile        config.ProfileConfig
	attachmentNote string
}

type templateData struct {
	Contact   ContactFields
	FirstName string
	Company   string
	Profile   config.ProfileConfig
}

// NewTemplateGenerator parses the configured body, or the built-in one
func NewTemplateGenerator(cfg config.TemplateConfig, profile config.ProfileConfig) (*TemplateGenerator, error) {
	src := cfg.Body
	if strings.TrimSpace(src) == "" {
		src = defaultTemplate
	}
	tmpl, err := template.New("email").Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email template: %w", err)
	}
	return &TemplateGenerator{tmpl: tmpl, profile: profile, attachmentNote: cfg.AttachmentNote}, nil
}

// Generate renders the template for one contact
func (g *TemplateGenerator) Generate(_ context.Context, contact ContactFields, hasAttachments bool) (Content, error) {
	var sb strings.Builder
	err := g.tmpl.Execute(&sb, templateData{
		Contact:   contact,
		FirstName: contact.FirstName(),
		Company:   contact.CompanyOrDefault(),
		Profile:   g.profile,
	})
	if err != nil {
		return Content{}, fmt.Errorf("failed to render template: %w", err)
	}

	subject, body := splitSubject(sb.String())
	if subject == "" {
		return Content{}, errors.New("rendered template has no Subject line")
	}
	return Content{Subject: subject, Body: withAttachmentNote(body, g.attachmentNote, hasAttachments)}, nil
}
