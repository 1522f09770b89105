package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/outreachpro/outreach/internal/config"
	"github.com/outreachpro/outreach/internal/logger"
)

const systemPrompt = `You write short, specific cold outreach emails. Reply with the subject on the
first line as "Subject: <subject>", a blank line, then the body. At most five sentences.
No greetings like "I hope you are well". Sign off with the sender's signature.`

// LLMGenerator asks an OpenAI-compatible chat model for the email. It never
// fails: any error degrades to a fixed fallback so a drafting run is not blocked.
type LLMGenerator struct {
	client         openai.Client
	model          string
	maxTokens      int64
	timeout        time.Duration
	profile        config.ProfileConfig
	attachmentNote string
	log            *logger.Logger
}

// NewLLMGenerator creates an LLMGenerator
func NewLLMGenerator(cfg config.LLMConfig, profile config.ProfileConfig, attachmentNote string, log *logger.Logger) *LLMGenerator {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LLMGenerator{
		client:         openai.NewClient(opts...),
		model:          cfg.Model,
		maxTokens:      cfg.MaxTokens,
		timeout:        timeout,
		profile:        profile,
		attachmentNote: attachmentNote,
		log:            log.WithComponent("llm_generator"),
	}
}

// Generate asks the model for content, falling back on any failure
func (g *LLMGenerator) Generate(ctx context.Context, contact ContactFields, hasAttachments bool) (Content, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(g.prompt(contact)),
		},
	}
	if g.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(g.maxTokens)
	}

	start := time.Now()
	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		g.log.Warn().Err(err).Str("company", contact.Company).Msg("generation failed, using fallback")
		return g.fallback(contact, hasAttachments), nil
	}
	if len(resp.Choices) == 0 {
		g.log.Warn().Str("company", contact.Company).Msg("model returned no choices, using fallback")
		return g.fallback(contact, hasAttachments), nil
	}

	subject, body := splitSubject(resp.Choices[0].Message.Content)
	if subject == "" || body == "" {
		g.log.Warn().Str("company", contact.Company).Msg("model reply missing subject or body, using fallback")
		return g.fallback(contact, hasAttachments), nil
	}

	g.log.Debug().
		Str("company", contact.Company).
		Dur("duration", time.Since(start)).
		Int("subject_length", len(subject)).
		Msg("generated email")

	return Content{Subject: subject, Body: withAttachmentNote(body, g.attachmentNote, hasAttachments)}, nil
}

func (g *LLMGenerator) prompt(c ContactFields) string {
	var sb strings.Builder
	sb.WriteString("Sender:\n")
	fmt.Fprintf(&sb, "- Name: %s\n", g.profile.Name)
	fmt.Fprintf(&sb, "- Headline: %s\n", g.profile.Headline)
	fmt.Fprintf(&sb, "- Summary: %s\n", g.profile.Summary)
	fmt.Fprintf(&sb, "- Signature: %s\n\n", g.profile.Signature)
	sb.WriteString("Recipient:\n")
	fmt.Fprintf(&sb, "- Name: %s (first name: %s)\n", c.Name, c.FirstName())
	fmt.Fprintf(&sb, "- Company: %s\n", c.CompanyOrDefault())
	fmt.Fprintf(&sb, "- Role: %s\n", c.Role)
	if c.CompanyType != "" {
		fmt.Fprintf(&sb, "- Company type: %s\n", c.CompanyType)
	}
	if c.Notes != "" {
		fmt.Fprintf(&sb, "- Notes: %s\n", c.Notes)
	}
	return sb.String()
}

func (g *LLMGenerator) fallback(c ContactFields, hasAttachments bool) Content {
	company := c.CompanyOrDefault()
	signature := g.profile.Signature
	if signature == "" {
		signature = "Best regards"
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Hi %s,\n\n", c.FirstName())
	if g.profile.Name != "" {
		fmt.Fprintf(&body, "I'm %s", g.profile.Name)
		if g.profile.Headline != "" {
			fmt.Fprintf(&body, ", %s", g.profile.Headline)
		}
		body.WriteString(". ")
	}
	fmt.Fprintf(&body, "I'm interested in opportunities at %s and would value a short conversation.\n\n", company)
	body.WriteString(signature)

	return Content{
		Subject: fmt.Sprintf("Opportunities at %s", company),
		Body:    withAttachmentNote(body.String(), g.attachmentNote, hasAttachments),
	}
}
