// Package mailer is the boundary to the mail provider that holds drafts.
// Drafts and messages are referenced only by provider-assigned ids.
package mailer

import (
	"context"
	"errors"

	"github.com/outreachpro/outreach/internal/model"
)

var (
	// ErrNotAuthenticated means no usable session could be established
	ErrNotAuthenticated = errors.New("mail provider authentication failed")
	// ErrEmptyResponse means the provider accepted the call but returned no id
	ErrEmptyResponse = errors.New("mail provider returned no id")
)

// Attachment is a file added to every drafted message
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Draft is the content of one provider-side draft
type Draft struct {
	To          string
	ToName      string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Mailbox is an authenticated session on one account's mailbox
type Mailbox interface {
	// CreateDraft stores a draft and returns its provider id
	CreateDraft(ctx context.Context, d Draft) (string, error)
	// SendDraft sends a stored draft and returns the provider message id
	SendDraft(ctx context.Context, draftID string) (string, error)
	// DeleteDraft removes a draft that will never be sent
	DeleteDraft(ctx context.Context, draftID string) error
}

// Provider opens mailbox sessions
type Provider interface {
	Authenticate(ctx context.Context, account *model.Account) (Mailbox, error)
}
