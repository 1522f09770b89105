package model

import "time"

// AttemptStatus is the lifecycle state of an outreach attempt.
// Attempts are created in draft; there is no pending state.
type AttemptStatus string

const (
	AttemptStatusDraft  AttemptStatus = "draft"
	AttemptStatusSent   AttemptStatus = "sent"
	AttemptStatusFailed AttemptStatus = "failed"
)

// Valid reports whether s is a known attempt status
func (s AttemptStatus) Valid() bool {
	switch s {
	case AttemptStatusDraft, AttemptStatusSent, AttemptStatusFailed:
		return true
	}
	return false
}

// Attempt is one generated email for one contact. Only the subject is
// retained; the body lives solely in the provider-side draft.
type Attempt struct {
	ID                string        `json:"id"`
	AccountID         string        `json:"accountId"`
	ContactID         string        `json:"contactId"`
	RecipientEmail    string        `json:"recipientEmail"`
	RecipientName     string        `json:"recipientName"`
	Company           string        `json:"company"`
	Subject           string        `json:"subject"`
	Status            AttemptStatus `json:"status"`
	ProviderDraftID   *string       `json:"providerDraftId,omitempty"`
	ProviderMessageID *string       `json:"providerMessageId,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
	SentAt            *time.Time    `json:"sentAt,omitempty"`
}

// Sendable reports whether the provider draft can be re-addressed
func (a *Attempt) Sendable() bool {
	return a.ProviderDraftID != nil && *a.ProviderDraftID != ""
}

// DraftResult summarizes a drafting run; Total == Success + Failed
type DraftResult struct {
	Success          int `json:"success"`
	Failed           int `json:"failed"`
	Total            int `json:"total"`
	Attachments      int `json:"attachments"`
	RemainingCredits int `json:"remainingCredits"`
}

// SendResult describes a completed draft -> sent transition
type SendResult struct {
	AttemptID         string        `json:"attemptId"`
	Status            AttemptStatus `json:"status"`
	SentAt            time.Time     `json:"sentAt"`
	ProviderMessageID string        `json:"providerMessageId"`
}

// Stats is an account overview; Total == Draft + Sent + Failed
type Stats struct {
	Credits  int                   `json:"credits"`
	Total    int                   `json:"total"`
	Draft    int                   `json:"draft"`
	Sent     int                   `json:"sent"`
	Failed   int                   `json:"failed"`
	Contacts map[ContactStatus]int `json:"contacts"`
}

// Preview is generated content that was not drafted
type Preview struct {
	ContactID string `json:"contactId"`
	To        string `json:"to"`
	Name      string `json:"name"`
	Company   string `json:"company"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}
