package model

import "time"

// Account owns contacts, attempts and a credit balance
type Account struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Credits   int       `json:"credits"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Mail provider OAuth tokens; never serialized
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	TokenExpiry  *time.Time `json:"-"`
}

// HasMailboxCredentials reports whether the account connected a mailbox
func (a *Account) HasMailboxCredentials() bool {
	return a.RefreshToken != "" || a.AccessToken != ""
}

// CreditKind classifies a ledger entry
type CreditKind string

const (
	CreditKindGrant      CreditKind = "grant"
	CreditKindPurchase   CreditKind = "purchase"
	CreditKindDraftDebit CreditKind = "draft_debit"
)

// CreditTransaction is one row of the credit ledger. Amount is negative for debits.
type CreditTransaction struct {
	ID           string     `json:"id"`
	AccountID    string     `json:"accountId"`
	Kind         CreditKind `json:"kind"`
	Amount       int        `json:"amount"`
	BalanceAfter int        `json:"balanceAfter"`
	Reference    string     `json:"reference,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}
