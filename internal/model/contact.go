package model

import "time"

// ContactStatus is display-only after import
type ContactStatus string

const (
	ContactStatusNew       ContactStatus = "new"
	ContactStatusContacted ContactStatus = "contacted"
	ContactStatusReplied   ContactStatus = "replied"
)

// Valid reports whether s is a known contact status
func (s ContactStatus) Valid() bool {
	switch s {
	case ContactStatusNew, ContactStatusContacted, ContactStatusReplied:
		return true
	}
	return false
}

// Contact is an import target owned by one account
type Contact struct {
	ID          string        `json:"id"`
	AccountID   string        `json:"accountId"`
	Name        string        `json:"name"`
	Email       string        `json:"email"`
	Company     string        `json:"company"`
	Role        string        `json:"role"`
	CompanyType string        `json:"companyType,omitempty"`
	Notes       string        `json:"notes,omitempty"`
	Status      ContactStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// ContactRecord is one row supplied by an import source
type ContactRecord struct {
	Name        string `json:"name" validate:"max=255"`
	Email       string `json:"email" validate:"required,email,max=320"`
	Company     string `json:"company" validate:"max=255"`
	Role        string `json:"role" validate:"max=255"`
	CompanyType string `json:"companyType,omitempty" validate:"max=64"`
	Notes       string `json:"notes,omitempty" validate:"max=2000"`
}

// ImportResult summarizes an import; Total == Created + AlreadyPresent
type ImportResult struct {
	Total          int `json:"total"`
	Created        int `json:"created"`
	AlreadyPresent int `json:"alreadyPresent"`
}
