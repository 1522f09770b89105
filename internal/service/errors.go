package service

import (
	"errors"
	"fmt"
	"strings"
)

// Outreach lifecycle errors
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountExists       = errors.New("account already exists")
	ErrAttemptNotFound     = errors.New("attempt not found or not in draft state")
	ErrUnsendableAttempt   = errors.New("attempt has no provider draft id and cannot be sent")
	ErrProviderAuth        = errors.New("mail provider authentication failed")
	ErrConcurrentOperation = errors.New("another operation holds this resource, retry later")
	ErrBatchNotFound       = errors.New("batch not found")
	ErrBatchFinished       = errors.New("batch already finished")
	ErrInvalidAmount       = errors.New("credit amount must be positive")
)

// ValidationError rejects input before anything is persisted
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

func validationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Problems: []string{fmt.Sprintf(format, args...)}}
}

// InsufficientCreditsError rejects a drafting run before any side effect
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: %d required, %d available", e.Required, e.Available)
}

// ProviderOperationError is a single draft or send failure at the provider
type ProviderOperationError struct {
	Op  string
	Err error
}

func (e *ProviderOperationError) Error() string {
	return fmt.Sprintf("provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderOperationError) Unwrap() error {
	return e.Err
}
