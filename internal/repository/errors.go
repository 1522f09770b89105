package repository

import (
	"errors"

	"github.com/lib/pq"
)

// Common repository errors
var (
	ErrNotFound            = errors.New("record not found")
	ErrDuplicate           = errors.New("record already exists")
	ErrConflict            = errors.New("record is not in the expected state")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// isUniqueViolation reports whether err is a postgres unique_violation
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
