// Package dedup derives the identity used to collapse repeat imports of the
// same contact within an account.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Normalize lowercases and trims an identity field
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Key returns the dedup key for an (email, company) pair. It depends only on
// its inputs, so it is stable across processes and import order.
func Key(email, company string) string {
	sum := sha256.Sum256([]byte(Normalize(email) + "\x00" + Normalize(company)))
	return hex.EncodeToString(sum[:])
}
