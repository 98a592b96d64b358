// Package services contains the transfer lifecycle business logic: creation
// orchestration, the download gate, the zip aggregator, and the pending
// reconciliation sweep.
package services

import (
	"strings"

	"github.com/google/uuid"
)

// Identity is the caller's resolved identity. AccountID, when set, comes
// from a verified bearer token only. AnonID is an opaque pseudo-identifier
// used solely for usage accounting; it is never accepted for owner checks
// against account-owned transfers.
type Identity struct {
	AccountID string
	AnonID    string
}

// Anonymous reports whether the caller has no verified account.
func (i Identity) Anonymous() bool { return i.AccountID == "" }

const anonPrefix = "anon-"

// NewAnonID mints a pseudo-identifier for a first-time anonymous sender.
func NewAnonID() string {
	return anonPrefix + uuid.NewString()
}

// ValidAnonID checks the shape of a client-echoed pseudo-identifier so a
// crafted value cannot masquerade as an account id or pollute storage keys.
func ValidAnonID(s string) bool {
	rest, ok := strings.CutPrefix(s, anonPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
