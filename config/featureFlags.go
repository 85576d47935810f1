package config

import (
	"os"
	"strings"
)

// StrictDocImmutability enables fintech-grade guardrails:
// inventory-affecting documents cannot be edited after Received/Confirmed;
// they must be cancelled or returned and recreated.
//
// Set via env:
// - STRICT_INVENTORY_DOC_IMMUTABLE=true
func StrictDocImmutability() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STRICT_INVENTORY_DOC_IMMUTABLE")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// AllocationConflictRetry controls the single automatic retry after a
// posting-lock conflict. Defaults to on.
//
// Set via env:
// - ALLOCATION_CONFLICT_RETRY=false
func AllocationConflictRetry() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ALLOCATION_CONFLICT_RETRY")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
