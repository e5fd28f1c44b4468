// Package uuid provides time-ordered identifiers for queued actions.
package uuid

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// UUID v7 format: xxxxxxxx-xxxx-7xxx-yxxx-xxxxxxxxxxxx
// where y is one of [8, 9, a, b] (variant bits)
var uuidV7Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-7[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New generates a new UUID v7. IDs generated in one process sort in
// creation order.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		// v7 only fails when the random source fails
		return uuid.New().String()
	}
	return id.String()
}

// Validate returns an error if s is not a UUID v7. Action IDs double as
// idempotency keys, so anything else is refused.
func Validate(s string) error {
	if !uuidV7Regex.MatchString(s) {
		return fmt.Errorf("invalid UUID v7 format: %q", s)
	}
	return nil
}
