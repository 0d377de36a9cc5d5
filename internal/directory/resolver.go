package directory

import (
	"fmt"

	"chatbi/internal/models"
)

// ErrLimitExceeded is returned when an expanded recipient list is larger
// than the organization's per-schedule maximum.
var ErrLimitExceeded = fmt.Errorf("expanded recipient count exceeds the organization limit")

// Resolver expands group references into deduplicated individual recipients.
type Resolver struct {
	dir Directory
}

func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Expand replaces each group reference with its current user members.
// The result is deduplicated by recipient id, keeping the first occurrence,
// so a user listed individually and again via a group appears once at its
// earliest position. Expanding an already-expanded list is a no-op.
func (r *Resolver) Expand(recipients []models.Recipient) ([]models.Recipient, error) {
	expanded := make([]models.Recipient, 0, len(recipients))
	seen := make(map[string]bool, len(recipients))

	appendUser := func(rcpt models.Recipient) {
		if seen[rcpt.ID] {
			return
		}
		seen[rcpt.ID] = true
		expanded = append(expanded, rcpt)
	}

	for _, rcpt := range recipients {
		if !rcpt.IsGroup() {
			appendUser(rcpt)
			continue
		}
		members, err := r.dir.ResolveGroup(rcpt.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			appendUser(m)
		}
	}
	return expanded, nil
}

// ValidateLimit checks an expanded recipient list against the org maximum.
// A max of zero or less means unlimited.
func ValidateLimit(expanded []models.Recipient, max int) error {
	if max > 0 && len(expanded) > max {
		return fmt.Errorf("%w: %d > %d", ErrLimitExceeded, len(expanded), max)
	}
	return nil
}
