package history

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound reports that no record exists under the requested id.
// Deleting an absent id reports this too; it is never a crash.
var ErrNotFound = errors.New("history: record not found")

// ErrUnavailable reports a transport-level failure talking to the remote
// history API. Eligible for user-initiated retries only.
var ErrUnavailable = errors.New("history: service unavailable")

// ValidationError reports required record fields that are missing.
// Never retried.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("history: missing required fields: %s", strings.Join(e.Missing, ", "))
}

// validateRecord checks the create preconditions: userId, topic, and
// messages must all be present.
func validateRecord(userID, topic string, exchanges int) error {
	var missing []string
	if userID == "" {
		missing = append(missing, "userId")
	}
	if topic == "" {
		missing = append(missing, "topic")
	}
	if exchanges == 0 {
		missing = append(missing, "messages")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}
