package reconcile

import (
	"errors"
	"fmt"

	"github.com/rzbill/roomledger/internal/ledger"
)

// ErrRetriesExhausted reports that every conditional write attempt for a day
// lost to a concurrent writer. It wraps ledger.ErrVersionConflict.
var ErrRetriesExhausted = fmt.Errorf("reconcile: retries exhausted: %w", ledger.ErrVersionConflict)

// ReconciliationError is fatal for the message being reconciled. The message
// must stay unacknowledged so the log redelivers it.
type ReconciliationError struct {
	MessageID string
	RoomID    string
	// Date is empty when the failure is not tied to a single day.
	Date     string
	Attempts int
	Err      error
}

func (e *ReconciliationError) Error() string {
	if e.Date == "" {
		return fmt.Sprintf("reconcile %s room=%s: %v", e.MessageID, e.RoomID, e.Err)
	}
	return fmt.Sprintf("reconcile %s room=%s date=%s after %d attempt(s): %v",
		e.MessageID, e.RoomID, e.Date, e.Attempts, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// IsRetriesExhausted reports whether err stems from running out of attempts.
func IsRetriesExhausted(err error) bool { return errors.Is(err, ErrRetriesExhausted) }
