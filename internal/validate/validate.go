// Package validate holds request validation shared by the read API and the
// booking producer.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rzbill/roomledger/internal/ledger"
)

// Error rejects a caller-supplied value. It is never retried.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Reason) }

// IsValidation reports whether err is (or wraps) a validation Error.
func IsValidation(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}

// RoomID rejects blank room identifiers and ones containing '/'.
func RoomID(roomID string) (string, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return "", &Error{Field: "roomId", Reason: "is required"}
	}
	if strings.Contains(roomID, "/") {
		return "", &Error{Field: "roomId", Reason: "must not contain '/'"}
	}
	return roomID, nil
}

// Date parses a required ISO-8601 calendar date.
func Date(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, &Error{Field: field, Reason: "is required"}
	}
	d, err := ledger.ParseDate(value)
	if err != nil {
		return time.Time{}, &Error{Field: field, Reason: "must be an ISO-8601 date (YYYY-MM-DD)"}
	}
	return d, nil
}

// DateRange parses both dates and requires end >= start.
func DateRange(start, end string) (time.Time, time.Time, error) {
	s, err := Date("startDate", start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	e, err := Date("endDate", end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if err := Range(s, e); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return s, e, nil
}

// Range requires end >= start.
func Range(start, end time.Time) error {
	if ledger.Normalize(end).Before(ledger.Normalize(start)) {
		return &Error{Field: "endDate", Reason: "must be on or after startDate"}
	}
	return nil
}
