package booking

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rzbill/roomledger/internal/ledger"
)

// EventCreated is the only event type that changes availability.
const EventCreated = "created"

// Wire field names of a booking event.
const (
	FieldBookingID = "bookingId"
	FieldRoomID    = "roomId"
	FieldStartDate = "startDate"
	FieldEndDate   = "endDate"
	FieldEventType = "eventType"
)

// Event is a decoded booking lifecycle event.
type Event struct {
	// BookingID is nil when the field is absent or not a decimal integer.
	BookingID *int64
	RoomID    string
	StartDate time.Time
	EndDate   time.Time
	EventType string
}

// Nights returns the number of calendar days the event covers, inclusive.
func (e Event) Nights() int { return ledger.DaysBetween(e.StartDate, e.EndDate) }

// Fields encodes the event as a flat string map.
func (e Event) Fields() map[string]string {
	f := map[string]string{
		FieldRoomID:    e.RoomID,
		FieldStartDate: ledger.FormatDate(e.StartDate),
		FieldEndDate:   ledger.FormatDate(e.EndDate),
		FieldEventType: e.EventType,
	}
	if e.BookingID != nil {
		f[FieldBookingID] = strconv.FormatInt(*e.BookingID, 10)
	}
	return f
}

// DecodeError reports a payload that cannot be turned into an Event.
// Retrying the same payload cannot succeed.
type DecodeError struct {
	Field string
	Value string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode booking event: %v", e.Err)
	}
	return fmt.Sprintf("decode booking event: %s=%q: %v", e.Field, e.Value, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodePayload decodes a JSON object of string fields.
func DecodePayload(payload []byte) (Event, error) {
	var fields map[string]string
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Event{}, &DecodeError{Err: err}
	}
	return DecodeFields(fields)
}

// DecodeFields decodes a flat field map. bookingId is parsed best-effort;
// roomId, both dates and eventType are required.
func DecodeFields(fields map[string]string) (Event, error) {
	var ev Event
	if raw, ok := fields[FieldBookingID]; ok {
		if id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
			ev.BookingID = &id
		}
	}

	ev.RoomID = strings.TrimSpace(fields[FieldRoomID])
	if ev.RoomID == "" {
		return Event{}, &DecodeError{Field: FieldRoomID, Err: errMissing}
	}
	if strings.Contains(ev.RoomID, "/") {
		return Event{}, &DecodeError{Field: FieldRoomID, Value: ev.RoomID, Err: errSlash}
	}

	var err error
	if ev.StartDate, err = decodeDate(fields, FieldStartDate); err != nil {
		return Event{}, err
	}
	if ev.EndDate, err = decodeDate(fields, FieldEndDate); err != nil {
		return Event{}, err
	}
	if ev.EndDate.Before(ev.StartDate) {
		return Event{}, &DecodeError{Field: FieldEndDate, Value: fields[FieldEndDate], Err: errInverted}
	}

	ev.EventType = strings.TrimSpace(fields[FieldEventType])
	if ev.EventType == "" {
		return Event{}, &DecodeError{Field: FieldEventType, Err: errMissing}
	}
	return ev, nil
}

var (
	errMissing  = errors.New("missing")
	errSlash    = errors.New("must not contain '/'")
	errInverted = errors.New("before startDate")
)

func decodeDate(fields map[string]string, key string) (time.Time, error) {
	raw, ok := fields[key]
	if !ok || strings.TrimSpace(raw) == "" {
		return time.Time{}, &DecodeError{Field: key, Err: errMissing}
	}
	d, err := ledger.ParseDate(strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, &DecodeError{Field: key, Value: raw, Err: err}
	}
	return d, nil
}
