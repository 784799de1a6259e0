package consumer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rzbill/roomledger/internal/booking"
)

// Decision is what the consumer does with a delivery after handling it.
type Decision int

const (
	// DecisionAck removes the entry from the pending list.
	DecisionAck Decision = iota
	// DecisionRetry leaves the entry pending for redelivery.
	DecisionRetry
	// DecisionDeadLetter records the entry as a dead letter, then acknowledges it.
	DecisionDeadLetter
)

func (d Decision) String() string {
	switch d {
	case DecisionAck:
		return "ack"
	case DecisionRetry:
		return "retry"
	case DecisionDeadLetter:
		return "dead_letter"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Dead letter reasons.
const (
	ReasonDecode        = "decode"
	ReasonMaxDeliveries = "max_deliveries"
)

// Policy decides the fate of a handled delivery.
type Policy struct {
	// MaxDeliveries dead-letters an entry whose handling failed on its Nth
	// delivery. 0 retries forever.
	MaxDeliveries int
}

// Decide maps a handling result to a Decision. A decode error can never
// succeed on redelivery and is dead-lettered at once. Cancellation always
// retries.
func (p Policy) Decide(d Delivery, err error) Decision {
	if err == nil {
		return DecisionAck
	}
	var de *booking.DecodeError
	if errors.As(err, &de) {
		return DecisionDeadLetter
	}
	if errors.Is(err, context.Canceled) {
		return DecisionRetry
	}
	if p.MaxDeliveries > 0 && d.Deliveries >= p.MaxDeliveries {
		return DecisionDeadLetter
	}
	return DecisionRetry
}

// Reason names why a dead-letter decision was taken.
func Reason(err error) string {
	var de *booking.DecodeError
	if errors.As(err, &de) {
		return ReasonDecode
	}
	return ReasonMaxDeliveries
}
