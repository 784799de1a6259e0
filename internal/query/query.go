// Package query serves the read side: ordered per-day availability for a
// room over a date range.
package query

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rzbill/roomledger/internal/ledger"
	"github.com/rzbill/roomledger/internal/validate"
)

// ValidationError rejects a read request before the ledger is consulted.
type ValidationError = validate.Error

// Row is the external shape of one availability day.
type Row struct {
	RoomID   string `json:"roomId"`
	Date     string `json:"date"`
	Capacity int    `json:"capacity"`
	Booked   int    `json:"booked"`
}

// Service answers availability reads.
type Service struct {
	avail  ledger.Availability
	tracer trace.Tracer
}

func NewService(avail ledger.Availability) *Service {
	return &Service{avail: avail, tracer: otel.Tracer("github.com/rzbill/roomledger/internal/query")}
}

// ListAvailability returns the stored rows for roomID between start and end
// inclusive, in date order. Days never touched by a booking are absent.
func (s *Service) ListAvailability(ctx context.Context, roomID string, start, end time.Time) ([]Row, error) {
	roomID, err := validate.RoomID(roomID)
	if err != nil {
		return nil, err
	}
	if err := validate.Range(start, end); err != nil {
		return nil, err
	}
	ctx, span := s.tracer.Start(ctx, "query.listAvailability", trace.WithAttributes(
		attribute.String("room.id", roomID),
		attribute.String("range.start", ledger.FormatDate(start)),
		attribute.String("range.end", ledger.FormatDate(end)),
	))
	defer span.End()

	days, err := s.avail.GetRange(ctx, roomID, start, end)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	out := make([]Row, 0, len(days))
	for _, d := range days {
		out = append(out, Row{RoomID: d.RoomID, Date: ledger.FormatDate(d.Date), Capacity: d.Capacity, Booked: d.Booked})
	}
	span.SetAttributes(attribute.Int("rows", len(out)))
	return out, nil
}

// ListAvailabilityStrings parses ISO-8601 dates then calls ListAvailability.
// Missing or malformed dates are validation errors.
func (s *Service) ListAvailabilityStrings(ctx context.Context, roomID, start, end string) ([]Row, error) {
	if _, err := validate.RoomID(roomID); err != nil {
		return nil, err
	}
	from, to, err := validate.DateRange(start, end)
	if err != nil {
		return nil, err
	}
	return s.ListAvailability(ctx, roomID, from, to)
}
