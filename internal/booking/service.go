package booking

import (
	"context"
	"time"

	"github.com/rzbill/roomledger/internal/ledger"
	"github.com/rzbill/roomledger/internal/validate"
	"github.com/rzbill/roomledger/pkg/log"
)

// Publisher appends a flat field map routed by key and returns the message id.
// *stream.Stream and the AMQP publisher both satisfy it.
type Publisher interface {
	Publish(ctx context.Context, key string, fields map[string]string) (string, error)
}

// Service records bookings and announces them on the booking event log.
type Service struct {
	store  *Store
	pub    Publisher
	logger log.Logger
	now    func() time.Time
}

func NewService(store *Store, pub Publisher, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewLogger(log.WithOutput(log.NullOutput{}))
	}
	return &Service{store: store, pub: pub, logger: logger.WithComponent("booking"), now: time.Now}
}

// Create validates and persists a booking, then publishes a "created" event.
// The booking is durable once Create returns without error; a failed publish
// is logged and does not fail the call.
func (s *Service) Create(ctx context.Context, roomID string, start, end time.Time) (Booking, error) {
	roomID, err := validate.RoomID(roomID)
	if err != nil {
		return Booking{}, err
	}
	if err := validate.Range(start, end); err != nil {
		return Booking{}, err
	}
	b, err := s.store.Insert(ctx, Booking{
		RoomID:    roomID,
		StartDate: ledger.FormatDate(start),
		EndDate:   ledger.FormatDate(end),
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return Booking{}, err
	}

	id := b.ID
	ev := Event{
		BookingID: &id,
		RoomID:    roomID,
		StartDate: ledger.Normalize(start),
		EndDate:   ledger.Normalize(end),
		EventType: EventCreated,
	}
	if s.pub == nil {
		return b, nil
	}
	msgID, err := s.pub.Publish(ctx, roomID, ev.Fields())
	if err != nil {
		s.logger.Warn("booking event publish failed",
			log.Int64("bookingId", b.ID), log.Str("roomId", roomID), log.Err(err))
		return b, nil
	}
	s.logger.Debug("booking event published", log.Int64("bookingId", b.ID), log.Str("messageId", msgID))
	return b, nil
}

// ListByRoom returns every booking recorded for roomID, oldest first.
func (s *Service) ListByRoom(_ context.Context, roomID string) ([]Booking, error) {
	roomID, err := validate.RoomID(roomID)
	if err != nil {
		return nil, err
	}
	return s.store.ListByRoom(roomID)
}
