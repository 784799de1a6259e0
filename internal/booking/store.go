package booking

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	pebblestore "github.com/rzbill/roomledger/internal/storage/pebble"
)

// ErrNotFound is returned when a booking id is unknown.
var ErrNotFound = errors.New("booking: not found")

// Keyspace:
//   - booking/seq                      last assigned id (BE8)
//   - booking/b/{id}                   booking (JSON)
//   - booking/room/{roomId}/{id}       empty; indexes bookings by room
var (
	seqKey       = []byte("booking/seq")
	recordPrefix = []byte("booking/b/")
	roomPrefix   = []byte("booking/room/")
)

// Booking is a persisted reservation.
type Booking struct {
	ID        int64     `json:"bookingId"`
	RoomID    string    `json:"roomId"`
	StartDate string    `json:"startDate"`
	EndDate   string    `json:"endDate"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store keeps bookings in Pebble under a monotonically increasing id.
type Store struct {
	db *pebblestore.DB
	mu sync.Mutex
}

func NewStore(db *pebblestore.DB) *Store { return &Store{db: db} }

func recordKey(id int64) []byte {
	k := make([]byte, len(recordPrefix)+8)
	copy(k, recordPrefix)
	binary.BigEndian.PutUint64(k[len(recordPrefix):], uint64(id))
	return k
}

func roomIndexPrefix(roomID string) []byte {
	return []byte(string(roomPrefix) + roomID + "/")
}

func roomIndexKey(roomID string, id int64) []byte {
	p := roomIndexPrefix(roomID)
	k := make([]byte, len(p)+8)
	copy(k, p)
	binary.BigEndian.PutUint64(k[len(p):], uint64(id))
	return k
}

// Insert assigns the next id to b and writes it together with the new sequence
// and its room index entry.
func (s *Store) Insert(ctx context.Context, b Booking) (Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var last uint64
	v, err := s.db.Get(seqKey)
	switch {
	case err == nil && len(v) == 8:
		last = binary.BigEndian.Uint64(v)
	case err == nil, errors.Is(err, pebblestore.ErrNotFound):
	default:
		return Booking{}, fmt.Errorf("read booking seq: %w", err)
	}
	b.ID = int64(last + 1)

	val, err := json.Marshal(b)
	if err != nil {
		return Booking{}, err
	}
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], last+1)

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(seqKey, seq[:], nil); err != nil {
		return Booking{}, err
	}
	if err := batch.Set(recordKey(b.ID), val, nil); err != nil {
		return Booking{}, err
	}
	if err := batch.Set(roomIndexKey(b.RoomID, b.ID), nil, nil); err != nil {
		return Booking{}, err
	}
	if err := s.db.CommitBatch(ctx, batch); err != nil {
		return Booking{}, fmt.Errorf("commit booking: %w", err)
	}
	return b, nil
}

// Get loads one booking.
func (s *Store) Get(id int64) (Booking, error) {
	v, err := s.db.Get(recordKey(id))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Booking{}, ErrNotFound
	}
	if err != nil {
		return Booking{}, err
	}
	var b Booking
	if err := json.Unmarshal(v, &b); err != nil {
		return Booking{}, fmt.Errorf("decode booking %d: %w", id, err)
	}
	return b, nil
}

// ListByRoom returns the bookings of roomID in id order. The result is empty,
// not nil, when the room has none.
func (s *Store) ListByRoom(roomID string) ([]Booking, error) {
	prefix := roomIndexPrefix(roomID)
	out := []Booking{}
	err := s.db.ScanPrefix(prefix, func(key, _ []byte) error {
		if len(key) != len(prefix)+8 {
			return nil
		}
		id := int64(binary.BigEndian.Uint64(key[len(prefix):]))
		b, err := s.Get(id)
		if err != nil {
			return fmt.Errorf("room %s booking %d: %w", roomID, id, err)
		}
		out = append(out, b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
