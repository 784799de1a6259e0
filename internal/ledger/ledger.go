package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrVersionConflict classifies a conditional write that lost a race. Stores
	// report conflicts through WriteResult; callers wrap this error once they
	// give up retrying.
	ErrVersionConflict = errors.New("ledger: version conflict")
	ErrClosed          = errors.New("ledger: store closed")
)

// Day is the availability row for one room on one calendar date.
type Day struct {
	RoomID   string
	Date     time.Time
	Capacity int
	Booked   int
	// Version increases by one on every successful write; 0 means the row has
	// never been written.
	Version uint64
}

// WriteResult is the outcome of a conditional write that did not fail.
type WriteResult int

const (
	WriteOK WriteResult = iota
	WriteVersionConflict
	// WriteAlreadyApplied means the mark was already recorded for the day;
	// nothing was written.
	WriteAlreadyApplied
)

func (r WriteResult) String() string {
	switch r {
	case WriteOK:
		return "ok"
	case WriteVersionConflict:
		return "version_conflict"
	case WriteAlreadyApplied:
		return "already_applied"
	default:
		return fmt.Sprintf("WriteResult(%d)", int(r))
	}
}

// Mark identifies the message on whose behalf a day is written. It is stored
// atomically with the row so a redelivered message can skip days it already
// applied.
type Mark struct {
	Group     string
	MessageID string
}

// Availability is the per-(room, date) counter store.
type Availability interface {
	// Get returns the row and whether it exists.
	Get(ctx context.Context, roomID string, date time.Time) (Day, bool, error)
	// GetRange returns the stored rows for roomID between start and end
	// inclusive, ordered by date. Dates never written are absent.
	GetRange(ctx context.Context, roomID string, start, end time.Time) ([]Day, error)
	// ConditionalWrite stores day with Version expectedVersion+1 if the current
	// version equals expectedVersion (0 for an absent row). A non-nil mark is
	// recorded in the same atomic write; if it is already recorded for the day
	// the write is refused with WriteAlreadyApplied before the version check.
	ConditionalWrite(ctx context.Context, day Day, expectedVersion uint64, mark *Mark) (WriteResult, error)
	// Applied reports whether mark was recorded for (roomID, date).
	Applied(ctx context.Context, mark Mark, roomID string, date time.Time) (bool, error)
}

// InsertResult is the outcome of a dedup insert.
type InsertResult int

const (
	Inserted InsertResult = iota
	AlreadyExists
)

func (r InsertResult) String() string {
	if r == AlreadyExists {
		return "already_exists"
	}
	return "inserted"
}

// Dedup is the set of (consumer group, message ID) pairs already applied.
type Dedup interface {
	Exists(ctx context.Context, group, messageID string) (bool, error)
	// Insert atomically adds the pair if absent.
	Insert(ctx context.Context, group, messageID string) (InsertResult, error)
}

// SweepStats counts records removed by a retention sweep.
type SweepStats struct {
	Dedup   int
	Applied int
}

// Retention removes dedup records and applied marks written before cutoff.
type Retention interface {
	Sweep(ctx context.Context, cutoff time.Time) (SweepStats, error)
}

// Store bundles everything a backend provides.
type Store interface {
	Availability
	Dedup
	Retention
	Close() error
}

// SeedCapacity sets the capacity of (roomID, date), creating the row if needed
// and leaving booked untouched. It retries version conflicts up to attempts times.
func SeedCapacity(ctx context.Context, s Availability, roomID string, date time.Time, capacity, attempts int) error {
	if attempts <= 0 {
		attempts = 3
	}
	date = Normalize(date)
	for i := 0; i < attempts; i++ {
		cur, ok, err := s.Get(ctx, roomID, date)
		if err != nil {
			return err
		}
		if !ok {
			cur = Day{RoomID: roomID, Date: date}
		}
		expected := cur.Version
		cur.Capacity = capacity
		res, err := s.ConditionalWrite(ctx, cur, expected, nil)
		if err != nil {
			return err
		}
		if res == WriteOK {
			return nil
		}
	}
	return fmt.Errorf("seed %s %s: %w", roomID, FormatDate(date), ErrVersionConflict)
}
