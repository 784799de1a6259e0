package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/rzbill/roomledger/internal/storage/pebble"
)

// Keyspace:
//   - avail/{roomId}/{yyyy-mm-dd}                      row (JSON)
//   - dedup/{group}/{messageId}                        processed time (ms, BE8)
//   - applied/{group}/{messageId}/{roomId}/{date}      applied time (ms, BE8)
var (
	availPrefix   = []byte("avail/")
	dedupPrefix   = []byte("dedup/")
	appliedPrefix = []byte("applied/")
)

const lockStripes = 64

type pebbleRow struct {
	Capacity    int    `json:"capacity"`
	Booked      int    `json:"booked"`
	Version     uint64 `json:"version"`
	UpdatedAtMs int64  `json:"updatedAtMs"`
}

// PebbleStore implements Store on a shared Pebble database. Conditional
// writes and dedup inserts are made atomic by per-key striped locks; Pebble
// holds an exclusive lock on its directory so this process is the only writer.
type PebbleStore struct {
	db    *pebblestore.DB
	now   func() time.Time
	locks [lockStripes]sync.Mutex
}

// NewPebbleStore wraps db. The caller keeps ownership of db.
func NewPebbleStore(db *pebblestore.DB) *PebbleStore {
	return &PebbleStore{db: db, now: time.Now}
}

func (s *PebbleStore) lock(key []byte) func() {
	h := fnv.New32a()
	_, _ = h.Write(key)
	m := &s.locks[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

func availKey(roomID string, date time.Time) []byte {
	return []byte(string(availPrefix) + roomID + "/" + FormatDate(date))
}

func dedupKey(group, messageID string) []byte {
	return []byte(string(dedupPrefix) + group + "/" + messageID)
}

func appliedKey(m Mark, roomID string, date time.Time) []byte {
	return []byte(string(appliedPrefix) + m.Group + "/" + m.MessageID + "/" + roomID + "/" + FormatDate(date))
}

func msValue(t time.Time) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(t.UnixMilli()))
	return b[:]
}

func (s *PebbleStore) Get(_ context.Context, roomID string, date time.Time) (Day, bool, error) {
	date = Normalize(date)
	b, err := s.db.Get(availKey(roomID, date))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Day{}, false, nil
	}
	if err != nil {
		return Day{}, false, err
	}
	var row pebbleRow
	if err := json.Unmarshal(b, &row); err != nil {
		return Day{}, false, fmt.Errorf("decode %s %s: %w", roomID, FormatDate(date), err)
	}
	return Day{RoomID: roomID, Date: date, Capacity: row.Capacity, Booked: row.Booked, Version: row.Version}, true, nil
}

func (s *PebbleStore) GetRange(_ context.Context, roomID string, start, end time.Time) ([]Day, error) {
	start, end = Normalize(start), Normalize(end)
	if end.Before(start) {
		return nil, nil
	}
	lo := availKey(roomID, start)
	hi := append(availKey(roomID, end), 0x00)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	prefixLen := len(availPrefix) + len(roomID) + 1
	var out []Day
	for ok := it.First(); ok; ok = it.Next() {
		k := it.Key()
		if len(k) != prefixLen+len(DateLayout) {
			continue
		}
		date, err := ParseDate(string(k[prefixLen:]))
		if err != nil {
			continue
		}
		var row pebbleRow
		if err := json.Unmarshal(it.Value(), &row); err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}
		out = append(out, Day{RoomID: roomID, Date: date, Capacity: row.Capacity, Booked: row.Booked, Version: row.Version})
	}
	return out, it.Error()
}

func (s *PebbleStore) ConditionalWrite(ctx context.Context, day Day, expectedVersion uint64, mark *Mark) (WriteResult, error) {
	day.Date = Normalize(day.Date)
	key := availKey(day.RoomID, day.Date)
	unlock := s.lock(key)
	defer unlock()

	if mark != nil {
		done, err := s.db.Has(appliedKey(*mark, day.RoomID, day.Date))
		if err != nil {
			return 0, err
		}
		if done {
			return WriteAlreadyApplied, nil
		}
	}

	cur, ok, err := s.Get(ctx, day.RoomID, day.Date)
	if err != nil {
		return 0, err
	}
	var curVersion uint64
	if ok {
		curVersion = cur.Version
	}
	if curVersion != expectedVersion {
		return WriteVersionConflict, nil
	}

	now := s.now()
	val, err := json.Marshal(pebbleRow{Capacity: day.Capacity, Booked: day.Booked, Version: expectedVersion + 1, UpdatedAtMs: now.UnixMilli()})
	if err != nil {
		return 0, err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(key, val, nil); err != nil {
		return 0, err
	}
	if mark != nil {
		if err := b.Set(appliedKey(*mark, day.RoomID, day.Date), msValue(now), nil); err != nil {
			return 0, err
		}
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return 0, fmt.Errorf("write %s %s: %w", day.RoomID, FormatDate(day.Date), err)
	}
	return WriteOK, nil
}

func (s *PebbleStore) Applied(_ context.Context, mark Mark, roomID string, date time.Time) (bool, error) {
	return s.db.Has(appliedKey(mark, roomID, Normalize(date)))
}

func (s *PebbleStore) Exists(_ context.Context, group, messageID string) (bool, error) {
	return s.db.Has(dedupKey(group, messageID))
}

func (s *PebbleStore) Insert(ctx context.Context, group, messageID string) (InsertResult, error) {
	key := dedupKey(group, messageID)
	unlock := s.lock(key)
	defer unlock()

	ok, err := s.db.Has(key)
	if err != nil {
		return 0, err
	}
	if ok {
		return AlreadyExists, nil
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(key, msValue(s.now()), nil); err != nil {
		return 0, err
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return 0, fmt.Errorf("dedup insert %s/%s: %w", group, messageID, err)
	}
	return Inserted, nil
}

// Sweep deletes dedup records and applied marks older than cutoff.
func (s *PebbleStore) Sweep(ctx context.Context, cutoff time.Time) (SweepStats, error) {
	var stats SweepStats
	n, err := s.sweepPrefix(ctx, dedupPrefix, cutoff)
	stats.Dedup = n
	if err != nil {
		return stats, err
	}
	n, err = s.sweepPrefix(ctx, appliedPrefix, cutoff)
	stats.Applied = n
	return stats, err
}

func (s *PebbleStore) sweepPrefix(ctx context.Context, prefix []byte, cutoff time.Time) (int, error) {
	const batchLimit = 1024
	cutMs := cutoff.UnixMilli()
	var expired [][]byte
	err := s.db.ScanPrefix(prefix, func(k, v []byte) error {
		if len(v) == 8 && int64(binary.BigEndian.Uint64(v)) < cutMs {
			expired = append(expired, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	deleted := 0
	for len(expired) > 0 {
		n := min(batchLimit, len(expired))
		b := s.db.NewBatch()
		for _, k := range expired[:n] {
			if err := b.Delete(k, nil); err != nil {
				b.Close()
				return deleted, err
			}
		}
		if err := s.db.CommitBatch(ctx, b); err != nil {
			b.Close()
			return deleted, err
		}
		b.Close()
		deleted += n
		expired = expired[n:]
	}
	return deleted, nil
}

// Close is a no-op; the Pebble database belongs to the caller.
func (s *PebbleStore) Close() error { return nil }

var _ Store = (*PebbleStore)(nil)
