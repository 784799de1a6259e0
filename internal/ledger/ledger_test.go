package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	pebblestore "github.com/rzbill/roomledger/internal/storage/pebble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// backends returns every Store implementation opened on fresh storage.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })

	return map[string]Store{"pebble": NewPebbleStore(db), "sqlite": sq}
}

func TestConditionalWriteVersions(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			d := day("2025-01-01")

			_, ok, err := s.Get(ctx, "deluxe-101", d)
			require.NoError(t, err)
			assert.False(t, ok)

			res, err := s.ConditionalWrite(ctx, Day{RoomID: "deluxe-101", Date: d, Capacity: 5, Booked: 1}, 0, nil)
			require.NoError(t, err)
			assert.Equal(t, WriteOK, res)

			got, ok, err := s.Get(ctx, "deluxe-101", d)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, uint64(1), got.Version)
			assert.Equal(t, 1, got.Booked)
			assert.Equal(t, 5, got.Capacity)

			// stale insert of a row that now exists
			res, err = s.ConditionalWrite(ctx, Day{RoomID: "deluxe-101", Date: d, Capacity: 5, Booked: 1}, 0, nil)
			require.NoError(t, err)
			assert.Equal(t, WriteVersionConflict, res)

			// stale update
			res, err = s.ConditionalWrite(ctx, Day{RoomID: "deluxe-101", Date: d, Capacity: 5, Booked: 9}, 7, nil)
			require.NoError(t, err)
			assert.Equal(t, WriteVersionConflict, res)

			got.Booked++
			res, err = s.ConditionalWrite(ctx, got, got.Version, nil)
			require.NoError(t, err)
			assert.Equal(t, WriteOK, res)

			got, _, err = s.Get(ctx, "deluxe-101", d)
			require.NoError(t, err)
			assert.Equal(t, uint64(2), got.Version)
			assert.Equal(t, 2, got.Booked)
		})
	}
}

func TestGetRangeOrderedAndBounded(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, ds := range []string{"2025-01-03", "2025-01-01", "2025-01-02", "2025-01-05"} {
				_, err := s.ConditionalWrite(ctx, Day{RoomID: "deluxe-101", Date: day(ds), Capacity: 5, Booked: 1}, 0, nil)
				require.NoError(t, err)
			}
			_, err := s.ConditionalWrite(ctx, Day{RoomID: "deluxe-1010", Date: day("2025-01-02"), Capacity: 5, Booked: 1}, 0, nil)
			require.NoError(t, err)

			rows, err := s.GetRange(ctx, "deluxe-101", day("2025-01-01"), day("2025-01-03"))
			require.NoError(t, err)
			require.Len(t, rows, 3)
			for i, want := range []string{"2025-01-01", "2025-01-02", "2025-01-03"} {
				assert.Equal(t, want, FormatDate(rows[i].Date))
				assert.Equal(t, "deluxe-101", rows[i].RoomID)
			}

			rows, err = s.GetRange(ctx, "deluxe-101", day("2025-01-04"), day("2025-01-04"))
			require.NoError(t, err)
			assert.Empty(t, rows)
		})
	}
}

func TestAppliedMarkCommittedWithRow(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := Mark{Group: "availability", MessageID: "0-1"}
			d := day("2025-01-01")

			ok, err := s.Applied(ctx, m, "deluxe-101", d)
			require.NoError(t, err)
			assert.False(t, ok)

			res, err := s.ConditionalWrite(ctx, Day{RoomID: "deluxe-101", Date: d, Capacity: 5, Booked: 1}, 0, &m)
			require.NoError(t, err)
			require.Equal(t, WriteOK, res)

			ok, err = s.Applied(ctx, m, "deluxe-101", d)
			require.NoError(t, err)
			assert.True(t, ok)

			// a losing write records no mark
			other := Mark{Group: "availability", MessageID: "0-2"}
			res, err = s.ConditionalWrite(ctx, Day{RoomID: "deluxe-101", Date: d, Capacity: 5, Booked: 2}, 0, &other)
			require.NoError(t, err)
			require.Equal(t, WriteVersionConflict, res)
			ok, err = s.Applied(ctx, other, "deluxe-101", d)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestConditionalWriteRefusesAppliedMark(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := Mark{Group: "availability", MessageID: "0-7"}
			d := day("2025-01-01")

			res, err := s.ConditionalWrite(ctx, Day{RoomID: "deluxe-101", Date: d, Capacity: 5, Booked: 1}, 0, &m)
			require.NoError(t, err)
			require.Equal(t, WriteOK, res)

			// same mark at the current version: the version check alone would pass
			res, err = s.ConditionalWrite(ctx, Day{RoomID: "deluxe-101", Date: d, Capacity: 5, Booked: 2}, 1, &m)
			require.NoError(t, err)
			assert.Equal(t, WriteAlreadyApplied, res)
			assert.Equal(t, "already_applied", res.String())

			got, ok, err := s.Get(ctx, "deluxe-101", d)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 1, got.Booked)
			assert.Equal(t, uint64(1), got.Version)

			// unmarked writes are unaffected
			res, err = s.ConditionalWrite(ctx, Day{RoomID: "deluxe-101", Date: d, Capacity: 5, Booked: 2}, 1, nil)
			require.NoError(t, err)
			assert.Equal(t, WriteOK, res)
		})
	}
}

func TestDedupInsertIfAbsent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ok, err := s.Exists(ctx, "availability", "1700000000-0")
			require.NoError(t, err)
			assert.False(t, ok)

			res, err := s.Insert(ctx, "availability", "1700000000-0")
			require.NoError(t, err)
			assert.Equal(t, Inserted, res)

			res, err = s.Insert(ctx, "availability", "1700000000-0")
			require.NoError(t, err)
			assert.Equal(t, AlreadyExists, res)

			ok, err = s.Exists(ctx, "availability", "1700000000-0")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.Exists(ctx, "other-group", "1700000000-0")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestConcurrentDedupInsertHasOneWinner(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			const n = 16
			var wg sync.WaitGroup
			results := make(chan InsertResult, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := s.Insert(context.Background(), "availability", "0-42")
					assert.NoError(t, err)
					results <- res
				}()
			}
			wg.Wait()
			close(results)
			inserted := 0
			for r := range results {
				if r == Inserted {
					inserted++
				}
			}
			assert.Equal(t, 1, inserted)
		})
	}
}

func TestConcurrentIncrementsLoseNothing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			d := day("2025-01-01")
			const writers = 8
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						cur, ok, err := s.Get(ctx, "deluxe-101", d)
						if !assert.NoError(t, err) {
							return
						}
						if !ok {
							cur = Day{RoomID: "deluxe-101", Date: d, Capacity: 5}
						}
						expected := cur.Version
						cur.Booked++
						res, err := s.ConditionalWrite(ctx, cur, expected, nil)
						if !assert.NoError(t, err) || res == WriteOK {
							return
						}
					}
				}()
			}
			wg.Wait()
			got, ok, err := s.Get(ctx, "deluxe-101", d)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, writers, got.Booked)
			assert.Equal(t, uint64(writers), got.Version)
		})
	}
}

func TestSweepRemovesOldRecords(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			setNow(s, base)
			_, err := s.Insert(ctx, "availability", "old")
			require.NoError(t, err)
			m := Mark{Group: "availability", MessageID: "old"}
			_, err = s.ConditionalWrite(ctx, Day{RoomID: "r", Date: day("2025-02-01"), Capacity: 5, Booked: 1}, 0, &m)
			require.NoError(t, err)

			setNow(s, base.Add(48*time.Hour))
			_, err = s.Insert(ctx, "availability", "new")
			require.NoError(t, err)

			stats, err := s.Sweep(ctx, base.Add(24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, SweepStats{Dedup: 1, Applied: 1}, stats)

			ok, err := s.Exists(ctx, "availability", "old")
			require.NoError(t, err)
			assert.False(t, ok)
			ok, err = s.Exists(ctx, "availability", "new")
			require.NoError(t, err)
			assert.True(t, ok)

			// rows themselves are never swept
			_, ok, err = s.Get(ctx, "r", day("2025-02-01"))
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestSeedCapacityKeepsBooked(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			d := day("2025-01-01")
			_, err := s.ConditionalWrite(ctx, Day{RoomID: "deluxe-101", Date: d, Capacity: 5, Booked: 3}, 0, nil)
			require.NoError(t, err)
			require.NoError(t, SeedCapacity(ctx, s, "deluxe-101", d, 10, 3))
			got, _, err := s.Get(ctx, "deluxe-101", d)
			require.NoError(t, err)
			assert.Equal(t, 10, got.Capacity)
			assert.Equal(t, 3, got.Booked)
		})
	}
}

func TestSQLiteCloseIdempotent(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestEachDay(t *testing.T) {
	var got []string
	require.NoError(t, EachDay(day("2024-12-30"), day("2025-01-02"), func(d time.Time) error {
		got = append(got, FormatDate(d))
		return nil
	}))
	assert.Equal(t, []string{"2024-12-30", "2024-12-31", "2025-01-01", "2025-01-02"}, got)
	assert.Equal(t, 4, DaysBetween(day("2024-12-30"), day("2025-01-02")))
	assert.Equal(t, 0, DaysBetween(day("2025-01-02"), day("2025-01-01")))
}

func setNow(s Store, t time.Time) {
	switch st := s.(type) {
	case *PebbleStore:
		st.now = func() time.Time { return t }
	case *SQLiteStore:
		st.now = func() time.Time { return t }
	}
}
