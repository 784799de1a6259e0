package eventlog

import (
	"context"
	"time"

	"github.com/cockroachdb/pebble"
)

// HeaderTimestampExtractor extracts a write timestamp (ms) from an event header.
// Returns (ms, true) if present and valid.
type HeaderTimestampExtractor func(header []byte) (int64, bool)

// TrimOlderThan deletes entries with header timestamp < cutoffMs, oldest first,
// stopping at the first entry that is newer than the cutoff or for which keep
// returns true. keep may be nil.
// Deletes are committed in batches of up to batchLimit keys with an optional throttle between commits.
// Returns number of deleted entries and the last deleted sequence (0 if none).
func (l *Log) TrimOlderThan(ctx context.Context, cutoffMs int64, batchLimit int, throttle time.Duration, tsx HeaderTimestampExtractor, keep func(seq uint64) bool) (int, uint64, error) {
	if batchLimit <= 0 {
		batchLimit = 1024
	}

	low := KeyLogEntry(l.topic, l.part, 0)
	hi := KeyLogEntry(l.topic, l.part, ^uint64(0))
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return 0, 0, err
	}
	defer iter.Close()

	deleted := 0
	var lastSeq uint64
	for ok := iter.First(); ok; {
		b := l.db.NewBatch()
		n := 0
		for ok && n < batchLimit {
			seq := seqFromEntryKey(iter.Key())
			dec, err := decodeRecord(iter.Value())
			if err != nil {
				ok = false
				break
			}
			ms, okTs := tsx(dec.Header)
			if !okTs || ms >= cutoffMs || (keep != nil && keep(seq)) {
				ok = false
				break
			}
			if err := b.Delete(iter.Key(), nil); err != nil {
				b.Close()
				return deleted, lastSeq, err
			}
			deleted++
			lastSeq = seq
			n++
			ok = iter.Next()
		}
		if n == 0 {
			b.Close()
			break
		}
		if err := l.db.CommitBatch(ctx, b); err != nil {
			b.Close()
			return deleted, lastSeq, err
		}
		b.Close()
		if throttle > 0 {
			time.Sleep(throttle)
		}
	}
	return deleted, lastSeq, nil
}
