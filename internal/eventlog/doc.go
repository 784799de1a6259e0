// Package eventlog implements the append-only partitioned log that backs the
// booking event stream and its dead-letter topics.
//
// # Overview
//
// Each topic/partition is persisted in Pebble. Keys are lexicographically
// ordered for efficient range scans:
//   - log/{topic}/{part_be4}/m           (partition metadata: lastSeq)
//   - log/{topic}/{part_be4}/e/{seq_be8} (entries)
//   - cursor/{topic}/{group}/{part_be4}  (durable group cursors)
//
// Records are stored as: version | uvarint headerLen | header | payload | crc32c.
//
// API surface (internal)
//
//	l, _ := OpenLog(db, "booking-events", 0)
//	seqs, _ := l.Append(ctx, []AppendRecord{{Header: h, Payload: p}})
//	items, next := l.Read(ReadOptions{Start: TokenFromSeq(seqs[0]), Limit: 100})
//	_ = next // resume position
//	b := db.NewBatch()
//	_ = l.StageCursor(b, "availability", seqs[len(seqs)-1])
//	_ = db.CommitBatch(ctx, b)
//	_, _, _ = l.TrimOlderThan(ctx, cutoffMs, 1024, 0, tsExtractor, nil)
package eventlog
