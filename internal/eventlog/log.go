package eventlog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	pebblestore "github.com/rzbill/roomledger/internal/storage/pebble"
)

// ErrNotFound is returned by Get for a sequence that was never written or has been trimmed.
var ErrNotFound = errors.New("event not found")

// AppendRecord represents a single appendable event.
type AppendRecord struct {
	Header  []byte
	Payload []byte
}

// Log provides append-only operations for a topic/partition.
type Log struct {
	db    *pebblestore.DB
	topic string
	part  uint32

	mu      sync.Mutex
	lastSeq uint64
}

// OpenLog initializes a Log and loads the last sequence from metadata (if any).
func OpenLog(db *pebblestore.DB, topic string, partition uint32) (*Log, error) {
	if topic == "" {
		return nil, errors.New("eventlog: topic is required")
	}
	l := &Log{db: db, topic: topic, part: partition}
	meta, err := db.Get(KeyLogMeta(topic, partition))
	switch {
	case err == nil && len(meta) >= 8:
		l.lastSeq = binary.BigEndian.Uint64(meta[:8])
	case err != nil && !errors.Is(err, pebblestore.ErrNotFound):
		return nil, fmt.Errorf("load log meta %s/%d: %w", topic, partition, err)
	}
	return l, nil
}

// Topic returns the topic name.
func (l *Log) Topic() string { return l.topic }

// Partition returns the partition index.
func (l *Log) Partition() uint32 { return l.part }

// LastSeq returns the highest sequence assigned so far (0 when empty).
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// Append appends the provided records as a single atomic batch. Returns assigned seq numbers.
func (l *Log) Append(ctx context.Context, recs []AppendRecord) ([]uint64, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.db.NewBatch()
	defer b.Close()

	seqs := make([]uint64, len(recs))
	next := l.lastSeq
	for i, r := range recs {
		next++
		if err := b.Set(KeyLogEntry(l.topic, l.part, next), encodeRecord(r.Header, r.Payload), nil); err != nil {
			return nil, err
		}
		seqs[i] = next
	}

	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], next)
	if err := b.Set(KeyLogMeta(l.topic, l.part), meta[:], nil); err != nil {
		return nil, err
	}

	if err := l.db.CommitBatch(ctx, b); err != nil {
		return nil, err
	}
	l.lastSeq = next
	return seqs, nil
}

// Get returns the entry stored at seq.
func (l *Log) Get(seq uint64) (Item, error) {
	v, err := l.db.Get(KeyLogEntry(l.topic, l.part, seq))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, err
	}
	dec, err := decodeRecord(v)
	if err != nil {
		return Item{}, fmt.Errorf("%s/%d/%d: %w", l.topic, l.part, seq, err)
	}
	return Item{Seq: seq, Header: dec.Header, Payload: dec.Payload}, nil
}
