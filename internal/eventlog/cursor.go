package eventlog

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rzbill/roomledger/internal/storage/pebble"
)

// Cursor returns the last sequence handed to group on this partition. A group
// that has not read the partition yet is at 0.
func (l *Log) Cursor(group string) (uint64, error) {
	v, err := l.db.Get(KeyCursor(l.topic, group, l.part))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("eventlog: corrupt cursor %s/%s/%d", l.topic, group, l.part)
	}
	return binary.BigEndian.Uint64(v), nil
}

// StageCursor writes group's cursor into b so it commits together with the
// caller's other writes. Moving the cursor backwards is a no-op.
func (l *Log) StageCursor(b *pebble.Batch, group string, seq uint64) error {
	cur, err := l.Cursor(group)
	if err != nil {
		return err
	}
	if seq <= cur {
		return nil
	}
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], seq)
	return b.Set(KeyCursor(l.topic, group, l.part), v[:], nil)
}
