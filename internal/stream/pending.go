package stream

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// pendingRecord is the PEL value for one delivered, unacknowledged entry.
type pendingRecord struct {
	Consumer       string `json:"consumer"`
	Deliveries     int    `json:"deliveries"`
	LastDeliveryMs int64  `json:"lastDeliveryMs"`
}

// PendingEntry describes an entry awaiting acknowledgment.
type PendingEntry struct {
	ID           string    `json:"id"`
	Consumer     string    `json:"consumer"`
	Deliveries   int       `json:"deliveries"`
	LastDelivery time.Time `json:"lastDelivery"`
}

// pelPrefix: stream/{name}/pel/{group}/
func (s *Stream) pelPrefix(group string) []byte {
	return []byte("stream/" + s.name + "/pel/" + group + "/")
}

// pelKey: stream/{name}/pel/{group}/{part_be4}{seq_be8}
func (s *Stream) pelKey(group string, part uint32, seq uint64) []byte {
	k := s.pelPrefix(group)
	var b [12]byte
	binary.BigEndian.PutUint32(b[:4], part)
	binary.BigEndian.PutUint64(b[4:], seq)
	return append(k, b[:]...)
}

func splitPelKey(prefixLen int, k []byte) (uint32, uint64, bool) {
	if len(k) != prefixLen+12 {
		return 0, 0, false
	}
	tail := k[prefixLen:]
	return binary.BigEndian.Uint32(tail[:4]), binary.BigEndian.Uint64(tail[4:]), true
}

type pelItem struct {
	part uint32
	seq  uint64
	rec  pendingRecord
}

func (s *Stream) scanPending(group string, fn func(pelItem) error) error {
	prefix := s.pelPrefix(group)
	return s.db.ScanPrefix(prefix, func(k, v []byte) error {
		part, seq, ok := splitPelKey(len(prefix), k)
		if !ok {
			return nil
		}
		var rec pendingRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("decode pending %s: %w", FormatID(part, seq), err)
		}
		return fn(pelItem{part: part, seq: seq, rec: rec})
	})
}

// Pending lists the group's unacknowledged entries ordered by ID.
func (s *Stream) Pending(ctx context.Context, group string) ([]PendingEntry, error) {
	if _, err := s.loadGroup(group); err != nil {
		return nil, err
	}
	var out []PendingEntry
	err := s.scanPending(group, func(it pelItem) error {
		out = append(out, PendingEntry{
			ID:           FormatID(it.part, it.seq),
			Consumer:     it.rec.Consumer,
			Deliveries:   it.rec.Deliveries,
			LastDelivery: time.UnixMilli(it.rec.LastDeliveryMs).UTC(),
		})
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		pi, si, _ := ParseID(out[i].ID)
		pj, sj, _ := ParseID(out[j].ID)
		if pi != pj {
			return pi < pj
		}
		return si < sj
	})
	return out, err
}

// Ack removes the given entries from the group's pending list and returns how
// many were actually pending.
func (s *Stream) Ack(ctx context.Context, group string, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.loadGroup(group); err != nil {
		return 0, err
	}

	b := s.db.NewBatch()
	defer b.Close()
	acked := 0
	for _, id := range ids {
		part, seq, err := ParseID(id)
		if err != nil {
			return 0, err
		}
		k := s.pelKey(group, part, seq)
		ok, err := s.db.Has(k)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		if err := b.Delete(k, nil); err != nil {
			return 0, err
		}
		acked++
	}
	if acked == 0 {
		return 0, nil
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return 0, fmt.Errorf("ack: %w", err)
	}
	return acked, nil
}

func encodePending(rec pendingRecord) []byte {
	b, _ := json.Marshal(rec)
	return b
}
