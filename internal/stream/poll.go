package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rzbill/roomledger/internal/eventlog"
	pebblestore "github.com/rzbill/roomledger/internal/storage/pebble"
	"github.com/rzbill/roomledger/pkg/log"
)

// Poll delivers up to count entries to consumer on behalf of group. Pending
// entries idle for longer than ClaimIdle are redelivered first (to this or any
// other consumer of the group); then entries after the group cursor are
// delivered and recorded as pending. When nothing is available Poll blocks for
// at most wait, returning early on a publish or when ctx is done.
func (s *Stream) Poll(ctx context.Context, group, consumer string, count int, wait time.Duration) ([]Message, error) {
	if count <= 0 {
		count = 1
	}
	deadline := time.Now().Add(wait)
	for {
		ch := s.waitCh()
		msgs, err := s.pollOnce(ctx, group, consumer, count)
		if err != nil || len(msgs) > 0 || wait <= 0 {
			return msgs, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-ch:
			timer.Stop()
		case <-timer.C:
			return s.pollOnce(ctx, group, consumer, count)
		}
	}
}

func (s *Stream) pollOnce(ctx context.Context, group, consumer string, count int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.loadGroup(group); err != nil {
		return nil, err
	}

	now := s.now()
	nowMs := now.UnixMilli()
	b := s.db.NewBatch()
	defer b.Close()
	out := make([]Message, 0, count)

	// Idle pending entries first.
	cutoff := now.Add(-s.claimIdle).UnixMilli()
	var stale []pelItem
	err := s.scanPending(group, func(it pelItem) error {
		if it.rec.LastDeliveryMs <= cutoff {
			stale = append(stale, it)
			if len(stale) >= count {
				return pebblestore.ErrStopScan
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, it := range stale {
		key := s.pelKey(group, it.part, it.seq)
		if int(it.part) >= len(s.logs) {
			_ = b.Delete(key, nil)
			continue
		}
		item, err := s.logs[it.part].Get(it.seq)
		if errors.Is(err, eventlog.ErrNotFound) {
			s.logger.Warn("stream.pending_trimmed", log.Str("group", group), log.Str("id", FormatID(it.part, it.seq)))
			if err := b.Delete(key, nil); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		it.rec.Consumer = consumer
		it.rec.Deliveries++
		it.rec.LastDeliveryMs = nowMs
		if err := b.Set(key, encodePending(it.rec), nil); err != nil {
			return nil, err
		}
		out = append(out, s.message(it.part, item, it.rec.Deliveries))
	}

	// New entries past the group cursor, rotating the first partition visited.
	// Cursor moves commit in the same batch as the PEL entries they create.
	n := uint32(len(s.logs))
	start := s.rr
	s.rr++
	for i := uint32(0); i < n && len(out) < count; i++ {
		l := s.logs[(start+i)%n]
		cur, err := l.Cursor(group)
		if err != nil {
			return nil, err
		}
		from := cur + 1
		items, _ := l.Read(eventlog.ReadOptions{Start: eventlog.TokenFromSeq(from), Limit: count - len(out)})
		for _, it := range items {
			rec := pendingRecord{Consumer: consumer, Deliveries: 1, LastDeliveryMs: nowMs}
			if err := b.Set(s.pelKey(group, l.Partition(), it.Seq), encodePending(rec), nil); err != nil {
				return nil, err
			}
			out = append(out, s.message(l.Partition(), it, 1))
		}
		if len(items) > 0 {
			if err := l.StageCursor(b, group, items[len(items)-1].Seq); err != nil {
				return nil, fmt.Errorf("advance cursor %s/%d: %w", group, l.Partition(), err)
			}
		}
	}

	if b.Empty() {
		return out, nil
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("record deliveries: %w", err)
	}
	return out, nil
}
