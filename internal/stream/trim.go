package stream

import (
	"context"
	"time"
)

// TrimOlderThan deletes log entries published before cutoff that every group
// has already been handed and acknowledged. Returns the number of entries removed.
func (s *Stream) TrimOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	groups, err := s.Groups()
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, l := range s.logs {
		part := l.Partition()
		pending := make(map[uint64]bool)
		minCursor := ^uint64(0)
		for _, g := range groups {
			c, err := l.Cursor(g.Name)
			if err != nil {
				return total, err
			}
			if c < minCursor {
				minCursor = c
			}
			err = s.scanPending(g.Name, func(it pelItem) error {
				if it.part == part {
					pending[it.seq] = true
				}
				return nil
			})
			if err != nil {
				return total, err
			}
		}
		keep := func(seq uint64) bool { return pending[seq] || seq > minCursor }
		n, _, err := l.TrimOlderThan(ctx, cutoff.UnixMilli(), 1024, 0, headerTimestamp, keep)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
