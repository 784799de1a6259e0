package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	pebblestore "github.com/rzbill/roomledger/internal/storage/pebble"
	"github.com/rzbill/roomledger/pkg/log"
)

// StartPosition selects where a newly created group begins reading.
type StartPosition string

const (
	// StartLatest skips entries appended before the group was created.
	StartLatest StartPosition = "latest"
	// StartEarliest delivers every retained entry.
	StartEarliest StartPosition = "earliest"
)

// ParseStartPosition accepts "latest" (default) or "earliest".
func ParseStartPosition(s string) (StartPosition, error) {
	switch StartPosition(strings.ToLower(strings.TrimSpace(s))) {
	case "", StartLatest:
		return StartLatest, nil
	case StartEarliest:
		return StartEarliest, nil
	default:
		return "", fmt.Errorf("invalid start position %q; use latest|earliest", s)
	}
}

// GroupInfo is the persisted metadata of a consumer group.
type GroupInfo struct {
	Name        string        `json:"name"`
	CreatedAtMs int64         `json:"createdAtMs"`
	Start       StartPosition `json:"start"`
}

func (s *Stream) groupKey(group string) []byte {
	return []byte("stream/" + s.name + "/group/" + group)
}

func (s *Stream) groupPrefix() []byte {
	return []byte("stream/" + s.name + "/group/")
}

// EnsureGroup creates the consumer group if absent. Creating a group that
// already exists is not an error; the stored metadata is returned unchanged
// along with created=false.
func (s *Stream) EnsureGroup(ctx context.Context, group string, start StartPosition) (GroupInfo, bool, error) {
	if group == "" || strings.Contains(group, "/") {
		return GroupInfo{}, false, fmt.Errorf("stream: invalid group name %q", group)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if info, err := s.loadGroup(group); err == nil {
		return info, false, nil
	} else if !errors.Is(err, ErrGroupNotFound) {
		return GroupInfo{}, false, err
	}

	if start == "" {
		start = StartLatest
	}
	info := GroupInfo{Name: group, CreatedAtMs: s.now().UnixMilli(), Start: start}
	b, err := json.Marshal(info)
	if err != nil {
		return GroupInfo{}, false, err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(s.groupKey(group), b, nil); err != nil {
		return GroupInfo{}, false, err
	}
	if start == StartLatest {
		for _, l := range s.logs {
			if err := l.StageCursor(batch, group, l.LastSeq()); err != nil {
				return GroupInfo{}, false, err
			}
		}
	}
	if err := s.db.CommitBatch(ctx, batch); err != nil {
		return GroupInfo{}, false, fmt.Errorf("create group %s: %w", group, err)
	}
	s.logger.Info("stream.group_created", log.Str("group", group), log.Str("start", string(start)))
	return info, true, nil
}

func (s *Stream) loadGroup(group string) (GroupInfo, error) {
	b, err := s.db.Get(s.groupKey(group))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return GroupInfo{}, fmt.Errorf("%w: %s", ErrGroupNotFound, group)
	}
	if err != nil {
		return GroupInfo{}, err
	}
	var info GroupInfo
	if err := json.Unmarshal(b, &info); err != nil {
		return GroupInfo{}, fmt.Errorf("decode group %s: %w", group, err)
	}
	return info, nil
}

// Groups lists the consumer groups registered on the stream.
func (s *Stream) Groups() ([]GroupInfo, error) {
	var out []GroupInfo
	err := s.db.ScanPrefix(s.groupPrefix(), func(_, v []byte) error {
		var info GroupInfo
		if err := json.Unmarshal(v, &info); err != nil {
			return err
		}
		out = append(out, info)
		return nil
	})
	return out, err
}
