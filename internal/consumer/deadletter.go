package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rzbill/roomledger/internal/eventlog"
	pebblestore "github.com/rzbill/roomledger/internal/storage/pebble"
)

// DeadLetter is a delivery the consumer gave up on.
type DeadLetter struct {
	// Seq is the position in the dead-letter log, assigned on write.
	Seq        uint64    `json:"seq"`
	MessageID  string    `json:"messageId"`
	Group      string    `json:"group"`
	Reason     string    `json:"reason"`
	Error      string    `json:"error"`
	Deliveries int       `json:"deliveries"`
	Payload    string    `json:"payload"`
	DeadAt     time.Time `json:"deadAt"`
}

// DeadLetterSink stores dead letters.
type DeadLetterSink interface {
	Add(ctx context.Context, dl DeadLetter) (uint64, error)
}

// DeadLetters is the dead-letter log of one consumer group, kept on the
// event log topic "dlq/<group>".
type DeadLetters struct {
	log   *eventlog.Log
	group string
	now   func() time.Time
}

// DeadLetterTopic returns the event log topic holding group's dead letters.
func DeadLetterTopic(group string) string { return "dlq/" + group }

// OpenDeadLetters opens the dead-letter log for group.
func OpenDeadLetters(db *pebblestore.DB, group string) (*DeadLetters, error) {
	if group == "" {
		return nil, errors.New("consumer: dead letter group is required")
	}
	l, err := eventlog.OpenLog(db, DeadLetterTopic(group), 0)
	if err != nil {
		return nil, err
	}
	return &DeadLetters{log: l, group: group, now: time.Now}, nil
}

// Add appends dl and returns its sequence.
func (d *DeadLetters) Add(ctx context.Context, dl DeadLetter) (uint64, error) {
	dl.Group = d.group
	if dl.DeadAt.IsZero() {
		dl.DeadAt = d.now().UTC()
	}
	body, err := json.Marshal(dl)
	if err != nil {
		return 0, err
	}
	seqs, err := d.log.Append(ctx, []eventlog.AppendRecord{{Payload: body}})
	if err != nil {
		return 0, fmt.Errorf("append dead letter: %w", err)
	}
	return seqs[0], nil
}

// List returns up to limit dead letters, newest first. limit <= 0 means 100.
func (d *DeadLetters) List(limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	items, _ := d.log.Read(eventlog.ReadOptions{Limit: limit, Reverse: true})
	out := make([]DeadLetter, 0, len(items))
	for _, it := range items {
		var dl DeadLetter
		if err := json.Unmarshal(it.Payload, &dl); err != nil {
			return nil, fmt.Errorf("decode dead letter %d: %w", it.Seq, err)
		}
		dl.Seq = it.Seq
		out = append(out, dl)
	}
	return out, nil
}

// Count returns the number of dead letters ever written.
func (d *DeadLetters) Count() uint64 { return d.log.LastSeq() }
