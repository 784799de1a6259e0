package stream

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"
	"time"

	"github.com/rzbill/roomledger/internal/eventlog"
	pebblestore "github.com/rzbill/roomledger/internal/storage/pebble"
	"github.com/rzbill/roomledger/pkg/log"
)

var (
	ErrGroupNotFound = errors.New("stream: consumer group not found")
	ErrInvalidID     = errors.New("stream: invalid message id")
)

// Options configures a Stream.
type Options struct {
	Name       string
	Partitions int
	// ClaimIdle is how long a delivered, unacknowledged entry stays with its
	// consumer before Poll hands it out again.
	ClaimIdle time.Duration
	Logger    log.Logger
}

// Message is a single delivered log entry.
type Message struct {
	ID          string
	Partition   uint32
	Seq         uint64
	Payload     []byte
	PublishedAt time.Time
	// Deliveries counts how many times this entry was handed to the group,
	// including the current delivery.
	Deliveries int
}

// Stream is a partitioned append-log with consumer groups, a pending entries
// list per group, acknowledgment and redelivery of idle pending entries.
type Stream struct {
	db        *pebblestore.DB
	name      string
	logs      []*eventlog.Log
	claimIdle time.Duration
	logger    log.Logger
	now       func() time.Time

	// mu serializes cursor and PEL mutations across groups.
	mu sync.Mutex

	notifyMu sync.Mutex
	notify   chan struct{}
	rr       uint32
}

// Open opens (or creates) the named stream with the given partition count.
func Open(db *pebblestore.DB, opts Options) (*Stream, error) {
	if opts.Name == "" {
		return nil, errors.New("stream: name is required")
	}
	if opts.Partitions <= 0 {
		opts.Partitions = 1
	}
	if opts.ClaimIdle <= 0 {
		opts.ClaimIdle = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.NewLogger(log.WithOutput(log.NullOutput{}))
	}
	s := &Stream{
		db:        db,
		name:      opts.Name,
		claimIdle: opts.ClaimIdle,
		logger:    opts.Logger.With(log.Str("stream", opts.Name)),
		now:       time.Now,
		notify:    make(chan struct{}),
	}
	for p := 0; p < opts.Partitions; p++ {
		l, err := eventlog.OpenLog(db, opts.Name, uint32(p))
		if err != nil {
			return nil, err
		}
		s.logs = append(s.logs, l)
	}
	return s, nil
}

// Name returns the stream name.
func (s *Stream) Name() string { return s.name }

// Partitions returns the partition count.
func (s *Stream) Partitions() int { return len(s.logs) }

// PartitionFor maps a routing key onto a partition.
func (s *Stream) PartitionFor(key string) uint32 {
	return crc32.ChecksumIEEE([]byte(key)) % uint32(len(s.logs))
}

// Publish appends fields as one entry routed by key and returns its ID.
func (s *Stream) Publish(ctx context.Context, key string, fields map[string]string) (string, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	return s.PublishRaw(ctx, key, payload)
}

// PublishRaw appends an already encoded payload.
func (s *Stream) PublishRaw(ctx context.Context, key string, payload []byte) (string, error) {
	part := s.PartitionFor(key)
	seqs, err := s.logs[part].Append(ctx, []eventlog.AppendRecord{{
		Header:  encodeHeader(s.now()),
		Payload: payload,
	}})
	if err != nil {
		return "", fmt.Errorf("append %s/%d: %w", s.name, part, err)
	}
	s.wake()
	id := FormatID(part, seqs[0])
	s.logger.Debug("stream.publish", log.Str("id", id), log.Int("bytes", len(payload)))
	return id, nil
}

func (s *Stream) wake() {
	s.notifyMu.Lock()
	close(s.notify)
	s.notify = make(chan struct{})
	s.notifyMu.Unlock()
}

func (s *Stream) waitCh() <-chan struct{} {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	return s.notify
}

func encodeHeader(t time.Time) []byte {
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], uint64(t.UnixMilli()))
	return h[:]
}

// headerTimestamp reads the publish time written by encodeHeader.
func headerTimestamp(h []byte) (int64, bool) {
	if len(h) < 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(h[:8])), true
}

func (s *Stream) message(part uint32, it eventlog.Item, deliveries int) Message {
	m := Message{ID: FormatID(part, it.Seq), Partition: part, Seq: it.Seq, Payload: it.Payload, Deliveries: deliveries}
	if ms, ok := headerTimestamp(it.Header); ok {
		m.PublishedAt = time.UnixMilli(ms).UTC()
	}
	return m
}
